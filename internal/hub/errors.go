package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"syscall"
)

var (
	// ErrPermission is returned when the store rejects an action for lack of rights.
	ErrPermission = errors.New("permission denied")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a required row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write loses a version race.
	ErrConflict = errors.New("version conflict")
	// ErrUnsupported is returned by stores that lack an optional operation.
	ErrUnsupported = errors.New("operation not supported")
)

// TransientError marks a failure of the transport rather than of the request.
// Operations failing with a TransientError are safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StoreError is a rejection reported by the remote store.
type StoreError struct {
	Status  int
	Code    string
	Message string
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("store error %d: %s", e.Status, e.Message)
}

// Is maps the store's status and error codes onto the package sentinels.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrPermission:
		return e.Status == 401 || e.Status == 403 || e.Code == "42501"
	case ErrValidation:
		return e.Status == 400 || e.Status == 422 || e.Code == "23503" || e.Code == "23514" || e.Code == "22P02"
	case ErrConflict:
		return e.Status == 409 && e.Code != "23503"
	case ErrNotFound:
		return e.Status == 404
	}
	return false
}

// Transient reports whether the status indicates a temporary condition.
func (e *StoreError) Transient() bool {
	return e.Status == 408 || e.Status == 429 || e.Status >= 500
}

// RowError records the failure of one row in a batch operation.
type RowError struct {
	Family string `json:"family"`
	Row    int    `json:"row"`
	ID     string `json:"id,omitempty"`
	Err    error  `json:"-"`
}

func (e *RowError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s row %d (%s): %v", e.Family, e.Row, e.ID, e.Err)
	}
	return fmt.Sprintf("%s row %d: %v", e.Family, e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// MarshalJSON includes the underlying error message.
func (e *RowError) MarshalJSON() ([]byte, error) {
	type alias RowError
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		*alias
		Error string `json:"error"`
	}{(*alias)(e), msg})
}

// transientPattern matches messages from bindings that do not return typed errors.
var transientPattern = regexp.MustCompile(`(?i)failed to fetch|networkerror|err_name_not_resolved|enotfound|econnreset|etimedout`)

// IsTransient classifies err as a temporary network-layer failure.
// Typed errors are consulted first; message matching is the last resort.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Transient()
	}
	for _, permanent := range []error{ErrPermission, ErrValidation, ErrConflict, ErrNotFound, ErrUnsupported} {
		if errors.Is(err, permanent) {
			return false
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return transientPattern.MatchString(err.Error())
}
