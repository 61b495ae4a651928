package app

import (
	"time"

	"github.com/google/uuid"

	"hubsync/internal/hub"
)

// Operation tracks one CLI command. Its ID tags every log line the command
// writes; Finish records how it ended.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string // "running", "success" or "error"
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// NewOperation creates a running operation with a fresh id.
func NewOperation(name, parameters string, clock hub.Clock) *Operation {
	return &Operation{
		ID:         uuid.New().String(),
		Name:       name,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  clock.Now().UTC(),
	}
}

// Finish marks the operation done. A nil err means success.
func (op *Operation) Finish(err error, clock hub.Clock) {
	op.FinishedAt = clock.Now().UTC()
	op.Err = err
	if err != nil {
		op.Status = "error"
		return
	}
	op.Status = "success"
}

// Finished returns true once Finish has been called.
func (op *Operation) Finished() bool {
	return !op.FinishedAt.IsZero()
}

// Duration is the wall time between start and finish.
func (op *Operation) Duration() time.Duration {
	if !op.Finished() {
		return 0
	}
	return op.FinishedAt.Sub(op.StartedAt)
}
