package hub

import (
	"context"
	"fmt"
	"time"
)

// Session is the authenticated session handed out by the identity provider.
type Session struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}

// Identity resolves the acting user. Sign-in and sign-out belong to the
// identity provider and are not modelled here.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, error)
	Session(ctx context.Context) (*Session, error)
}

// StaticIdentity is an Identity fixed at construction, typically from config.
type StaticIdentity struct {
	UserID      string
	AccessToken string
}

var _ Identity = (*StaticIdentity)(nil)

func (s *StaticIdentity) CurrentUserID(context.Context) (string, error) {
	if s.UserID == "" {
		return "", fmt.Errorf("%w: not signed in", ErrPermission)
	}
	return s.UserID, nil
}

func (s *StaticIdentity) Session(ctx context.Context) (*Session, error) {
	id, err := s.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{UserID: id, AccessToken: s.AccessToken}, nil
}
