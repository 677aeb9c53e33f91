// Package session signs users in through an external OpenID Connect provider
// and keeps their sessions.
//
// Sign-in is a two-step flow: BeginSignIn hands out the provider's consent URL
// and CompleteSignIn finishes it when the provider calls back. CurrentUser is
// a cache read and never performs I/O.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSignInCancelled means the user dismissed or abandoned the consent
	// flow. Callers treat it as a non-event.
	ErrSignInCancelled = errors.New("sign-in cancelled")
	ErrSignInFailed    = errors.New("sign-in failed")
	ErrSignOutFailed   = errors.New("sign-out failed")
	ErrNoSession       = errors.New("no session")
	ErrInvalidToken    = errors.New("invalid session token")
)

// Session is a signed-in user.
type Session struct {
	ID          string
	UID         string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Active reports whether the session is still valid at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.UID != "" && now.Before(s.ExpiresAt)
}

// Identity is what a provider vouches for after a successful exchange.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}

// Callback carries the provider's redirect parameters.
type Callback struct {
	State string
	Code  string
	// Error is the OAuth error code, e.g. "access_denied".
	Error string
}

// Provider runs the external consent flow.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Identity, error)
}

// Store persists sessions across process restarts.
type Store interface {
	Save(ctx context.Context, s *Session) error
	// Load returns ErrNoSession when id is unknown.
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}
