package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long a session stays valid after sign-in.
	DefaultTTL = 24 * time.Hour

	pendingTTL = 10 * time.Minute
)

// Gateway owns the sign-in flow and a cache of live sessions.
type Gateway struct {
	provider Provider
	store    Store
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	cache   map[string]*Session
	pending map[string]time.Time
}

// NewGateway returns a gateway. A non-positive ttl selects DefaultTTL.
func NewGateway(provider Provider, store Store, ttl time.Duration) *Gateway {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gateway{
		provider: provider,
		store:    store,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]*Session),
		pending:  make(map[string]time.Time),
	}
}

// SetClock replaces the gateway's time source.
func (g *Gateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// BeginSignIn starts a consent flow and returns the provider URL the user
// must visit and the state value the callback must echo.
func (g *Gateway) BeginSignIn() (authURL, state string) {
	state = uuid.NewString()

	g.mu.Lock()
	now := g.now()
	for s, issued := range g.pending {
		if now.Sub(issued) > pendingTTL {
			delete(g.pending, s)
		}
	}
	g.pending[state] = now
	g.mu.Unlock()

	return g.provider.AuthCodeURL(state), state
}

// CompleteSignIn finishes the flow started by BeginSignIn. A dismissed
// consent screen or a cancelled ctx yields ErrSignInCancelled; every other
// failure wraps ErrSignInFailed.
func (g *Gateway) CompleteSignIn(ctx context.Context, cb Callback) (*Session, error) {
	if !g.consumeState(cb.State) {
		return nil, fmt.Errorf("%w: unknown or expired state", ErrSignInFailed)
	}
	switch {
	case cb.Error == "access_denied":
		return nil, ErrSignInCancelled
	case cb.Error != "":
		return nil, fmt.Errorf("%w: provider returned %s", ErrSignInFailed, cb.Error)
	case ctx.Err() != nil:
		return nil, ErrSignInCancelled
	case cb.Code == "":
		return nil, fmt.Errorf("%w: missing authorization code", ErrSignInFailed)
	}

	identity, err := g.provider.Exchange(ctx, cb.Code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrSignInCancelled
		}
		return nil, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	if identity.UID == "" {
		return nil, fmt.Errorf("%w: provider returned no subject", ErrSignInFailed)
	}

	now := g.clock()
	s := &Session{
		ID:          uuid.NewString(),
		UID:         identity.UID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}
	if err := g.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}

	g.mu.Lock()
	g.cache[s.ID] = s
	g.mu.Unlock()

	slog.Info("User signed in.", "uid", s.UID, "sessionID", s.ID)
	return s, nil
}

// SignOut evicts the session locally and then deletes it from the store. The
// local eviction always happens; a store failure is returned wrapped in
// ErrSignOutFailed.
func (g *Gateway) SignOut(ctx context.Context, id string) error {
	g.mu.Lock()
	delete(g.cache, id)
	g.mu.Unlock()

	if err := g.store.Delete(ctx, id); err != nil {
		slog.Warn("Session delete failed; local session cleared.", "sessionID", id, "error", err)
		return fmt.Errorf("%w: %w", ErrSignOutFailed, err)
	}
	return nil
}

// CurrentUser returns the cached session for id. It never performs I/O and
// reports expired sessions as absent.
func (g *Gateway) CurrentUser(id string) (*Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.cache[id]
	if !ok || !s.Active(g.now()) {
		return nil, false
	}
	copied := *s
	return &copied, true
}

// Resolve returns the session for id, loading it from the store on a cache
// miss. Expired sessions are removed and reported as ErrNoSession.
func (g *Gateway) Resolve(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	if s, ok := g.CurrentUser(id); ok {
		return s, nil
	}

	s, err := g.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if !s.Active(g.clock()) {
		g.mu.Lock()
		delete(g.cache, id)
		g.mu.Unlock()
		if err := g.store.Delete(ctx, id); err != nil {
			slog.Warn("Failed to delete expired session.", "sessionID", id, "error", err)
		}
		return nil, ErrNoSession
	}

	g.mu.Lock()
	g.cache[id] = s
	g.mu.Unlock()
	copied := *s
	return &copied, nil
}

// Binding is a session ID bound to its gateway.
type Binding struct {
	gateway *Gateway
	id      string
}

// Bind returns a no-argument view of CurrentUser for id.
func (g *Gateway) Bind(id string) Binding {
	return Binding{gateway: g, id: id}
}

func (b Binding) CurrentUser() (*Session, bool) {
	return b.gateway.CurrentUser(b.id)
}

func (g *Gateway) consumeState(state string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	issued, ok := g.pending[state]
	if !ok {
		return false
	}
	delete(g.pending, state)
	return g.now().Sub(issued) <= pendingTTL
}

func (g *Gateway) clock() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.now()
}
