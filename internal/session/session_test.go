package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	states    []string
	identity  Identity
	err       error
	exchanges int
	block     chan struct{}
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
	return "https://provider.test/auth?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (Identity, error) {
	p.mu.Lock()
	p.exchanges++
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Identity{}, ctx.Err()
		}
	}
	return p.identity, p.err
}

func (p *fakeProvider) lastState() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[len(p.states)-1]
}

func newTestGateway(t *testing.T) (*Gateway, *fakeProvider, *MemoryStore) {
	t.Helper()
	provider := &fakeProvider{identity: Identity{UID: "uid-1", Email: "ada@example.com", DisplayName: "Ada"}}
	store := NewMemoryStore()
	return NewGateway(provider, store, time.Hour), provider, store
}

func signIn(t *testing.T, gw *Gateway) *Session {
	t.Helper()
	_, state := gw.BeginSignIn()
	s, err := gw.CompleteSignIn(context.Background(), Callback{State: state, Code: "code"})
	require.NoError(t, err)
	return s
}

func TestSignInCreatesCachedSession(t *testing.T) {
	gw, provider, store := newTestGateway(t)

	authURL, state := gw.BeginSignIn()
	assert.Contains(t, authURL, state)
	assert.Equal(t, state, provider.lastState())

	s, err := gw.CompleteSignIn(context.Background(), Callback{State: state, Code: "code"})
	require.NoError(t, err)
	assert.Equal(t, "uid-1", s.UID)
	assert.Equal(t, "Ada", s.DisplayName)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, store.Len())

	current, ok := gw.CurrentUser(s.ID)
	require.True(t, ok)
	assert.Equal(t, s.UID, current.UID)
}

func TestCurrentUserWithoutSession(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	s, ok := gw.CurrentUser("missing")
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestSignInCancelledByUser(t *testing.T) {
	gw, provider, _ := newTestGateway(t)
	_, state := gw.BeginSignIn()

	_, err := gw.CompleteSignIn(context.Background(), Callback{State: state, Error: "access_denied"})
	assert.ErrorIs(t, err, ErrSignInCancelled)
	assert.NotErrorIs(t, err, ErrSignInFailed)
	assert.Zero(t, provider.exchanges)
}

func TestSignInAbandonedContextIsCancellation(t *testing.T) {
	gw, provider, _ := newTestGateway(t)
	provider.block = make(chan struct{})
	_, state := gw.BeginSignIn()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := gw.CompleteSignIn(ctx, Callback{State: state, Code: "code"})
		errs <- err
	}()
	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.exchanges == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errs, ErrSignInCancelled)
}

func TestSignInFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeProvider)
		mutate func(*Callback)
	}{
		{name: "state mismatch", mutate: func(cb *Callback) { cb.State = "forged" }},
		{name: "provider error", mutate: func(cb *Callback) { cb.Error = "server_error" }},
		{name: "missing code", mutate: func(cb *Callback) { cb.Code = "" }},
		{name: "exchange error", setup: func(p *fakeProvider) { p.err = errors.New("popup blocked") }},
		{name: "no subject", setup: func(p *fakeProvider) { p.identity = Identity{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, provider, store := newTestGateway(t)
			if tt.setup != nil {
				tt.setup(provider)
			}
			_, state := gw.BeginSignIn()
			cb := Callback{State: state, Code: "code"}
			if tt.mutate != nil {
				tt.mutate(&cb)
			}

			_, err := gw.CompleteSignIn(context.Background(), cb)
			assert.ErrorIs(t, err, ErrSignInFailed)
			assert.Zero(t, store.Len())
		})
	}
}

func TestStateIsSingleUse(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	_, state := gw.BeginSignIn()
	_, err := gw.CompleteSignIn(context.Background(), Callback{State: state, Code: "code"})
	require.NoError(t, err)

	_, err = gw.CompleteSignIn(context.Background(), Callback{State: state, Code: "code"})
	assert.ErrorIs(t, err, ErrSignInFailed)
}

func TestSignOutClearsLocallyEvenWhenStoreFails(t *testing.T) {
	gw, _, store := newTestGateway(t)
	s := signIn(t, gw)
	store.DeleteErr = errors.New("network down")

	err := gw.SignOut(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrSignOutFailed)
	_, ok := gw.CurrentUser(s.ID)
	assert.False(t, ok)
}

func TestExpiredSessionIsAbsent(t *testing.T) {
	gw, _, store := newTestGateway(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gw.SetClock(func() time.Time { return now })
	s := signIn(t, gw)

	now = now.Add(2 * time.Hour)
	_, ok := gw.CurrentUser(s.ID)
	assert.False(t, ok)

	_, err := gw.Resolve(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, store.Len())
}

func TestResolveWarmsCacheFromStore(t *testing.T) {
	provider := &fakeProvider{identity: Identity{UID: "uid-1"}}
	store := NewMemoryStore()
	first := NewGateway(provider, store, time.Hour)
	s := signIn(t, first)

	restarted := NewGateway(provider, store, time.Hour)
	_, ok := restarted.CurrentUser(s.ID)
	require.False(t, ok)

	resolved, err := restarted.Resolve(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", resolved.UID)

	_, ok = restarted.Bind(s.ID).CurrentUser()
	assert.True(t, ok)

	_, err = restarted.Resolve(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	s := &Session{ID: "sid", UID: "uid", ExpiresAt: time.Now().Add(time.Hour)}

	raw, err := tokens.Issue(s)
	require.NoError(t, err)
	id, uid, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "sid", id)
	assert.Equal(t, "uid", uid)

	_, _, err = NewTokens([]byte("other")).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = tokens.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensExpire(t *testing.T) {
	tokens := NewTokens([]byte("secret"))
	raw, err := tokens.Issue(&Session{ID: "sid", UID: "uid", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, _, err = tokens.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLoopbackSignIn(t *testing.T) {
	gw, provider, _ := newTestGateway(t)
	out := &syncBuffer{}

	type result struct {
		s   *Session
		err error
	}
	results := make(chan result, 1)
	go func() {
		s, err := LoopbackSignIn(context.Background(), gw, "127.0.0.1:0", out)
		results <- result{s, err}
	}()

	const marker = "Waiting for the callback on "
	require.Eventually(t, func() bool { return strings.Contains(out.String(), marker) }, 2*time.Second, 10*time.Millisecond)
	callbackURL := strings.TrimSpace(strings.SplitN(out.String(), marker, 2)[1])

	resp, err := http.Get(callbackURL + "?code=abc&state=" + provider.lastState())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, "uid-1", r.s.UID)
}

func TestLoopbackSignInCancelled(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoopbackSignIn(ctx, gw, "127.0.0.1:0", &syncBuffer{})
	assert.ErrorIs(t, err, ErrSignInCancelled)
}
