package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// CallbackPath is where the provider redirects after consent.
const CallbackPath = "/auth/callback"

// LoopbackSignIn runs the consent flow for a terminal user: it prints the
// provider URL to out and serves a single callback on addr. The provider's
// redirect URL must point at http://<addr>/auth/callback.
func LoopbackSignIn(ctx context.Context, gw *Gateway, addr string, out io.Writer) (*Session, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %w", ErrSignInFailed, addr, err)
	}

	callbacks := make(chan Callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		select {
		case callbacks <- Callback{State: q.Get("state"), Code: q.Get("code"), Error: q.Get("error")}:
			fmt.Fprintln(w, "Sign-in received. You can close this window.")
		default:
			http.Error(w, "sign-in already completed", http.StatusConflict)
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Loopback callback server stopped.", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL, _ := gw.BeginSignIn()
	fmt.Fprintf(out, "Open this URL to sign in:\n\n  %s\n\nWaiting for the callback on http://%s%s\n", authURL, ln.Addr(), CallbackPath)

	select {
	case cb := <-callbacks:
		return gw.CompleteSignIn(ctx, cb)
	case <-ctx.Done():
		return nil, ErrSignInCancelled
	}
}
