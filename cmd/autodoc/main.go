package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/gin-gonic/gin"

	"github.com/Lllllllleong/autodoc/internal/config"
	"github.com/Lllllllleong/autodoc/internal/session"
	"github.com/Lllllllleong/autodoc/internal/web"
)

var (
	shell   http.Handler
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	functions.HTTP("AutoDoc", handleAutoDoc)
}

// main serves the function locally. Deployed functions never call it.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		slog.Error("Function framework exited", "error", err)
		os.Exit(1)
	}
}

func handleAutoDoc(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		shell, initErr = newShell(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: AutoDoc initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	shell.ServeHTTP(w, r)
}

func newShell(ctx context.Context) (http.Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, fetcher, err := cfg.ObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := cfg.SessionStore(ctx)
	if err != nil {
		return nil, err
	}
	gateway, err := cfg.Gateway(ctx, cfg.OIDCRedirectURL, sessions)
	if err != nil {
		return nil, err
	}

	srv := web.NewServer(web.Deps{
		Gateway:        gateway,
		Tokens:         session.NewTokens([]byte(cfg.SessionSecret)),
		Store:          store,
		Fetcher:        fetcher,
		ThumbnailScale: cfg.ThumbnailScale,
		GalleryFanout:  cfg.GalleryFanout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		UploadTimeout:  cfg.UploadTimeout,
		SecureCookies:  cfg.StorageBackend != config.BackendMemory,
	})
	slog.Info("AutoDoc shell initialized.", "storageBackend", cfg.StorageBackend, "sessionStore", cfg.SessionStoreKind)
	return srv.Handler(), nil
}
