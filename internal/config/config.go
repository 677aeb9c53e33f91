// Package config reads the web shell's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/autodoc/internal/gcp"
	"github.com/Lllllllleong/autodoc/internal/services"
	"github.com/Lllllllleong/autodoc/internal/session"
	"github.com/Lllllllleong/autodoc/internal/thumbnail"
)

// Storage backends.
const (
	BackendGCS    = "gcs"
	BackendMinIO  = "minio"
	BackendMemory = "memory"
)

// Session stores.
const (
	SessionStoreFirestore = "firestore"
	SessionStoreMemory    = "memory"
)

type Config struct {
	ProjectID string
	Port      string

	StorageBackend string
	StorageBucket  string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool

	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	SessionSecret      string
	SessionTTL         time.Duration
	SessionStoreKind   string
	SessionsCollection string
	UploadsCollection  string

	SignedURLTTL   time.Duration
	ThumbnailScale float64
	MaxUploadBytes int64
	GalleryFanout  int
	UploadTimeout  time.Duration
}

// Load reads and validates the web shell configuration.
func Load() (*Config, error) {
	cfg, errs := read()

	switch cfg.SessionStoreKind {
	case SessionStoreFirestore:
		if cfg.ProjectID == "" {
			errs = append(errs, errors.New("PROJECT_ID must be set for the firestore session store"))
		}
	case SessionStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_STORE %q", cfg.SessionStoreKind))
	}
	if len(cfg.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadClient reads the configuration needed by command-line clients, which
// keep their session in memory and never issue cookies.
func LoadClient() (*Config, error) {
	cfg, errs := read()
	cfg.SessionStoreKind = SessionStoreMemory
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func read() (*Config, []error) {
	var errs []error

	cfg := &Config{
		ProjectID:          gcp.GetEnv("PROJECT_ID", ""),
		Port:               gcp.GetEnv("PORT", "8080"),
		StorageBackend:     strings.ToLower(gcp.GetEnv("STORAGE_BACKEND", BackendGCS)),
		StorageBucket:      gcp.GetEnv("STORAGE_BUCKET", ""),
		MinIOEndpoint:      gcp.GetEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:     gcp.GetEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:     gcp.GetEnv("MINIO_SECRET_KEY", ""),
		OIDCIssuer:         gcp.GetEnv("OIDC_ISSUER", session.GoogleIssuer),
		OIDCClientID:       gcp.GetEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret:   gcp.GetEnv("OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:    gcp.GetEnv("OIDC_REDIRECT_URL", ""),
		SessionSecret:      gcp.GetEnv("SESSION_SECRET", ""),
		SessionStoreKind:   strings.ToLower(gcp.GetEnv("SESSION_STORE", SessionStoreFirestore)),
		SessionsCollection: gcp.GetEnv("FIRESTORE_SESSIONS_COLLECTION", "sessions"),
		UploadsCollection:  gcp.GetEnv("FIRESTORE_UPLOADS_COLLECTION", "uploads"),
	}

	cfg.MinIOUseSSL = parseBool("MINIO_USE_SSL", "true", &errs)
	cfg.SessionTTL = parseDuration("SESSION_TTL", "24h", &errs)
	cfg.SignedURLTTL = parseDuration("SIGNED_URL_TTL", "15m", &errs)
	cfg.UploadTimeout = parseDuration("UPLOAD_TIMEOUT", "5m", &errs)
	cfg.ThumbnailScale = parseFloat("THUMBNAIL_SCALE", strconv.FormatFloat(thumbnail.DefaultScale, 'f', -1, 64), &errs)
	cfg.MaxUploadBytes = parseInt("MAX_UPLOAD_BYTES", strconv.Itoa(25<<20), &errs)
	cfg.GalleryFanout = int(parseInt("GALLERY_FANOUT", strconv.Itoa(services.DefaultFanout), &errs))

	switch cfg.StorageBackend {
	case BackendGCS:
		if cfg.StorageBucket == "" {
			errs = append(errs, errors.New("STORAGE_BUCKET must be set for the gcs backend"))
		}
	case BackendMinIO:
		if cfg.StorageBucket == "" || cfg.MinIOEndpoint == "" {
			errs = append(errs, errors.New("STORAGE_BUCKET and MINIO_ENDPOINT must be set for the minio backend"))
		}
	case BackendMemory:
		if cfg.StorageBucket == "" {
			cfg.StorageBucket = "local"
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend))
	}

	if cfg.OIDCClientID == "" {
		errs = append(errs, errors.New("OIDC_CLIENT_ID must be set"))
	}
	if cfg.ThumbnailScale <= 0 {
		errs = append(errs, errors.New("THUMBNAIL_SCALE must be positive"))
	}
	if cfg.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if cfg.GalleryFanout <= 0 {
		errs = append(errs, errors.New("GALLERY_FANOUT must be positive"))
	}
	return cfg, errs
}

func parseDuration(key, fallback string, errs *[]error) time.Duration {
	raw := gcp.GetEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return 0
	}
	return d
}

func parseBool(key, fallback string, errs *[]error) bool {
	raw := gcp.GetEnv(key, fallback)
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
	}
	return b
}

func parseFloat(key, fallback string, errs *[]error) float64 {
	raw := gcp.GetEnv(key, fallback)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid number %q", key, raw))
	}
	return f
}

func parseInt(key, fallback string, errs *[]error) int64 {
	raw := gcp.GetEnv(key, fallback)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, raw))
	}
	return n
}
