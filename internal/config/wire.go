package config

import (
	"context"
	"fmt"
	"time"

	"github.com/Lllllllleong/autodoc/internal/gcp"
	"github.com/Lllllllleong/autodoc/internal/objectstore"
	"github.com/Lllllllleong/autodoc/internal/session"
	"github.com/Lllllllleong/autodoc/internal/thumbnail"
)

const fetchTimeout = 30 * time.Second

// ObjectStore builds the configured backend and the fetcher that resolves
// the download URLs it issues.
func (c *Config) ObjectStore(ctx context.Context) (objectstore.Store, thumbnail.Fetcher, error) {
	switch c.StorageBackend {
	case BackendGCS:
		client, err := gcp.NewStorageClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return objectstore.NewGCS(client, c.StorageBucket, c.SignedURLTTL), thumbnail.NewHTTPFetcher(fetchTimeout), nil
	case BackendMinIO:
		store, err := objectstore.NewMinIO(ctx, objectstore.MinIOConfig{
			Endpoint:  c.MinIOEndpoint,
			AccessKey: c.MinIOAccessKey,
			SecretKey: c.MinIOSecretKey,
			Bucket:    c.StorageBucket,
			UseSSL:    c.MinIOUseSSL,
			URLTTL:    c.SignedURLTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, thumbnail.NewHTTPFetcher(fetchTimeout), nil
	case BackendMemory:
		store := objectstore.NewMemory(c.StorageBucket)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}

// SessionStore builds the configured session store.
func (c *Config) SessionStore(ctx context.Context) (session.Store, error) {
	if c.SessionStoreKind == SessionStoreMemory {
		return session.NewMemoryStore(), nil
	}
	client, err := gcp.NewFirestoreClient(ctx, c.ProjectID)
	if err != nil {
		return nil, err
	}
	return session.NewFirestoreStore(client, c.SessionsCollection), nil
}

// Gateway discovers the OIDC issuer and returns a session gateway whose
// provider redirects to redirectURL.
func (c *Config) Gateway(ctx context.Context, redirectURL string, store session.Store) (*session.Gateway, error) {
	provider, err := session.NewOIDCProvider(ctx, c.OIDCIssuer, c.OIDCClientID, c.OIDCClientSecret, redirectURL)
	if err != nil {
		return nil, err
	}
	return session.NewGateway(provider, store, c.SessionTTL), nil
}
