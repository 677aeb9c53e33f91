package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/autodoc/internal/gcp"
)

// GCS is a Store backed by a Cloud Storage bucket, e.g. a Firebase project's
// default bucket.
type GCS struct {
	bucket     *storage.BucketHandle
	bucketName string
	urlTTL     time.Duration
	now        func() time.Time
}

// NewGCS returns a Store over bucketName. Download URLs are V4 signed URLs
// valid for urlTTL.
func NewGCS(client *storage.Client, bucketName string, urlTTL time.Duration) *GCS {
	return &GCS{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		urlTTL:     urlTTL,
		now:        time.Now,
	}
}

func (g *GCS) List(ctx context.Context, prefix string) ([]ObjectRef, error) {
	query := &storage.Query{Prefix: listPrefix(prefix), Delimiter: "/"}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	var refs []ObjectRef
	it := g.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", g.bucketName, query.Prefix, err)
		}
		// Synthetic entries for nested prefixes carry only Prefix.
		if attrs.Name == "" {
			continue
		}
		refs = append(refs, refFromPath(attrs.Name))
	}
	return refs, nil
}

func (g *GCS) Metadata(ctx context.Context, ref ObjectRef) (*Metadata, error) {
	attrs, err := g.bucket.Object(ref.FullPath).Attrs(ctx)
	if err != nil {
		if gcp.IsObjectNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.FullPath)
		}
		return nil, fmt.Errorf("failed to read attrs for %s: %w", ref.FullPath, err)
	}
	return &Metadata{
		Name:        ref.Name,
		FullPath:    attrs.Name,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		Created:     attrs.Created,
		Custom:      attrs.Metadata,
	}, nil
}

func (g *GCS) DownloadURL(_ context.Context, ref ObjectRef) (string, error) {
	u, err := g.bucket.SignedURL(ref.FullPath, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: g.now().Add(g.urlTTL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", ref.FullPath, err)
	}
	return u, nil
}

func (g *GCS) Upload(ctx context.Context, prefix, name string, body io.Reader, size int64, meta map[string]string) *Upload {
	if err := ValidateName(name); err != nil {
		return failedUpload(err)
	}
	objectName := listPrefix(prefix) + name

	return startUpload(ctx, size, func(ctx context.Context, report func(int64)) (ObjectRef, error) {
		gcsWriter := g.bucket.Object(objectName).NewWriter(ctx)
		gcsWriter.ContentType = ContentTypePDF
		gcsWriter.Metadata = meta
		gcsWriter.ProgressFunc = report

		if _, err := io.Copy(gcsWriter, body); err != nil {
			_ = gcsWriter.Close()
			return ObjectRef{}, fmt.Errorf("io.Copy to GCS failed: %w", err)
		}
		if err := gcsWriter.Close(); err != nil {
			return ObjectRef{}, fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
		}
		return refFromPath(objectName), nil
	})
}
