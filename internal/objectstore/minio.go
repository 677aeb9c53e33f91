package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds connection settings for an S3-compatible store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLTTL    time.Duration
}

// MinIO is a Store backed by an S3-compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	urlTTL time.Duration
}

// NewMinIO connects to the store and creates the bucket when it is missing.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		slog.Info("Created bucket.", "bucket", cfg.Bucket)
	}

	return &MinIO{client: client, bucket: cfg.Bucket, urlTTL: cfg.URLTTL}, nil
}

func (m *MinIO) List(ctx context.Context, prefix string) ([]ObjectRef, error) {
	var refs []ObjectRef
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix(prefix),
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", m.bucket, prefix, obj.Err)
		}
		if obj.Key == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		refs = append(refs, refFromPath(obj.Key))
	}
	return refs, nil
}

func (m *MinIO) Metadata(ctx context.Context, ref ObjectRef) (*Metadata, error) {
	info, err := m.client.StatObject(ctx, m.bucket, ref.FullPath, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.FullPath)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", ref.FullPath, err)
	}
	custom := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		custom[k] = v
	}
	return &Metadata{
		Name:        ref.Name,
		FullPath:    info.Key,
		ContentType: info.ContentType,
		Size:        info.Size,
		Created:     info.LastModified,
		Custom:      custom,
	}, nil
}

func (m *MinIO) DownloadURL(ctx context.Context, ref ObjectRef) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, ref.FullPath, m.urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", ref.FullPath, err)
	}
	return u.String(), nil
}

func (m *MinIO) Upload(ctx context.Context, prefix, name string, body io.Reader, size int64, meta map[string]string) *Upload {
	if err := ValidateName(name); err != nil {
		return failedUpload(err)
	}
	objectName := listPrefix(prefix) + name

	return startUpload(ctx, size, func(ctx context.Context, report func(int64)) (ObjectRef, error) {
		_, err := m.client.PutObject(ctx, m.bucket, objectName, body, size, minio.PutObjectOptions{
			ContentType:  ContentTypePDF,
			UserMetadata: meta,
			Progress:     &progressSink{report: report},
		})
		if err != nil {
			return ObjectRef{}, fmt.Errorf("failed to put %s: %w", objectName, err)
		}
		return refFromPath(objectName), nil
	})
}
