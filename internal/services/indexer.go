package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/autodoc/internal/gcp"
	"github.com/Lllllllleong/autodoc/internal/models"
	"github.com/Lllllllleong/autodoc/internal/objectstore"
)

type IndexerConfig struct {
	ProjectID         string
	UploadsCollection string
}

// ObjectDownloader copies a stored object into a local file.
type ObjectDownloader interface {
	Download(ctx context.Context, bucket, object, destPath string) error
}

// RecordWriter persists one upload record under id, replacing any previous one.
type RecordWriter interface {
	PutRecord(ctx context.Context, id string, record models.UploadRecord) error
}

// IndexerFunction records every PDF finalized under the user namespace: it
// validates the object, counts its pages and writes an audit record. Uploads
// are only filtered by MIME type in the browser, so this is where a non-PDF
// object becomes visible.
type IndexerFunction struct {
	downloader ObjectDownloader
	records    RecordWriter
	now        func() time.Time
}

func NewIndexer(ctx context.Context) (*IndexerFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := IndexerConfig{
		ProjectID:         projectID,
		UploadsCollection: gcp.GetEnv("FIRESTORE_UPLOADS_COLLECTION", "uploads"),
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}

	f := NewIndexerWith(
		&gcsDownloader{client: storageClient},
		&firestoreRecords{collection: firestoreClient.Collection(config.UploadsCollection)},
	)
	slog.Info("Upload indexer initialized.", "collection", config.UploadsCollection)
	return f, nil
}

// NewIndexerWith builds an indexer on explicit dependencies.
func NewIndexerWith(downloader ObjectDownloader, records RecordWriter) *IndexerFunction {
	return &IndexerFunction{downloader: downloader, records: records, now: time.Now}
}

func (f *IndexerFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	uid, name, ok := splitUserObject(e.Name)
	if !ok {
		logCtx.Info("Object is outside the user namespace. Skipping.")
		return nil
	}
	logCtx = logCtx.With("uid", uid)
	logCtx.Info("Indexing uploaded object.")

	tempDir, err := os.MkdirTemp("", "upload-indexer-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	localPath := filepath.Join(tempDir, "source.pdf")
	if err := f.downloader.Download(ctx, e.Bucket, e.Name, localPath); err != nil {
		if gcp.IsObjectNotFound(err) {
			logCtx.Warn("Object was removed before indexing. Skipping.")
			return nil
		}
		logCtx.Error("Failed to download object", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(localPath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	record := models.UploadRecord{
		UID:        uid,
		Name:       name,
		Path:       e.Name,
		FileHash:   fileHash,
		Status:     models.StatusIndexed,
		UploadedAt: uploadTime(e),
		IndexedAt:  f.now().UTC(),
	}
	pageCount, err := inspectPDF(localPath)
	if err != nil {
		logCtx.Warn("Uploaded object is not a valid PDF.", "error", err)
		record.Status = models.StatusInvalid
		record.ErrorDetails = err.Error()
	} else {
		record.PageCount = pageCount
	}

	docID := recordID(e.Name)
	if err := f.records.PutRecord(ctx, docID, record); err != nil {
		logCtx.Error("Failed to write upload record", "error", err)
		return fmt.Errorf("failed to write upload record %s: %w", docID, err)
	}
	logCtx.Info("Upload indexed.", "documentId", docID, "status", record.Status, "pageCount", record.PageCount)
	return nil
}

// splitUserObject accepts only pdfs/<uid>/<name>.
func splitUserObject(objectName string) (uid, name string, ok bool) {
	parts := strings.Split(objectName, "/")
	if len(parts) != 3 || parts[0] != objectstore.Namespace || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// uploadTime prefers the client's uploadedAt metadata over the store's
// creation time.
func uploadTime(e models.GCSEvent) time.Time {
	for k, v := range e.Metadata {
		if strings.EqualFold(k, objectstore.MetadataUploadedAt) {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t.UTC()
			}
		}
	}
	return e.TimeCreated.UTC()
}

// recordID keys records by object path so a re-upload replaces its record.
func recordID(objectName string) string {
	sum := sha256.Sum256([]byte(objectName))
	return hex.EncodeToString(sum[:])
}

func inspectPDF(path string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return 0, fmt.Errorf("failed to validate PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return pageCount, nil
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

type gcsDownloader struct {
	client *storage.Client
}

func (d *gcsDownloader) Download(ctx context.Context, bucket, object, destPath string) error {
	return gcp.StreamObject(ctx, d.client.Bucket(bucket), object, destPath)
}

type firestoreRecords struct {
	collection *firestore.CollectionRef
}

func (r *firestoreRecords) PutRecord(ctx context.Context, id string, record models.UploadRecord) error {
	_, err := r.collection.Doc(id).Set(ctx, record)
	return err
}
