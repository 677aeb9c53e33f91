// Package objectstore wraps the per-user object namespace that holds uploaded
// PDFs: listing a user's prefix, reading object metadata, issuing time-bound
// download URLs and running progress-reporting uploads.
//
// Objects live under pdfs/<uid>/<name>. That layout is shared with data
// written by earlier clients and must not change.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Namespace is the top-level prefix for all user documents.
const Namespace = "pdfs"

// MetadataUploadedAt is the custom metadata key carrying the client-side
// upload time as an ISO-8601 string.
const MetadataUploadedAt = "uploadedAt"

// ContentTypePDF is the content type every upload is stored with.
const ContentTypePDF = "application/pdf"

var (
	// ErrNotFound is returned when an object referenced by an ObjectRef is gone.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidName is returned for names that would escape the user's prefix.
	ErrInvalidName = errors.New("invalid object name")
)

// ObjectRef identifies a stored object.
type ObjectRef struct {
	Name     string
	FullPath string
}

// Metadata describes a stored object. Custom holds the key/value pairs
// attached at upload time.
type Metadata struct {
	Name        string
	FullPath    string
	ContentType string
	Size        int64
	Created     time.Time
	Custom      map[string]string
}

// Value looks up a custom metadata key. Some stores canonicalize header
// casing (MinIO reports "Uploadedat"), so the match is case-insensitive.
func (m *Metadata) Value(key string) (string, bool) {
	if v, ok := m.Custom[key]; ok {
		return v, true
	}
	for k, v := range m.Custom {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Store is the object store gateway consumed by the gallery controller.
type Store interface {
	// List returns the objects directly under prefix in store order.
	List(ctx context.Context, prefix string) ([]ObjectRef, error)
	// Metadata returns the object's attributes, including custom metadata.
	Metadata(ctx context.Context, ref ObjectRef) (*Metadata, error)
	// DownloadURL returns a retrieval URL. It is not stable across calls.
	DownloadURL(ctx context.Context, ref ObjectRef) (string, error)
	// Upload starts writing body to prefix/name. An existing object with
	// the same name is overwritten.
	Upload(ctx context.Context, prefix, name string, body io.Reader, size int64, meta map[string]string) *Upload
}

// UserPrefix returns the namespace prefix for one user.
func UserPrefix(uid string) string {
	return Namespace + "/" + uid
}

// ObjectPath returns the full path of a user's document.
func ObjectPath(uid, name string) string {
	return UserPrefix(uid) + "/" + name
}

// ValidateName rejects names that are empty or contain path separators.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func refFromPath(fullPath string) ObjectRef {
	return ObjectRef{Name: path.Base(fullPath), FullPath: fullPath}
}

func listPrefix(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/"
}
