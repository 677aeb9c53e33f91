package models

import "time"

// Where a StoredDocument's UploadedAt came from.
const (
	TimestampFromMetadata = "metadata"
	TimestampFromStore    = "store"
)

// StoredDocument is one uploaded PDF as shown in the gallery.
// URL is resolved on every refresh and never persisted.
type StoredDocument struct {
	Name            string    `json:"name"`
	Path            string    `json:"path"`
	URL             string    `json:"url"`
	Size            int64     `json:"size"`
	UploadedAt      time.Time `json:"uploadedAt"`
	TimestampSource string    `json:"timestampSource"`
}

// Upload record statuses.
const (
	StatusIndexed = "INDEXED"
	StatusInvalid = "INVALID"
)

// UploadRecord is the Firestore audit entry the indexer writes for every
// object finalized under the user namespace.
type UploadRecord struct {
	UID          string    `firestore:"uid"`
	Name         string    `firestore:"name"`
	Path         string    `firestore:"path"`
	FileHash     string    `firestore:"fileHash,omitempty"`
	PageCount    int       `firestore:"pageCount,omitempty"`
	Status       string    `firestore:"status"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	UploadedAt   time.Time `firestore:"uploadedAt"`
	IndexedAt    time.Time `firestore:"indexedAt"`
}

// SessionRecord is a signed-in session persisted in Firestore, keyed by session ID.
type SessionRecord struct {
	UID         string    `firestore:"uid"`
	Email       string    `firestore:"email,omitempty"`
	DisplayName string    `firestore:"displayName,omitempty"`
	ExpiresAt   time.Time `firestore:"expiresAt"`
	CreatedAt   time.Time `firestore:"createdAt"`
}
