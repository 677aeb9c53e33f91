package session

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/autodoc/internal/gcp"
	"github.com/Lllllllleong/autodoc/internal/models"
)

// MemoryStore keeps sessions in process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	// DeleteErr, when set, is returned by Delete after the session is removed.
	DeleteErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return m.DeleteErr
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// FirestoreStore keeps one document per session, keyed by session ID.
type FirestoreStore struct {
	collection *firestore.CollectionRef
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{collection: client.Collection(collection)}
}

func (f *FirestoreStore) Save(ctx context.Context, s *Session) error {
	record := models.SessionRecord{
		UID:         s.UID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		ExpiresAt:   s.ExpiresAt,
		CreatedAt:   s.CreatedAt,
	}
	if _, err := f.collection.Doc(s.ID).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (f *FirestoreStore) Load(ctx context.Context, id string) (*Session, error) {
	snap, err := f.collection.Doc(id).Get(ctx)
	if err != nil {
		if gcp.IsDocumentNotFound(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var record models.SessionRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &Session{
		ID:          id,
		UID:         record.UID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		CreatedAt:   record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

func (f *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := f.collection.Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
