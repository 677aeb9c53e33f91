package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Lllllllleong/autodoc/internal/models"
	"github.com/Lllllllleong/autodoc/internal/objectstore"
	"github.com/Lllllllleong/autodoc/internal/session"
)

// DefaultFanout bounds concurrent per-item metadata and URL lookups.
const DefaultFanout = 8

// DefaultRefreshTimeout bounds one shared refresh.
const DefaultRefreshTimeout = time.Minute

// uploadedAtLayout is ISO-8601 in UTC with millisecond precision.
const uploadedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateUploading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUploading:
		return "uploading"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UserSource yields the signed-in user without doing I/O.
type UserSource interface {
	CurrentUser() (*session.Session, bool)
}

// Selection is a locally chosen file that has not been uploaded yet.
type Selection struct {
	Name        string
	ContentType string
	Data        []byte
}

// View is an immutable snapshot of the controller.
type View struct {
	State     State                   `json:"state"`
	Documents []models.StoredDocument `json:"documents"`
	Pending   string                  `json:"pending,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Progress  *objectstore.Progress   `json:"progress,omitempty"`
}

type GalleryConfig struct {
	// Fanout bounds concurrent per-item lookups. Zero selects DefaultFanout.
	Fanout int
	// RefreshTimeout bounds a refresh shared by concurrent Initialize
	// calls. Zero selects DefaultRefreshTimeout.
	RefreshTimeout time.Duration
}

// GalleryController keeps one user's gallery in sync with the object store
// and drives uploads.
//
// The gallery snapshot is replaced wholesale on every refresh and is only
// ever written by the controller.
type GalleryController struct {
	user   UserSource
	store  objectstore.Store
	fanout  int
	timeout time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu          sync.Mutex
	state       State
	docs        []models.StoredDocument
	pending     *Selection
	message     string
	progress    *objectstore.Progress
	uploading   bool
	initialized string
	seq         uint64
	committed   uint64
	changed     chan struct{}
}

func NewGalleryController(user UserSource, store objectstore.Store, cfg GalleryConfig) *GalleryController {
	fanout := cfg.Fanout
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &GalleryController{
		user:    user,
		store:   store,
		fanout:  fanout,
		timeout: timeout,
		now:     time.Now,
		changed: make(chan struct{}),
	}
}

// SetClock replaces the time source used for upload timestamps.
func (c *GalleryController) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Initialize loads the current user's gallery. Without a session it does
// nothing. Concurrent calls share one refresh, which is not tied to any one
// caller's ctx: a caller whose ctx ends stops waiting and the refresh
// carries on for the others, bounded by the refresh timeout.
func (c *GalleryController) Initialize(ctx context.Context) error {
	ch := c.group.DoChan("initialize", func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return nil, c.refresh(refreshCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureInitialized runs Initialize once per session.
func (c *GalleryController) EnsureInitialized(ctx context.Context) error {
	s, ok := c.user.CurrentUser()
	if !ok {
		return nil
	}
	c.mu.Lock()
	done := c.initialized == s.ID
	c.mu.Unlock()
	if done {
		return nil
	}
	return c.Initialize(ctx)
}

func (c *GalleryController) refresh(ctx context.Context) error {
	s, ok := c.user.CurrentUser()
	if !ok {
		c.mu.Lock()
		if !c.uploading {
			c.state = StateIdle
		}
		c.mu.Unlock()
		return nil
	}
	logCtx := slog.With("uid", s.UID)

	c.mu.Lock()
	c.seq++
	seq := c.seq
	if !c.uploading {
		c.state = StateLoading
	}
	c.notifyLocked()
	c.mu.Unlock()

	refs, err := c.store.List(ctx, objectstore.UserPrefix(s.UID))
	if err != nil {
		logCtx.Error("Failed to list documents.", "error", err)
		c.mu.Lock()
		defer c.mu.Unlock()
		if seq <= c.committed {
			return err
		}
		c.committed = seq
		c.initialized = s.ID
		c.finishRefreshLocked()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.failLocked(KindStore, MsgFetchFailed, err)
	}

	docs := make([]*models.StoredDocument, len(refs))
	errs := make([]error, len(refs))
	var g errgroup.Group
	g.SetLimit(c.fanout)
	for i, ref := range refs {
		g.Go(func() error {
			doc, err := c.resolve(ctx, logCtx, ref)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", ref.FullPath, err)
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		c.mu.Lock()
		if seq > c.committed {
			c.committed = seq
			c.finishRefreshLocked()
		}
		c.mu.Unlock()
		return err
	}

	snapshot := make([]models.StoredDocument, 0, len(refs))
	for _, d := range docs {
		if d != nil {
			snapshot = append(snapshot, *d)
		}
	}
	itemErr := errors.Join(errs...)
	failed := len(refs) - len(snapshot)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.committed {
		logCtx.Info("Discarded superseded gallery refresh.")
		return nil
	}
	c.committed = seq
	c.initialized = s.ID
	c.docs = snapshot
	c.finishRefreshLocked()

	if failed > 0 {
		logCtx.Warn("Some documents could not be loaded.", "failed", failed, "error", itemErr)
		c.message = fmt.Sprintf(msgPartialLoad, failed)
		return nil
	}
	c.message = ""
	logCtx.Info("Gallery refreshed.", "documents", len(snapshot))
	return nil
}

// resolve fetches one item's metadata and download URL.
func (c *GalleryController) resolve(ctx context.Context, logCtx *slog.Logger, ref objectstore.ObjectRef) (*models.StoredDocument, error) {
	meta, err := c.store.Metadata(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	url, err := c.store.DownloadURL(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("download url: %w", err)
	}

	doc := &models.StoredDocument{
		Name:            ref.Name,
		Path:            ref.FullPath,
		URL:             url,
		Size:            meta.Size,
		UploadedAt:      meta.Created,
		TimestampSource: models.TimestampFromStore,
	}
	if raw, ok := meta.Value(objectstore.MetadataUploadedAt); ok {
		if t, err := parseUploadedAt(raw); err == nil {
			doc.UploadedAt = t
			doc.TimestampSource = models.TimestampFromMetadata
		} else {
			logCtx.Warn("Ignoring malformed uploadedAt metadata.", "documentPath", ref.FullPath, "value", raw)
		}
	}
	return doc, nil
}

func parseUploadedAt(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// SelectFile replaces the pending selection. A file that is not a PDF clears
// the selection and never reaches the store.
func (c *GalleryController) SelectFile(sel Selection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uploading {
		return &Error{Kind: KindValidation, Message: MsgUploadInProgress, Err: ErrUploadInProgress}
	}
	mediaType, _, err := mime.ParseMediaType(sel.ContentType)
	if err != nil || mediaType != objectstore.ContentTypePDF {
		c.pending = nil
		return c.failLocked(KindValidation, MsgSelectPDF, nil)
	}
	if err := objectstore.ValidateName(sel.Name); err != nil {
		c.pending = nil
		return c.failLocked(KindValidation, MsgInvalidName, err)
	}

	c.pending = &sel
	c.message = ""
	c.notifyLocked()
	return nil
}

// Upload sends the pending selection to the user's namespace, then refreshes
// the gallery once the upload has succeeded. On failure the selection is
// kept so the user can retry.
func (c *GalleryController) Upload(ctx context.Context) error {
	c.mu.Lock()
	if c.uploading {
		c.mu.Unlock()
		return &Error{Kind: KindValidation, Message: MsgUploadInProgress, Err: ErrUploadInProgress}
	}
	if c.pending == nil {
		defer c.mu.Unlock()
		return c.failLocked(KindValidation, MsgSelectPDF, nil)
	}
	s, ok := c.user.CurrentUser()
	if !ok {
		defer c.mu.Unlock()
		return c.failLocked(KindAuth, MsgNotAuthenticated, nil)
	}
	sel := c.pending
	uploadedAt := c.now().UTC().Format(uploadedAtLayout)
	total := int64(len(sel.Data))
	c.uploading = true
	c.state = StateUploading
	c.progress = &objectstore.Progress{TotalBytes: total}
	c.notifyLocked()
	c.mu.Unlock()

	logCtx := slog.With("uid", s.UID, "documentPath", objectstore.ObjectPath(s.UID, sel.Name))
	logCtx.Info("Uploading document.", "bytes", total)

	handle := c.store.Upload(ctx, objectstore.UserPrefix(s.UID), sel.Name, bytes.NewReader(sel.Data), total,
		map[string]string{objectstore.MetadataUploadedAt: uploadedAt})
	for p := range handle.Progress() {
		c.mu.Lock()
		c.progress = &p
		c.notifyLocked()
		c.mu.Unlock()
	}
	_, err := handle.Wait()

	c.mu.Lock()
	c.uploading = false
	c.progress = nil
	if err != nil {
		defer c.mu.Unlock()
		c.state = StateReady
		logCtx.Error("Upload failed.", "error", err)
		return c.failLocked(KindStore, MsgUploadFailed, err)
	}
	if c.pending == sel {
		c.pending = nil
	}
	c.message = ""
	c.notifyLocked()
	c.mu.Unlock()

	logCtx.Info("Upload complete; refreshing gallery.")
	return c.refresh(ctx)
}

// View returns the current state.
func (c *GalleryController) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		State:     c.state,
		Documents: append([]models.StoredDocument{}, c.docs...),
		Message:   c.message,
	}
	if c.pending != nil {
		v.Pending = c.pending.Name
	}
	if c.progress != nil {
		p := *c.progress
		v.Progress = &p
	}
	return v
}

// Changed returns a channel that is closed on the next state change.
func (c *GalleryController) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Document returns the gallery entry stored at path.
func (c *GalleryController) Document(path string) (models.StoredDocument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		if d.Path == path {
			return d, true
		}
	}
	return models.StoredDocument{}, false
}

// Reset returns the controller to Idle after sign-out. Refreshes still in
// flight are discarded.
func (c *GalleryController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.docs = nil
	c.pending = nil
	c.message = ""
	c.progress = nil
	c.initialized = ""
	c.committed = c.seq
	c.notifyLocked()
}

func (c *GalleryController) finishRefreshLocked() {
	if !c.uploading {
		c.state = StateReady
	}
	c.notifyLocked()
}

// failLocked records message in the message slot and returns the matching
// controller error.
func (c *GalleryController) failLocked(kind Kind, message string, err error) error {
	c.message = message
	c.notifyLocked()
	return &Error{Kind: kind, Message: message, Err: err}
}

func (c *GalleryController) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
