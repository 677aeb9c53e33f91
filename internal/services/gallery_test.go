package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/autodoc/internal/models"
	"github.com/Lllllllleong/autodoc/internal/objectstore"
	"github.com/Lllllllleong/autodoc/internal/session"
)

type fakeUser struct {
	mu sync.Mutex
	s  *session.Session
}

func signedIn(uid string) *fakeUser {
	return &fakeUser{s: &session.Session{ID: "sid-" + uid, UID: uid, ExpiresAt: time.Now().Add(time.Hour)}}
}

func (f *fakeUser) CurrentUser() (*session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s, f.s != nil
}

func (f *fakeUser) signOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = nil
}

var (
	storeCreated = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	callTime     = time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)
)

func pdfSelection(name string) Selection {
	return Selection{Name: name, ContentType: "application/pdf", Data: []byte("%PDF-1.4 " + name)}
}

func newController(t *testing.T, user UserSource) (*GalleryController, *objectstore.Memory) {
	t.Helper()
	store := objectstore.NewMemory("bucket")
	store.SetClock(func() time.Time { return storeCreated })
	c := NewGalleryController(user, store, GalleryConfig{Fanout: 4})
	c.SetClock(func() time.Time { return callTime })
	return c, store
}

func names(docs []models.StoredDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Name
	}
	return out
}

func TestInitializeWithoutSessionMakesNoCalls(t *testing.T) {
	c, store := newController(t, &fakeUser{})
	store.Put("pdfs/u1/a.pdf", []byte("a"), nil, storeCreated)

	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.EnsureInitialized(context.Background()))

	v := c.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Empty(t, v.Documents)
	assert.Zero(t, store.Calls().Total())
}

func TestInitializeListsDocumentsInStoreOrder(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.Put("pdfs/u1/a.pdf", []byte("aaaa"), map[string]string{"uploadedAt": "2024-01-02T03:04:05.000Z"}, storeCreated)
	store.Put("pdfs/u1/b.pdf", []byte("bb"), nil, storeCreated)
	store.Put("pdfs/u2/other.pdf", []byte("x"), nil, storeCreated)

	require.NoError(t, c.Initialize(context.Background()))

	v := c.View()
	assert.Equal(t, StateReady, v.State)
	require.Equal(t, []string{"a.pdf", "b.pdf"}, names(v.Documents))
	assert.Empty(t, v.Message)

	a, b := v.Documents[0], v.Documents[1]
	assert.Equal(t, "pdfs/u1/a.pdf", a.Path)
	assert.Equal(t, "mem://bucket/pdfs/u1/a.pdf?generation=1", a.URL)
	assert.Equal(t, int64(4), a.Size)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), a.UploadedAt)
	assert.Equal(t, models.TimestampFromMetadata, a.TimestampSource)

	assert.Equal(t, "mem://bucket/pdfs/u1/b.pdf?generation=2", b.URL)
	assert.Equal(t, storeCreated, b.UploadedAt)
	assert.Equal(t, models.TimestampFromStore, b.TimestampSource)
}

func TestSnapshotOrderIgnoresCompletionOrder(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	delays := map[string]time.Duration{"a.pdf": 60 * time.Millisecond, "b.pdf": 0, "c.pdf": 30 * time.Millisecond}
	for name := range delays {
		store.Put("pdfs/u1/"+name, []byte(name), nil, storeCreated)
	}
	store.SetMetadataDelay(func(ref objectstore.ObjectRef) time.Duration { return delays[ref.Name] })

	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, names(c.View().Documents))
}

func TestMalformedUploadedAtFallsBackToStoreTime(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.Put("pdfs/u1/a.pdf", []byte("a"), map[string]string{"uploadedAt": "yesterday"}, storeCreated)

	require.NoError(t, c.Initialize(context.Background()))
	doc := c.View().Documents[0]
	assert.Equal(t, storeCreated, doc.UploadedAt)
	assert.Equal(t, models.TimestampFromStore, doc.TimestampSource)
}

func TestPartialFailureExcludesItemAndWarns(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		store.Put("pdfs/u1/"+name, []byte(name), nil, storeCreated)
	}
	store.FailMetadata("pdfs/u1/b.pdf", errors.New("permission denied"))
	store.FailDownloadURL("pdfs/u1/c.pdf", errors.New("quota"))

	require.NoError(t, c.Initialize(context.Background()))
	v := c.View()
	assert.Equal(t, []string{"a.pdf"}, names(v.Documents))
	assert.Equal(t, "Some PDFs could not be loaded (2)", v.Message)
	assert.Equal(t, StateReady, v.State)
}

func TestListFailureKeepsLastSnapshot(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.Put("pdfs/u1/a.pdf", []byte("a"), nil, storeCreated)
	require.NoError(t, c.Initialize(context.Background()))

	store.FailList(errors.New("network unreachable"))
	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, KindStore, KindOf(err))

	v := c.View()
	assert.Equal(t, MsgFetchFailed, v.Message)
	assert.Equal(t, []string{"a.pdf"}, names(v.Documents))
}

func TestListFailureOnFirstLoadLeavesEmptySnapshot(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.FailList(errors.New("forbidden"))

	assert.ErrorIs(t, c.Initialize(context.Background()), ErrStore)
	assert.Empty(t, c.View().Documents)
	assert.Equal(t, MsgFetchFailed, c.View().Message)
}

func TestConcurrentInitializeCollapses(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.Put("pdfs/u1/a.pdf", []byte("a"), nil, storeCreated)
	store.SetMetadataDelay(func(objectstore.ObjectRef) time.Duration { return 100 * time.Millisecond })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Initialize(context.Background()))
	}()
	require.Eventually(t, func() bool { return store.Calls().Metadata == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Initialize(context.Background()))
	wg.Wait()

	assert.Equal(t, 1, store.Calls().List)
}

func TestSharedRefreshOutlivesCancelledCaller(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.Put("pdfs/u1/a.pdf", []byte("a"), nil, storeCreated)
	store.SetMetadataDelay(func(objectstore.ObjectRef) time.Duration { return 100 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- c.Initialize(ctx) }()
	require.Eventually(t, func() bool { return store.Calls().Metadata == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- c.Initialize(context.Background()) }()
	cancel()

	assert.ErrorIs(t, <-first, context.Canceled)
	require.NoError(t, <-second)
	assert.Equal(t, 1, store.Calls().List)
	assert.Equal(t, []string{"a.pdf"}, names(c.View().Documents))
}

func TestEnsureInitializedRunsOncePerSession(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.Put("pdfs/u1/a.pdf", []byte("a"), nil, storeCreated)

	require.NoError(t, c.EnsureInitialized(context.Background()))
	require.NoError(t, c.EnsureInitialized(context.Background()))
	assert.Equal(t, 1, store.Calls().List)

	c.Reset()
	require.NoError(t, c.EnsureInitialized(context.Background()))
	assert.Equal(t, 2, store.Calls().List)
}

func TestSelectFileRejectsNonPDF(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	require.NoError(t, c.SelectFile(pdfSelection("report.pdf")))

	for _, contentType := range []string{"image/png", "text/plain", "", "application/pdfx"} {
		err := c.SelectFile(Selection{Name: "photo.png", ContentType: contentType, Data: []byte("x")})
		assert.ErrorIs(t, err, ErrValidation, contentType)
		v := c.View()
		assert.Equal(t, MsgSelectPDF, v.Message)
		assert.Empty(t, v.Pending)
	}
	assert.Zero(t, store.Calls().Total())
}

func TestSelectFileAcceptsPDFWithParameters(t *testing.T) {
	c, _ := newController(t, signedIn("u1"))
	_ = c.SelectFile(Selection{Name: "x.txt", ContentType: "text/plain"})
	require.Equal(t, MsgSelectPDF, c.View().Message)

	require.NoError(t, c.SelectFile(Selection{Name: "a.pdf", ContentType: "Application/PDF; name=a.pdf"}))
	v := c.View()
	assert.Equal(t, "a.pdf", v.Pending)
	assert.Empty(t, v.Message)

	require.NoError(t, c.SelectFile(pdfSelection("b.pdf")))
	assert.Equal(t, "b.pdf", c.View().Pending)
}

func TestSelectFileRejectsPathNames(t *testing.T) {
	c, _ := newController(t, signedIn("u1"))
	err := c.SelectFile(Selection{Name: "../u2/evil.pdf", ContentType: "application/pdf"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, MsgInvalidName, c.View().Message)
	assert.Empty(t, c.View().Pending)
}

func TestUploadWithoutSelectionMakesNoCalls(t *testing.T) {
	c, store := newController(t, signedIn("u1"))

	err := c.Upload(context.Background())
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, MsgSelectPDF, c.View().Message)
	assert.Zero(t, store.Calls().Total())
}

func TestUploadWithoutSession(t *testing.T) {
	user := signedIn("u1")
	c, store := newController(t, user)
	require.NoError(t, c.SelectFile(pdfSelection("report.pdf")))
	user.signOut()

	err := c.Upload(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, MsgNotAuthenticated, c.View().Message)
	assert.Equal(t, "report.pdf", c.View().Pending)
	assert.Zero(t, store.Calls().Total())
}

func TestUploadThenRefresh(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.Put("pdfs/u1/a.pdf", []byte("a"), nil, storeCreated)
	require.NoError(t, c.Initialize(context.Background()))
	before := len(c.View().Documents)

	require.NoError(t, c.SelectFile(pdfSelection("report.pdf")))
	require.NoError(t, c.Upload(context.Background()))

	data, meta, ok := store.Object("pdfs/u1/report.pdf")
	require.True(t, ok)
	assert.Equal(t, []byte("%PDF-1.4 report.pdf"), data)
	assert.Equal(t, "2024-05-06T07:08:09.123Z", meta["uploadedAt"])

	v := c.View()
	assert.Equal(t, StateReady, v.State)
	assert.Empty(t, v.Pending)
	assert.Empty(t, v.Message)
	assert.Nil(t, v.Progress)
	assert.Equal(t, before+1, len(v.Documents))
	assert.Equal(t, []string{"a.pdf", "report.pdf"}, names(v.Documents))

	report := v.Documents[1]
	assert.Equal(t, callTime, report.UploadedAt)
	assert.Equal(t, models.TimestampFromMetadata, report.TimestampSource)
}

func TestUploadOverwriteKeepsSnapshotSize(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.Put("pdfs/u1/report.pdf", []byte("old"), nil, storeCreated)
	require.NoError(t, c.Initialize(context.Background()))

	require.NoError(t, c.SelectFile(pdfSelection("report.pdf")))
	require.NoError(t, c.Upload(context.Background()))

	v := c.View()
	require.Len(t, v.Documents, 1)
	assert.Equal(t, callTime, v.Documents[0].UploadedAt)
	data, _, _ := store.Object("pdfs/u1/report.pdf")
	assert.Equal(t, []byte("%PDF-1.4 report.pdf"), data)
}

func TestUploadFailureKeepsSelection(t *testing.T) {
	c, store := newController(t, signedIn("u1"))
	store.FailUpload(errors.New("quota exceeded"))
	require.NoError(t, c.SelectFile(pdfSelection("report.pdf")))

	err := c.Upload(context.Background())
	assert.ErrorIs(t, err, ErrStore)
	v := c.View()
	assert.Equal(t, MsgUploadFailed, v.Message)
	assert.Equal(t, "report.pdf", v.Pending)
	assert.Equal(t, StateReady, v.State)
	assert.Zero(t, store.Calls().List)

	store.FailUpload(nil)
	require.NoError(t, c.Upload(context.Background()))
	assert.Empty(t, c.View().Pending)
}

type gatedStore struct {
	*objectstore.Memory
	gate chan struct{}
}

type gatedReader struct {
	r    io.Reader
	gate chan struct{}
}

func (g *gatedReader) Read(p []byte) (int, error) {
	<-g.gate
	return g.r.Read(p)
}

func (s *gatedStore) Upload(ctx context.Context, prefix, name string, body io.Reader, size int64, meta map[string]string) *objectstore.Upload {
	return s.Memory.Upload(ctx, prefix, name, &gatedReader{r: body, gate: s.gate}, size, meta)
}

func TestSecondUploadIsRejectedWhileInFlight(t *testing.T) {
	mem := objectstore.NewMemory("bucket")
	store := &gatedStore{Memory: mem, gate: make(chan struct{})}
	c := NewGalleryController(signedIn("u1"), store, GalleryConfig{})
	require.NoError(t, c.SelectFile(pdfSelection("report.pdf")))

	changed := c.Changed()
	errs := make(chan error, 1)
	go func() { errs <- c.Upload(context.Background()) }()

	<-changed
	require.Eventually(t, func() bool { return c.View().State == StateUploading }, time.Second, time.Millisecond)
	v := c.View()
	require.NotNil(t, v.Progress)
	assert.Equal(t, int64(len("%PDF-1.4 report.pdf")), v.Progress.TotalBytes)

	err := c.Upload(context.Background())
	assert.ErrorIs(t, err, ErrUploadInProgress)
	assert.ErrorIs(t, c.SelectFile(pdfSelection("other.pdf")), ErrUploadInProgress)
	assert.Equal(t, "report.pdf", c.View().Pending)

	close(store.gate)
	require.NoError(t, <-errs)
	assert.Equal(t, 1, mem.Calls().Upload)
	assert.Equal(t, []string{"report.pdf"}, names(c.View().Documents))
}

func TestResetDiscardsInFlightRefresh(t *testing.T) {
	user := signedIn("u1")
	c, store := newController(t, user)
	store.Put("pdfs/u1/a.pdf", []byte("a"), nil, storeCreated)
	store.SetMetadataDelay(func(objectstore.ObjectRef) time.Duration { return 50 * time.Millisecond })

	done := make(chan error, 1)
	go func() { done <- c.Initialize(context.Background()) }()
	require.Eventually(t, func() bool { return store.Calls().Metadata == 1 }, time.Second, time.Millisecond)

	user.signOut()
	c.Reset()
	require.NoError(t, <-done)

	v := c.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Empty(t, v.Documents)
}

func TestChangedClosesOnMutation(t *testing.T) {
	c, _ := newController(t, signedIn("u1"))
	ch := c.Changed()
	select {
	case <-ch:
		t.Fatal("changed before any mutation")
	default:
	}
	require.NoError(t, c.SelectFile(pdfSelection("a.pdf")))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("changed not signalled")
	}
}

func TestErrorMatching(t *testing.T) {
	err := error(&Error{Kind: KindStore, Message: MsgUploadFailed, Err: io.ErrUnexpectedEOF})
	assert.ErrorIs(t, err, ErrStore)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "Failed to upload PDF: unexpected EOF", err.Error())
	assert.Equal(t, "store", KindStore.String())
}
