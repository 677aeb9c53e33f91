package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const memoryScheme = "mem"

// Calls counts the operations a Memory store has served.
type Calls struct {
	List        int
	Metadata    int
	DownloadURL int
	Upload      int
}

// Total is the number of operations of any kind.
func (c Calls) Total() int {
	return c.List + c.Metadata + c.DownloadURL + c.Upload
}

type memObject struct {
	data       []byte
	custom     map[string]string
	created    time.Time
	generation int64
}

// Memory is an in-process Store used for local development and tests. It
// hands out mem:// URLs which its Fetch method resolves. Like GCS object
// generations, every write gets a new generation, so a URL changes when its
// object is overwritten.
type Memory struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]*memObject
	calls   Calls
	now     func() time.Time
	gen     int64

	chunkSize     int
	listErr       error
	uploadErr     error
	metadataErr   map[string]error
	urlErr        map[string]error
	metadataDelay func(ObjectRef) time.Duration
}

// NewMemory returns an empty store.
func NewMemory(bucket string) *Memory {
	return &Memory{
		bucket:      bucket,
		objects:     make(map[string]*memObject),
		now:         time.Now,
		chunkSize:   32 << 10,
		metadataErr: make(map[string]error),
		urlErr:      make(map[string]error),
	}
}

// Put stores an object directly, bypassing Upload and the call counters.
func (m *Memory) Put(fullPath string, data []byte, custom map[string]string, created time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.objects[fullPath] = &memObject{data: append([]byte(nil), data...), custom: copyMap(custom), created: created, generation: m.gen}
}

// Object returns a stored object's bytes and custom metadata.
func (m *Memory) Object(fullPath string) ([]byte, map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[fullPath]
	if !ok {
		return nil, nil, false
	}
	return append([]byte(nil), obj.data...), copyMap(obj.custom), true
}

// Calls returns the operation counters.
func (m *Memory) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SetClock replaces the clock used for creation times.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetChunkSize sets how many bytes an upload moves between progress reports.
func (m *Memory) SetChunkSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.chunkSize = n
	}
}

// FailList makes List return err. A nil err clears it.
func (m *Memory) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailUpload makes Upload fail with err after transferring the body.
func (m *Memory) FailUpload(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErr = err
}

// FailMetadata makes Metadata fail for one object path.
func (m *Memory) FailMetadata(fullPath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadataErr[fullPath] = err
}

// FailDownloadURL makes DownloadURL fail for one object path.
func (m *Memory) FailDownloadURL(fullPath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urlErr[fullPath] = err
}

// SetMetadataDelay delays each Metadata call by delay(ref).
func (m *Memory) SetMetadataDelay(delay func(ObjectRef) time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadataDelay = delay
}

func (m *Memory) List(ctx context.Context, prefix string) ([]ObjectRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.List++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.listErr != nil {
		return nil, m.listErr
	}

	p := listPrefix(prefix)
	var paths []string
	for key := range m.objects {
		rest, ok := strings.CutPrefix(key, p)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		paths = append(paths, key)
	}
	sort.Strings(paths)

	refs := make([]ObjectRef, 0, len(paths))
	for _, key := range paths {
		refs = append(refs, refFromPath(key))
	}
	return refs, nil
}

func (m *Memory) Metadata(ctx context.Context, ref ObjectRef) (*Metadata, error) {
	m.mu.Lock()
	m.calls.Metadata++
	delay := m.metadataDelay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-time.After(delay(ref)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.metadataErr[ref.FullPath]; err != nil {
		return nil, err
	}
	obj, ok := m.objects[ref.FullPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.FullPath)
	}
	return &Metadata{
		Name:        ref.Name,
		FullPath:    ref.FullPath,
		ContentType: ContentTypePDF,
		Size:        int64(len(obj.data)),
		Created:     obj.created,
		Custom:      copyMap(obj.custom),
	}, nil
}

func (m *Memory) DownloadURL(ctx context.Context, ref ObjectRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.DownloadURL++

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := m.urlErr[ref.FullPath]; err != nil {
		return "", err
	}
	obj, ok := m.objects[ref.FullPath]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref.FullPath)
	}
	u := url.URL{
		Scheme:   memoryScheme,
		Host:     m.bucket,
		Path:     "/" + ref.FullPath,
		RawQuery: url.Values{"generation": {strconv.FormatInt(obj.generation, 10)}}.Encode(),
	}
	return u.String(), nil
}

func (m *Memory) Upload(ctx context.Context, prefix, name string, body io.Reader, size int64, meta map[string]string) *Upload {
	m.mu.Lock()
	m.calls.Upload++
	chunk := m.chunkSize
	m.mu.Unlock()

	if err := ValidateName(name); err != nil {
		return failedUpload(err)
	}
	objectName := listPrefix(prefix) + name

	return startUpload(ctx, size, func(ctx context.Context, report func(int64)) (ObjectRef, error) {
		var buf bytes.Buffer
		src := &countingReader{r: body, report: report}
		for {
			if err := ctx.Err(); err != nil {
				return ObjectRef{}, err
			}
			n, err := io.CopyN(&buf, src, int64(chunk))
			if err == io.EOF {
				break
			}
			if err != nil {
				return ObjectRef{}, fmt.Errorf("failed to read upload body: %w", err)
			}
			if n == 0 {
				break
			}
		}
		if err := ctx.Err(); err != nil {
			return ObjectRef{}, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.uploadErr != nil {
			return ObjectRef{}, m.uploadErr
		}
		m.gen++
		m.objects[objectName] = &memObject{data: buf.Bytes(), custom: copyMap(meta), created: m.now(), generation: m.gen}
		return refFromPath(objectName), nil
	})
}

// Fetch resolves a URL issued by DownloadURL.
func (m *Memory) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", rawURL, err)
	}
	if u.Scheme != memoryScheme || u.Host != m.bucket {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	data, _, ok := m.Object(strings.TrimPrefix(u.Path, "/"))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
