package objectstore

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Progress is one (bytesTransferred, totalBytes) observation of an upload.
type Progress struct {
	BytesTransferred int64 `json:"bytesTransferred"`
	TotalBytes       int64 `json:"totalBytes"`
}

// Done reports whether every byte has been transferred.
func (p Progress) Done() bool {
	return p.TotalBytes > 0 && p.BytesTransferred >= p.TotalBytes
}

// Upload is a handle on an in-flight upload.
//
// Progress values arrive in order and never decrease. A slow reader may miss
// intermediate values but always sees the last one; on success the last value
// has BytesTransferred == TotalBytes. The channel is closed once the upload
// reaches its terminal state, after which Wait returns immediately.
type Upload struct {
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc

	ref ObjectRef
	err error
}

// uploadFunc performs the transfer and calls report with the cumulative
// number of bytes written so far.
type uploadFunc func(ctx context.Context, report func(transferred int64)) (ObjectRef, error)

func startUpload(ctx context.Context, total int64, fn uploadFunc) *Upload {
	ctx, cancel := context.WithCancel(ctx)
	u := &Upload{
		progress: make(chan Progress, 1),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go u.run(ctx, total, fn)
	return u
}

// failedUpload returns a handle that is already terminal with err.
func failedUpload(err error) *Upload {
	u := &Upload{
		progress: make(chan Progress),
		done:     make(chan struct{}),
		cancel:   func() {},
		err:      err,
	}
	close(u.progress)
	close(u.done)
	return u
}

func (u *Upload) run(ctx context.Context, total int64, fn uploadFunc) {
	defer u.cancel()

	t := &tracker{total: total, out: u.progress}
	t.report(0)
	ref, err := fn(ctx, t.report)
	if err == nil {
		t.finish()
	}
	u.ref, u.err = ref, err
	close(u.progress)
	close(u.done)
}

// Progress returns the progress stream.
func (u *Upload) Progress() <-chan Progress {
	return u.progress
}

// Wait blocks until the upload finishes and returns the stored object.
func (u *Upload) Wait() (ObjectRef, error) {
	<-u.done
	return u.ref, u.err
}

// Cancel aborts the upload. The terminal error is the context's.
func (u *Upload) Cancel() {
	u.cancel()
}

// tracker turns raw byte counts into an ordered, non-decreasing stream.
type tracker struct {
	mu    sync.Mutex
	total int64
	last  int64
	sent  bool
	out   chan Progress
}

func (t *tracker) report(transferred int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total > 0 && transferred > t.total {
		transferred = t.total
	}
	if t.sent && transferred <= t.last {
		return
	}
	t.last = transferred
	t.sent = true
	t.publish()
}

func (t *tracker) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total <= 0 {
		t.total = t.last
	}
	t.last = t.total
	t.publish()
}

// publish replaces any unread value with the newest one. Only the tracker
// sends on out, so after draining the send cannot block.
func (t *tracker) publish() {
	total := t.total
	if total <= 0 {
		total = t.last
	}
	select {
	case <-t.out:
	default:
	}
	t.out <- Progress{BytesTransferred: t.last, TotalBytes: total}
}

// countingReader reports the cumulative bytes read through it.
type countingReader struct {
	r      io.Reader
	n      int64
	report func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.report(c.n)
	}
	return n, err
}

// progressSink adapts report to the "progress reader" convention used by
// MinIO, where the client calls Read with each chunk it has sent. Multipart
// uploads call Read from one goroutine per part.
type progressSink struct {
	n      atomic.Int64
	report func(int64)
}

func (s *progressSink) Read(p []byte) (int, error) {
	s.report(s.n.Add(int64(len(p))))
	return len(p), nil
}
