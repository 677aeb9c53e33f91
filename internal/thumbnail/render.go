// Package thumbnail renders a preview of a PDF's first page onto a Surface.
//
// Rendering never reports failure to the caller: a document that cannot be
// fetched or decoded leaves its surface blank so one bad file does not break
// the rest of a gallery.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
)

// DefaultScale is the fixed zoom applied to page dimensions (in points).
const DefaultScale = 0.3

// DefaultMaxBytes caps how much of a document is downloaded for a preview.
const DefaultMaxBytes = 25 << 20

// Fetcher retrieves a document by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Renderer draws first-page previews.
type Renderer struct {
	fetcher  Fetcher
	scale    float64
	maxBytes int64
}

// NewRenderer returns a Renderer using fetcher. A non-positive scale selects
// DefaultScale.
func NewRenderer(fetcher Fetcher, scale float64) *Renderer {
	if scale <= 0 {
		scale = DefaultScale
	}
	return &Renderer{fetcher: fetcher, scale: scale, maxBytes: DefaultMaxBytes}
}

// Scale returns the zoom factor.
func (r *Renderer) Scale() float64 {
	return r.scale
}

// Render draws the first page of the document at url onto s. If s already
// shows url, or a render of url is in flight, Render waits for that instead.
// Any failure clears s.
func (r *Renderer) Render(ctx context.Context, url string, s *Surface) {
	ticket, done, start := s.begin(url)
	if !start {
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	logCtx := slog.With("surfaceTicket", ticket)
	img, err := r.raster(ctx, url)
	if err != nil {
		// A cancelled caller says nothing about the document; let the next
		// request try again.
		retry := ctx.Err() != nil
		logCtx.Warn("Thumbnail render failed; clearing surface.", "error", err, "retry", retry)
		s.settle(ticket, done, nil, retry)
		return
	}
	if !s.settle(ticket, done, img, false) {
		logCtx.Info("Discarded stale thumbnail render.")
	}
}

func (r *Renderer) raster(ctx context.Context, url string) (img *image.NRGBA, err error) {
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("render panic: %v", p)
		}
	}()

	body, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", r.maxBytes)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\n\f\r "), []byte("%PDF-")) {
		return nil, fmt.Errorf("not a PDF document")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rasterFirstPage(data, r.scale)
}
