package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	pdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// maxSide bounds either raster dimension regardless of page size or scale.
const maxSide = 2000

var (
	errNoPages = errors.New("document has no pages")

	glyphColor = color.NRGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff}
	ruleColor  = color.NRGBA{R: 0xaa, G: 0xaa, B: 0xaa, A: 0xff}

	disableConfigDir sync.Once
)

func pdfConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// rasterFirstPage draws page 1 of data at a fixed zoom. Text runs are drawn
// as greeked bars where the glyphs sit and stroked rectangles are outlined.
// Pages without text (scans) are painted with their largest embedded image.
func rasterFirstPage(data []byte, scale float64) (*image.NRGBA, error) {
	cfg := pdfConfig()
	dims, err := api.PageDims(bytes.NewReader(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	if len(dims) == 0 {
		return nil, errNoPages
	}
	pageW, pageH := dims[0].Width, dims[0].Height
	w, h := rasterSize(pageW, scale), rasterSize(pageH, scale)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("degenerate page size %gx%g", pageW, pageH)
	}

	// Layout is best effort: the page geometry above already passed
	// validation, so a page whose content we cannot read renders plain.
	texts, rects, err := firstPageContent(data)
	if err != nil {
		texts, rects = nil, nil
	}

	canvas := imaging.New(w, h, color.White)
	if len(strings.TrimSpace(joinText(texts))) == 0 {
		if img := largestImage(data, cfg); img != nil {
			return imaging.Resize(img, w, h, imaging.Lanczos), nil
		}
	}

	for _, r := range rects {
		canvas = outline(canvas, toPixels(r.Min.X, r.Max.Y, pageH, scale), toPixels(r.Max.X, r.Min.Y, pageH, scale))
	}
	for _, t := range texts {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		width := t.W
		if width <= 0 {
			width = t.FontSize * 0.5 * float64(len([]rune(t.S)))
		}
		top := toPixels(t.X, t.Y+0.7*t.FontSize, pageH, scale)
		bottom := toPixels(t.X+width, t.Y+0.2*t.FontSize, pageH, scale)
		if bottom.Y <= top.Y {
			bottom.Y = top.Y + 1
		}
		if bottom.X <= top.X {
			bottom.X = top.X + 1
		}
		canvas = fill(canvas, image.Rectangle{Min: top, Max: bottom}, glyphColor)
	}
	return canvas, nil
}

func rasterSize(points, scale float64) int {
	px := int(math.Ceil(points * scale))
	if px > maxSide {
		px = maxSide
	}
	if px < 0 {
		return 0
	}
	return px
}

// toPixels maps PDF user space (origin bottom-left) to raster space.
func toPixels(x, y, pageH, scale float64) image.Point {
	return image.Pt(int(math.Round(x*scale)), int(math.Round((pageH-y)*scale)))
}

// firstPageContent extracts positioned glyphs and rectangles. The parser
// panics on some malformed content streams, so panics become errors.
func firstPageContent(data []byte) (texts []pdf.Text, rects []pdf.Rect, err error) {
	defer func() {
		if r := recover(); r != nil {
			texts, rects = nil, nil
			err = fmt.Errorf("failed to parse page content: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open document: %w", err)
	}
	if reader.NumPage() < 1 {
		return nil, nil, errNoPages
	}
	page := reader.Page(1)
	if page.V.IsNull() {
		return nil, nil, errNoPages
	}
	content := page.Content()
	return content.Text, content.Rect, nil
}

func joinText(texts []pdf.Text) string {
	var sb strings.Builder
	for _, t := range texts {
		sb.WriteString(t.S)
	}
	return sb.String()
}

// largestImage returns the biggest decodable image on page 1, or nil.
func largestImage(data []byte, cfg *model.Configuration) image.Image {
	var best image.Image
	bestArea := 0
	err := api.ExtractImages(bytes.NewReader(data), []string{"1"}, func(img model.Image, _ bool, _ int) error {
		decoded, err := imaging.Decode(img)
		if err != nil {
			return nil
		}
		b := decoded.Bounds()
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = decoded, area
		}
		return nil
	}, cfg)
	if err != nil {
		return nil
	}
	return best
}

// fill pastes a solid block of c over r, clipped to dst.
func fill(dst *image.NRGBA, r image.Rectangle, c color.Color) *image.NRGBA {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return dst
	}
	return imaging.Paste(dst, imaging.New(r.Dx(), r.Dy(), c), r.Min)
}

// outline strokes the one-pixel border of the rectangle spanned by a and b.
func outline(dst *image.NRGBA, a, b image.Point) *image.NRGBA {
	r := image.Rectangle{Min: a, Max: b}.Canon()
	dst = fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X+1, r.Min.Y+1), ruleColor)
	dst = fill(dst, image.Rect(r.Min.X, r.Max.Y, r.Max.X+1, r.Max.Y+1), ruleColor)
	dst = fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y+1), ruleColor)
	return fill(dst, image.Rect(r.Max.X, r.Min.Y, r.Max.X+1, r.Max.Y+1), ruleColor)
}
