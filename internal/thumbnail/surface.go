package thumbnail

import (
	"image"
	"image/color"
	"io"
	"sync"

	"github.com/disintegration/imaging"
)

// Surface is a drawing target owned by one renderer. Renders never draw on it
// incrementally: a finished raster replaces the bitmap in one step, and only
// if no newer render has started since.
type Surface struct {
	mu   sync.Mutex
	img  *image.NRGBA
	url  string
	gen  uint64
	done chan struct{}
}

// NewSurface returns a blank surface. Callers size it to the expected page
// aspect ratio; a successful render replaces it with the raster's size.
func NewSurface(width, height int) *Surface {
	return &Surface{img: blank(width, height)}
}

// Image returns a copy of the current bitmap.
func (s *Surface) Image() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return imaging.Clone(s.img)
}

// Bounds returns the current bitmap bounds.
func (s *Surface) Bounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img.Bounds()
}

// URL returns the document the surface was last asked to show.
func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Blank reports whether every pixel is fully transparent.
func (s *Surface) Blank() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 3; i < len(s.img.Pix); i += 4 {
		if s.img.Pix[i] != 0 {
			return false
		}
	}
	return true
}

// PNG encodes the current bitmap.
func (s *Surface) PNG(w io.Writer) error {
	return imaging.Encode(w, s.Image(), imaging.PNG)
}

// begin registers a render of url. When the surface already shows url, or a
// render of url is in flight, it returns that pass's done channel and
// start == false.
func (s *Surface) begin(url string) (ticket uint64, done chan struct{}, start bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil && s.url == url {
		return 0, s.done, false
	}
	s.gen++
	s.url = url
	s.done = make(chan struct{})
	return s.gen, s.done, true
}

// settle ends the pass identified by ticket. img == nil clears the surface.
// With retry, the next request for the same URL renders again.
func (s *Surface) settle(ticket uint64, done chan struct{}, img *image.NRGBA, retry bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(done)

	if ticket != s.gen {
		return false
	}
	if img != nil {
		s.img = img
	} else {
		b := s.img.Bounds()
		s.img = blank(b.Dx(), b.Dy())
	}
	if retry {
		s.url = ""
		s.done = nil
	}
	return true
}

func blank(width, height int) *image.NRGBA {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return imaging.New(width, height, color.Transparent)
}
