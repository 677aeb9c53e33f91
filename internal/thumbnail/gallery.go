package thumbnail

import (
	"context"
	"math"
	"sync"
)

// Gallery owns one surface per gallery item and renders into them with a
// single Renderer.
type Gallery struct {
	renderer *Renderer

	mu       sync.Mutex
	surfaces map[string]*Surface
}

// NewGallery returns an empty gallery.
func NewGallery(r *Renderer) *Gallery {
	return &Gallery{renderer: r, surfaces: make(map[string]*Surface)}
}

// Surface returns the surface for key, creating a letter-proportioned one
// at the renderer's scale.
func (g *Gallery) Surface(key string) *Surface {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.surfaces[key]
	if !ok {
		w := int(math.Ceil(612 * g.renderer.Scale()))
		h := int(math.Ceil(792 * g.renderer.Scale()))
		s = NewSurface(w, h)
		g.surfaces[key] = s
	}
	return s
}

// Render draws url onto the surface for key and returns that surface.
func (g *Gallery) Render(ctx context.Context, key, url string) *Surface {
	s := g.Surface(key)
	g.renderer.Render(ctx, url, s)
	return s
}

// Retain drops surfaces whose keys are not in keep.
func (g *Gallery) Retain(keep []string) {
	set := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		set[k] = struct{}{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.surfaces {
		if _, ok := set[k]; !ok {
			delete(g.surfaces, k)
		}
	}
}

// Len returns the number of surfaces.
func (g *Gallery) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.surfaces)
}
