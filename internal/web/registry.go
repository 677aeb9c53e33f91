package web

import (
	"sync"

	"github.com/Lllllllleong/autodoc/internal/services"
	"github.com/Lllllllleong/autodoc/internal/thumbnail"
)

// userGallery is the per-session state: one controller and the thumbnail
// surfaces for its documents.
type userGallery struct {
	controller *services.GalleryController
	thumbnails *thumbnail.Gallery
}

// registry holds the per-session state of every live session. Entries of
// sessions that are no longer active are evicted whenever a new entry is
// created.
type registry struct {
	mu       sync.Mutex
	entries  map[string]*userGallery
	newEntry func(sessionID string) *userGallery
	active   func(sessionID string) bool
}

func newRegistry(newEntry func(string) *userGallery, active func(string) bool) *registry {
	return &registry{entries: make(map[string]*userGallery), newEntry: newEntry, active: active}
}

func (r *registry) get(sessionID string) *userGallery {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if ok {
		r.mu.Unlock()
		return e
	}
	stale := r.sweepLocked(sessionID)
	e = r.newEntry(sessionID)
	r.entries[sessionID] = e
	r.mu.Unlock()

	for _, old := range stale {
		old.controller.Reset()
	}
	return e
}

// sweep resets and forgets the state of every inactive session.
func (r *registry) sweep() {
	r.mu.Lock()
	stale := r.sweepLocked("")
	r.mu.Unlock()
	for _, e := range stale {
		e.controller.Reset()
	}
}

// sweepLocked removes entries whose sessions are no longer active, except
// keep, and returns them.
func (r *registry) sweepLocked(keep string) []*userGallery {
	var stale []*userGallery
	for id, e := range r.entries {
		if id != keep && !r.active(id) {
			stale = append(stale, e)
			delete(r.entries, id)
		}
	}
	return stale
}

// drop resets and forgets the session's controller.
func (r *registry) drop(sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if ok {
		e.controller.Reset()
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
