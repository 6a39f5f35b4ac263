// Package gallery keeps the in-memory list of published covers and pages
// more of them in from the object store.
package gallery

import "sync"

// Gallery is an ordered list of unique cover URLs plus the paging cursor.
// It is safe for concurrent use.
type Gallery struct {
	mu      sync.Mutex
	entries []string
	seen    map[string]struct{}
	broken  map[string]struct{}
	offset  int
	hasMore bool
	loading bool
	// epoch changes on Reset so a fetch started before it is ignored.
	epoch int
}

// New returns an empty gallery that expects more pages.
func New() *Gallery {
	return &Gallery{
		seen:    make(map[string]struct{}),
		broken:  make(map[string]struct{}),
		hasMore: true,
	}
}

// Add appends the URLs not already present and returns how many were added.
func (g *Gallery) Add(urls ...string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	fresh := g.unique(urls)
	g.entries = append(g.entries, fresh...)
	return len(fresh)
}

// Prepend puts the URLs not already present in front of the existing
// entries, keeping their given order.
func (g *Gallery) Prepend(urls ...string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	fresh := g.unique(urls)
	if len(fresh) == 0 {
		return 0
	}
	entries := make([]string, 0, len(fresh)+len(g.entries))
	entries = append(entries, fresh...)
	g.entries = append(entries, g.entries...)
	return len(fresh)
}

// unique filters urls against the gallery and against each other, and
// marks the survivors as seen. Must be called with mu held.
func (g *Gallery) unique(urls []string) []string {
	var fresh []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := g.seen[u]; ok {
			continue
		}
		g.seen[u] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh
}

// Reset empties the gallery and rewinds the cursor.
func (g *Gallery) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = nil
	g.seen = make(map[string]struct{})
	g.broken = make(map[string]struct{})
	g.offset = 0
	g.hasMore = true
	g.loading = false
	g.epoch++
}

// Entries returns a copy of every URL, newest published first.
func (g *Gallery) Entries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.entries...)
}

// Len returns the number of entries.
func (g *Gallery) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Contains reports whether url is in the gallery.
func (g *Gallery) Contains(url string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[url]
	return ok
}

// MarkBroken hides url from Visible, for thumbnails that failed to decode.
func (g *Gallery) MarkBroken(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broken[url] = struct{}{}
}

// Visible returns the entries that have not been marked broken.
func (g *Gallery) Visible() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.entries))
	for _, u := range g.entries {
		if _, bad := g.broken[u]; !bad {
			out = append(out, u)
		}
	}
	return out
}

// Offset is the number of store entries consumed so far.
func (g *Gallery) Offset() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offset
}

// HasMore reports whether another page may exist.
func (g *Gallery) HasMore() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasMore
}

// Loading reports whether a page fetch is in flight.
func (g *Gallery) Loading() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loading
}

type ticket struct {
	offset int
	epoch  int
}

// beginLoad claims the loading flag. It returns false when a fetch is
// already running or the end was reached.
func (g *Gallery) beginLoad() (ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loading || !g.hasMore {
		return ticket{}, false
	}
	g.loading = true
	return ticket{offset: g.offset, epoch: g.epoch}, true
}

// addPage appends a fetched page unless the gallery was reset meanwhile.
func (g *Gallery) addPage(t ticket, urls []string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.epoch != g.epoch {
		return 0
	}
	fresh := g.unique(urls)
	g.entries = append(g.entries, fresh...)
	return len(fresh)
}

// endLoad releases the loading flag and moves the cursor. A fetch that
// straddled a Reset leaves the fresh state alone.
func (g *Gallery) endLoad(t ticket, advance int, more bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.epoch != g.epoch {
		return
	}
	g.offset += advance
	if !more {
		g.hasMore = false
	}
	g.loading = false
}
