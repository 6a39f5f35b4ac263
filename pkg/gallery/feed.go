package gallery

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/menta2k/cover-studio/pkg/notify"
	"github.com/menta2k/cover-studio/pkg/store"
)

// DefaultPageSize is the number of entries requested per page.
const DefaultPageSize = 20

// FeedConfig configures paging.
type FeedConfig struct {
	PageSize int
	// Prefix is the folder covers are listed from.
	Prefix string
}

// Feed pages covers from an object store into a Gallery.
type Feed struct {
	gallery  *Gallery
	store    store.ObjectStore
	notifier notify.Notifier
	logger   *log.Logger
	config   FeedConfig
	fetches  atomic.Int64
	trigger  *ScrollTrigger
}

// NewFeed wires a gallery to a store. A nil notifier discards messages.
func NewFeed(g *Gallery, s store.ObjectStore, n notify.Notifier, config FeedConfig) *Feed {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if n == nil {
		n = notify.Discard{}
	}
	return &Feed{
		gallery:  g,
		store:    s,
		notifier: n,
		logger:   log.Default(),
		config:   config,
		trigger:  NewScrollTrigger(DefaultThreshold, DefaultInterval),
	}
}

// WithLogger replaces the logger.
func (f *Feed) WithLogger(l *log.Logger) *Feed {
	f.logger = l
	return f
}

// WithTrigger replaces the scroll trigger.
func (f *Feed) WithTrigger(t *ScrollTrigger) *Feed {
	f.trigger = t
	return f
}

// Gallery returns the gallery the feed fills.
func (f *Feed) Gallery() *Gallery {
	return f.gallery
}

// LoadMore fetches the next page and appends its unique public URLs. It
// returns how many entries were added. Calling it while a fetch is running
// or after the last page is a no-op.
func (f *Feed) LoadMore(ctx context.Context) (int, error) {
	t, ok := f.gallery.beginLoad()
	if !ok {
		return 0, nil
	}
	first := f.fetches.Add(1) == 1

	advance, more := 0, false
	defer func() { f.gallery.endLoad(t, advance, more) }()

	entries, err := f.store.List(ctx, f.config.Prefix, store.ListOptions{
		Limit:  f.config.PageSize,
		Offset: t.offset,
		SortBy: store.NewestFirst,
	})
	if err != nil {
		f.logger.Printf("Error listing images: %v", err)
		if first {
			f.notifier.Notify(notify.Error, "Failed to load gallery. Please refresh the page.")
		}
		return 0, fmt.Errorf("failed to list gallery page at offset %d: %w", t.offset, err)
	}

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		if store.IsPlaceholder(e.Name) {
			continue
		}
		if u := f.store.PublicURL(store.Join(f.config.Prefix, e.Name)); u != "" {
			urls = append(urls, u)
		}
	}

	added := f.gallery.addPage(t, urls)
	advance = added
	if added == 0 {
		// a page of duplicates or placeholders must still move the cursor
		advance = len(entries)
	}
	more = len(entries) >= f.config.PageSize
	return added, nil
}

// OnScroll loads the next page when the viewport is near the end of the
// content. It reports whether a load was triggered.
func (f *Feed) OnScroll(ctx context.Context, scrollTop, viewportHeight, contentHeight float64) bool {
	if !f.trigger.Fire(Remaining(scrollTop, viewportHeight, contentHeight)) {
		return false
	}
	if _, err := f.LoadMore(ctx); err != nil {
		f.logger.Printf("Failed to load more covers: %v", err)
	}
	return true
}

// Scroll defaults.
const (
	DefaultThreshold = 300.0
	DefaultInterval  = 200 * time.Millisecond
)

// Remaining is the scroll distance left below the viewport.
func Remaining(scrollTop, viewportHeight, contentHeight float64) float64 {
	return contentHeight - (scrollTop + viewportHeight)
}

// ScrollTrigger fires when the remaining distance drops below Threshold,
// at most once per Interval.
type ScrollTrigger struct {
	threshold float64
	interval  time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewScrollTrigger creates a throttled trigger.
func NewScrollTrigger(threshold float64, interval time.Duration) *ScrollTrigger {
	return &ScrollTrigger{threshold: threshold, interval: interval, now: time.Now}
}

// Fire reports whether a load should start for this scroll event.
func (t *ScrollTrigger) Fire(remaining float64) bool {
	if remaining >= t.threshold {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
