// Package notify holds transient user notifications (toasts).
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the severity of a toast.
type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Info    Kind = "info"
	Warning Kind = "warning"
)

// DefaultDuration is how long a toast stays visible unless told otherwise.
const DefaultDuration = 5 * time.Second

// Toast is one notification.
type Toast struct {
	ID       string
	Message  string
	Kind     Kind
	Duration time.Duration
	Created  time.Time
}

// Notifier receives user-facing messages.
type Notifier interface {
	Notify(kind Kind, message string)
}

// Center is the toast store. Toasts expire after their duration; a zero or
// negative duration keeps a toast until Remove.
type Center struct {
	mu       sync.Mutex
	toasts   []Toast
	timers   map[string]*time.Timer
	duration time.Duration
	onChange func([]Toast)
}

var _ Notifier = (*Center)(nil)

// NewCenter creates a toast store whose Notify uses duration.
func NewCenter(duration time.Duration) *Center {
	return &Center{
		timers:   make(map[string]*time.Timer),
		duration: duration,
	}
}

// OnChange registers fn to be called with a snapshot after every change.
func (c *Center) OnChange(fn func([]Toast)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Notify adds a toast with the default duration.
func (c *Center) Notify(kind Kind, message string) {
	c.Add(kind, message, c.duration)
}

// Add appends a toast and returns its ID.
func (c *Center) Add(kind Kind, message string, duration time.Duration) string {
	t := Toast{
		ID:       "toast-" + uuid.NewString(),
		Message:  message,
		Kind:     kind,
		Duration: duration,
		Created:  time.Now(),
	}

	c.mu.Lock()
	c.toasts = append(c.toasts, t)
	if duration > 0 {
		id := t.ID
		c.timers[id] = time.AfterFunc(duration, func() { c.Remove(id) })
	}
	c.changed()
	c.mu.Unlock()
	return t.ID
}

// Remove drops the toast with id. Unknown IDs are ignored.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[id]; ok {
		timer.Stop()
		delete(c.timers, id)
	}
	for i, t := range c.toasts {
		if t.ID == id {
			c.toasts = append(c.toasts[:i:i], c.toasts[i+1:]...)
			c.changed()
			return
		}
	}
}

// Toasts returns the visible toasts, oldest first.
func (c *Center) Toasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Toast(nil), c.toasts...)
}

// Close stops all expiry timers and clears the store.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	c.toasts = nil
}

// changed must be called with mu held.
func (c *Center) changed() {
	if c.onChange != nil {
		c.onChange(append([]Toast(nil), c.toasts...))
	}
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(kind Kind, message string) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[%s] %s", kind, message)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(kind Kind, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(kind, message)
		}
	}
}

// Discard drops every notification.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(Kind, string) {}

// Recorder keeps every notification it receives. It is safe for concurrent
// use and intended for tests and headless runs.
type Recorder struct {
	mu      sync.Mutex
	entries []Toast
}

// Notify implements Notifier.
func (r *Recorder) Notify(kind Kind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Toast{Kind: kind, Message: message, Created: time.Now()})
}

// Entries returns what was recorded so far.
func (r *Recorder) Entries() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.entries...)
}

// Count returns how many notifications of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
