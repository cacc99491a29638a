// Package notify holds transient status messages (toasts) that expire on
// their own after a fixed time to live.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = 3 * time.Second

// Severity classifies a toast.
type Severity string

const (
	Success Severity = "success"
	Error   Severity = "error"
	Info    Severity = "info"
)

// Toast is one live message.
type Toast struct {
	ID        string
	Text      string
	Severity  Severity
	ExpiresAt time.Time
}

// Notifier is the sink components report to.
type Notifier interface {
	Enqueue(text string, severity Severity) string
}

// Options configure New.
type Options struct {
	TTL   time.Duration
	Clock clockwork.Clock
	// OnChange runs after every add or removal, outside the queue lock.
	OnChange func()
}

// Queue is safe for concurrent use.
type Queue struct {
	ttl      time.Duration
	clock    clockwork.Clock
	onChange func()

	mu     sync.Mutex
	items  []Toast
	timers map[string]clockwork.Timer
	closed bool
}

// New returns an empty queue.
func New(opts Options) *Queue {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Queue{
		ttl:      ttl,
		clock:    clock,
		onChange: opts.OnChange,
		timers:   make(map[string]clockwork.Timer),
	}
}

// Enqueue adds a toast and returns its id. After Close it returns "".
func (q *Queue) Enqueue(text string, severity Severity) string {
	id := uuid.NewString()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ""
	}
	q.items = append(q.items, Toast{
		ID:        id,
		Text:      text,
		Severity:  severity,
		ExpiresAt: q.clock.Now().Add(q.ttl),
	})
	q.timers[id] = q.clock.AfterFunc(q.ttl, func() { q.remove(id) })
	q.mu.Unlock()

	q.changed()
	return id
}

// Dismiss removes the toast with id. Unknown or expired ids are ignored.
func (q *Queue) Dismiss(id string) {
	q.remove(id)
}

// remove is the single removal path for both dismissal and expiry.
func (q *Queue) remove(id string) {
	q.mu.Lock()
	idx := -1
	for i, t := range q.items {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	q.changed()
}

// Messages returns the live toasts, oldest first.
func (q *Queue) Messages() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Toast, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of live toasts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops all expiry timers and drops pending toasts.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.items = nil
	q.mu.Unlock()
}

func (q *Queue) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}
