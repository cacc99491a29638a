package docstore

import (
	"context"
	"sync"
)

// Watch is a push subscription to one document. C delivers full documents,
// newest wins: a slow reader skips intermediate versions but always sees the
// latest one. After Stop returns, C is closed and nothing more is delivered.
type Watch struct {
	key    Key
	ch     chan Document
	onStop func()

	mu      sync.Mutex
	version int64
	stopped bool
	release func() bool
	once    sync.Once
}

// NewWatch returns an unregistered watch. onStop runs once, after the
// channel has been closed. Store implementations feed it through Offer.
func NewWatch(key Key, onStop func()) *Watch {
	return &Watch{
		key:     key,
		ch:      make(chan Document, 1),
		onStop:  onStop,
		version: -1,
	}
}

// Key returns the watched document key.
func (w *Watch) Key() Key { return w.key }

// C returns the delivery channel.
func (w *Watch) C() <-chan Document { return w.ch }

// Offer queues doc unless it is older than what was already offered or the
// watch is stopped. A queued but unread document is replaced.
func (w *Watch) Offer(doc Document) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || doc.Version <= w.version {
		return
	}
	w.version = doc.Version
	select {
	case <-w.ch:
	default:
	}
	w.ch <- doc.Clone()
}

// Bind stops the watch when ctx is done.
func (w *Watch) Bind(ctx context.Context) {
	stop := context.AfterFunc(ctx, w.Stop)
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		stop()
		return
	}
	w.release = stop
	w.mu.Unlock()
}

// Stop ends the subscription. Safe to call more than once.
func (w *Watch) Stop() {
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		select {
		case <-w.ch:
		default:
		}
		close(w.ch)
		release := w.release
		w.mu.Unlock()
		if release != nil {
			release()
		}
		if w.onStop != nil {
			w.onStop()
		}
	})
}

// Hub fans document changes out to registered watches.
type Hub struct {
	mu       sync.Mutex
	watchers map[Key]map[*Watch]struct{}
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[Key]map[*Watch]struct{})}
}

// Register creates a watch for key. The watch unregisters itself on Stop.
func (h *Hub) Register(key Key) (*Watch, error) {
	var w *Watch
	w = NewWatch(key, func() { h.unregister(w) })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.watchers[key] == nil {
		h.watchers[key] = make(map[*Watch]struct{})
	}
	h.watchers[key][w] = struct{}{}
	return w, nil
}

func (h *Hub) unregister(w *Watch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.watchers[w.key]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.watchers, w.key)
		}
	}
}

// Publish offers doc to every watch on its key.
func (h *Hub) Publish(doc Document) {
	h.mu.Lock()
	targets := make([]*Watch, 0, len(h.watchers[doc.Key]))
	for w := range h.watchers[doc.Key] {
		targets = append(targets, w)
	}
	h.mu.Unlock()

	for _, w := range targets {
		w.Offer(doc)
	}
}

// Count returns the number of live watches.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.watchers {
		n += len(set)
	}
	return n
}

// Close stops every watch and rejects new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Watch
	for _, set := range h.watchers {
		for w := range set {
			all = append(all, w)
		}
	}
	h.mu.Unlock()

	for _, w := range all {
		w.Stop()
	}
}
