package state

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/docstore"
	"github.com/five82/backdrop/internal/library"
)

// Snapshot is a complete replacement of a user's library state.
type Snapshot struct {
	UserID        string
	Exists        bool
	Favorites     map[string]struct{}
	FavoriteOrder []string
	// Collections follows the order of the user's collections list. Entries
	// whose document is missing are omitted.
	Collections []library.Collection
	Downloads   int
	ReceivedAt  time.Time
}

// IsFavorite reports whether id is in the snapshot's favorites.
func (s Snapshot) IsFavorite(id string) bool {
	_, ok := s.Favorites[id]
	return ok
}

// Collection returns the collection with id, if present.
func (s Snapshot) Collection(id string) (library.Collection, bool) {
	for _, c := range s.Collections {
		if c.ID == id {
			return c, true
		}
	}
	return library.Collection{}, false
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Favorites = make(map[string]struct{}, len(s.Favorites))
	for id := range s.Favorites {
		out.Favorites[id] = struct{}{}
	}
	out.FavoriteOrder = append([]string(nil), s.FavoriteOrder...)
	out.Collections = make([]library.Collection, len(s.Collections))
	for i, c := range s.Collections {
		c.Members = append([]string(nil), c.Members...)
		out.Collections[i] = c
	}
	return out
}

// Options configure New.
type Options struct {
	Clock  clockwork.Clock
	Logger logrus.FieldLogger
}

// Store turns document watches into per-user snapshot subscriptions.
type Store struct {
	docs  docstore.Store
	clock clockwork.Clock
	log   logrus.FieldLogger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New returns a Store reading from docs.
func New(docs docstore.Store, opts Options) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Store{
		docs:  docs,
		clock: clock,
		log:   log.WithField("component", "state"),
		subs:  make(map[*Subscription]struct{}),
	}
}

// Subscribe starts a subscription for userID. The first snapshot reflects the
// current documents; a missing user document yields an empty snapshot with
// Exists false. The subscription ends on Cancel or when ctx is done.
func (s *Store) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, library.ErrAuthRequired
	}
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		store:   s,
		userID:  userID,
		ctx:     subCtx,
		cancel:  cancel,
		out:     make(chan Snapshot, 1),
		done:    make(chan struct{}),
		watches: make(map[string]*docstore.Watch),
		fetched: make(map[string]library.Collection),
		log:     s.log.WithField("user_id", userID),
	}

	userWatch, err := s.docs.Watch(subCtx, library.UserKey(userID))
	if err != nil {
		cancel()
		return nil, library.StoreError("watch user", err)
	}
	sub.userWatch = userWatch

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for doc := range userWatch.C() {
			sub.applyUser(doc)
		}
	}()
	stop := context.AfterFunc(ctx, sub.Cancel)
	sub.mu.Lock()
	sub.stopOnDone = stop
	sub.mu.Unlock()
	sub.log.Debug("subscribed")
	return sub, nil
}

// Unsubscribe cancels sub. Equivalent to sub.Cancel.
func (s *Store) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Cancel()
	}
}

// Active returns the number of live subscriptions.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) remove(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Subscription is one consumer's live view of a user. Snapshots delivers the
// newest snapshot; a slow reader skips intermediate ones.
type Subscription struct {
	store  *Store
	userID string
	ctx    context.Context
	cancel context.CancelFunc
	out    chan Snapshot
	done   chan struct{}
	log    logrus.FieldLogger
	wg     sync.WaitGroup
	once   sync.Once

	mu         sync.Mutex
	closed     bool
	stopOnDone func() bool
	userWatch  *docstore.Watch
	user       library.UserProfile
	received   bool
	watches    map[string]*docstore.Watch
	fetched    map[string]library.Collection
	latest     Snapshot
}

// UserID returns the subscribed user.
func (sub *Subscription) UserID() string { return sub.userID }

// Snapshots returns the delivery channel. It is closed by Cancel.
func (sub *Subscription) Snapshots() <-chan Snapshot { return sub.out }

// Done is closed once the subscription has been cancelled.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Latest returns the most recent snapshot built, if any.
func (sub *Subscription) Latest() (Snapshot, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.received {
		return Snapshot{}, false
	}
	return sub.latest.clone(), true
}

// Cancel releases every underlying watch. It is idempotent, and no snapshot
// is delivered after it returns.
func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.closed = true
		select {
		case <-sub.out:
		default:
		}
		close(sub.out)
		close(sub.done)
		watches := make([]*docstore.Watch, 0, len(sub.watches)+1)
		if sub.userWatch != nil {
			watches = append(watches, sub.userWatch)
		}
		for id, w := range sub.watches {
			watches = append(watches, w)
			delete(sub.watches, id)
		}
		stop := sub.stopOnDone
		sub.mu.Unlock()

		if stop != nil {
			stop()
		}
		sub.cancel()
		for _, w := range watches {
			w.Stop()
		}
		sub.wg.Wait()
		sub.store.remove(sub)
		sub.log.Debug("unsubscribed")
	})
}

// applyUser runs on the user watch goroutine only, so collection watch
// changes are never computed concurrently.
func (sub *Subscription) applyUser(doc docstore.Document) {
	user := library.DecodeUser(doc)

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	wanted := make(map[string]struct{}, len(user.Collections))
	for _, id := range user.Collections {
		wanted[id] = struct{}{}
	}
	var stale []*docstore.Watch
	for id, w := range sub.watches {
		if _, ok := wanted[id]; !ok {
			stale = append(stale, w)
			delete(sub.watches, id)
			delete(sub.fetched, id)
		}
	}
	var added []string
	for _, id := range user.Collections {
		if _, ok := sub.watches[id]; !ok {
			added = append(added, id)
		}
	}
	sub.user = user
	sub.received = true
	sub.emitLocked()
	sub.mu.Unlock()

	for _, w := range stale {
		w.Stop()
	}
	for _, id := range added {
		sub.watchCollection(id)
	}
}

func (sub *Subscription) watchCollection(id string) {
	w, err := sub.store.docs.Watch(sub.ctx, library.CollectionKey(id))
	if err != nil {
		if sub.ctx.Err() == nil {
			sub.log.WithError(err).WithField("collection_id", id).Warn("watch collection failed")
		}
		return
	}

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		w.Stop()
		return
	}
	sub.watches[id] = w
	sub.mu.Unlock()

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for doc := range w.C() {
			sub.applyCollection(id, w, doc)
		}
	}()
}

func (sub *Subscription) applyCollection(id string, w *docstore.Watch, doc docstore.Document) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || sub.watches[id] != w {
		return
	}
	if c, ok := library.DecodeCollection(doc); ok {
		sub.fetched[id] = c
	} else {
		delete(sub.fetched, id)
	}
	sub.emitLocked()
}

// emitLocked builds a snapshot and replaces any unread one.
func (sub *Subscription) emitLocked() {
	snap := Snapshot{
		UserID:        sub.userID,
		Exists:        sub.user.Exists,
		Favorites:     make(map[string]struct{}, len(sub.user.Favorites)),
		FavoriteOrder: append([]string(nil), sub.user.Favorites...),
		Collections:   make([]library.Collection, 0, len(sub.user.Collections)),
		Downloads:     sub.user.Downloads,
		ReceivedAt:    sub.store.clock.Now(),
	}
	for _, id := range sub.user.Favorites {
		snap.Favorites[id] = struct{}{}
	}
	for _, id := range sub.user.Collections {
		if c, ok := sub.fetched[id]; ok {
			snap.Collections = append(snap.Collections, c)
		}
	}
	sub.latest = snap

	select {
	case <-sub.out:
	default:
	}
	sub.out <- snap.clone()
}
