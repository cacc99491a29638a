// Package favorites applies favorite toggles locally before the store
// confirms them and reconciles them against pushed snapshots.
package favorites

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/library"
	"github.com/five82/backdrop/internal/notify"
	"github.com/five82/backdrop/internal/state"
)

// DefaultTimeout bounds how long a pending toggle may mask the store.
const DefaultTimeout = 8 * time.Second

// ErrTimeout is reported when a write did not settle within the timeout.
var ErrTimeout = errors.New("favorite update timed out")

// Phase is the per-wallpaper mutation state.
type Phase int

const (
	Idle Phase = iota
	Pending
	Committed
	RolledBack
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	default:
		return "idle"
	}
}

// Writer persists one favorite. *library.Profiles implements it.
type Writer interface {
	SetFavorite(ctx context.Context, userID, wallpaperID string, favorite bool) error
}

// Event describes a visible change. Committed and RolledBack events mark the
// return to Idle; an Idle event settles a failed write that needs no revert.
type Event struct {
	WallpaperID string
	Favorite    bool
	Phase       Phase
	Err         error
}

// Options configure New.
type Options struct {
	UserID   string
	Writer   Writer
	Notifier notify.Notifier
	Clock    clockwork.Clock
	Timeout  time.Duration
	Logger   logrus.FieldLogger
	// OnChange runs outside the mutator lock.
	OnChange func(Event)
}

type pending struct {
	desired bool
	written bool
	gen     uint64
	cancel  context.CancelFunc
	timer   clockwork.Timer
}

// Mutator is safe for concurrent use.
type Mutator struct {
	userID   string
	writer   Writer
	notifier notify.Notifier
	clock    clockwork.Clock
	timeout  time.Duration
	log      logrus.FieldLogger
	onChange func(Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	known   map[string]struct{}
	order   []string
	pending map[string]*pending
	gen     uint64
}

// New returns a Mutator with no known favorites.
func New(opts Options) *Mutator {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mutator{
		userID:   strings.TrimSpace(opts.UserID),
		writer:   opts.Writer,
		notifier: opts.Notifier,
		clock:    clock,
		timeout:  timeout,
		log:      log.WithFields(logrus.Fields{"component": "favorites", "user_id": opts.UserID}),
		onChange: opts.OnChange,
		ctx:      ctx,
		cancel:   cancel,
		known:    make(map[string]struct{}),
		pending:  make(map[string]*pending),
	}
}

// Toggle flips the favorite for wallpaperID and returns the new optimistic
// value. The store write runs in the background. Toggling while a write is
// in flight only changes the desired value; a follow-up write is issued when
// the first settles, if still needed.
func (m *Mutator) Toggle(wallpaperID string) (bool, error) {
	if m.userID == "" {
		m.notify("Sign in to save favorites.", notify.Info)
		return false, library.ErrAuthRequired
	}
	if strings.TrimSpace(wallpaperID) == "" {
		return false, &library.ValidationError{Field: "wallpaper", Reason: "id is empty"}
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return false, context.Canceled
	}
	next := !m.valueLocked(wallpaperID)
	if p, ok := m.pending[wallpaperID]; ok {
		p.desired = next
	} else {
		p = &pending{desired: next}
		m.pending[wallpaperID] = p
		m.writeLocked(wallpaperID, p)
	}
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"wallpaper_id": wallpaperID, "favorite": next}).Debug("favorite toggled")
	m.emit(Event{WallpaperID: wallpaperID, Favorite: next, Phase: Pending})
	return next, nil
}

// writeLocked starts a write of p.desired under a new generation and rearms
// the timeout.
func (m *Mutator) writeLocked(id string, p *pending) {
	m.gen++
	gen := m.gen
	p.gen = gen
	p.written = p.desired
	if p.cancel != nil {
		p.cancel()
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	p.cancel = cancel
	p.timer = m.clock.AfterFunc(m.timeout, func() { m.expire(id, gen) })

	favorite := p.written
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := m.writer.SetFavorite(ctx, m.userID, id, favorite)
		m.settle(id, gen, favorite, err)
	}()
}

func (m *Mutator) settle(id string, gen uint64, written bool, err error) {
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok || p.gen != gen || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	p.cancel()

	log := m.log.WithFields(logrus.Fields{"wallpaper_id": id, "favorite": written})
	if err == nil {
		m.setKnownLocked(id, written)
		if p.desired != written {
			m.writeLocked(id, p)
			m.mu.Unlock()
			log.Debug("favorite write superseded, issuing follow-up")
			return
		}
		p.timer.Stop()
		delete(m.pending, id)
		m.mu.Unlock()
		log.Debug("favorite committed")
		m.emit(Event{WallpaperID: id, Favorite: written, Phase: Committed})
		return
	}

	p.timer.Stop()
	delete(m.pending, id)
	value := m.valueLocked(id)
	m.mu.Unlock()

	if value == p.desired {
		// The rollback already shows the last requested value.
		log.WithError(err).Info("favorite write failed after being toggled back")
		m.emit(Event{WallpaperID: id, Favorite: value, Phase: Idle})
		return
	}

	log.WithError(err).Warn("favorite write failed, rolling back")
	if errors.Is(err, library.ErrAuthRequired) {
		m.notify("Sign in to save favorites.", notify.Info)
	} else {
		m.notify("Could not update favorites. Change reverted.", notify.Error)
	}
	m.emit(Event{WallpaperID: id, Favorite: value, Phase: RolledBack, Err: err})
}

// expire abandons a write that did not settle in time and shows the latest
// snapshot value. A late result of that generation is ignored.
func (m *Mutator) expire(id string, gen uint64) {
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok || p.gen != gen {
		m.mu.Unlock()
		return
	}
	p.cancel()
	delete(m.pending, id)
	value := m.valueLocked(id)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"wallpaper_id": id, "timeout": m.timeout}).Warn("favorite write timed out")
	m.notify("Favorite not saved: the server did not respond.", notify.Error)
	m.emit(Event{WallpaperID: id, Favorite: value, Phase: RolledBack, Err: ErrTimeout})
}

// Reconcile adopts snap as the authoritative favorites. Pending ids keep
// their optimistic value until they settle or time out.
func (m *Mutator) Reconcile(snap state.Snapshot) {
	if snap.UserID != "" && snap.UserID != m.userID {
		return
	}
	m.mu.Lock()
	var events []Event
	next := make(map[string]struct{}, len(snap.Favorites))
	for id := range snap.Favorites {
		next[id] = struct{}{}
	}
	for id := range next {
		if _, had := m.known[id]; !had {
			if _, busy := m.pending[id]; !busy {
				events = append(events, Event{WallpaperID: id, Favorite: true, Phase: Idle})
			}
		}
	}
	for id := range m.known {
		if _, keep := next[id]; !keep {
			if _, busy := m.pending[id]; !busy {
				events = append(events, Event{WallpaperID: id, Favorite: false, Phase: Idle})
			}
		}
	}
	m.known = next
	m.order = append([]string(nil), snap.FavoriteOrder...)
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ev)
	}
}

// IsFavorite returns the value currently shown for id.
func (m *Mutator) IsFavorite(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valueLocked(id)
}

// State returns Pending while a write for id is in flight, otherwise Idle.
func (m *Mutator) State(id string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; ok {
		return Pending
	}
	return Idle
}

// Favorites lists the ids currently shown as favorites, in snapshot order
// followed by optimistic additions.
func (m *Mutator) Favorites() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.known)+len(m.pending))
	listed := make(map[string]struct{}, len(m.known))
	for _, id := range m.order {
		if _, ok := m.known[id]; ok && m.valueLocked(id) {
			out = append(out, id)
			listed[id] = struct{}{}
		}
	}
	for id := range m.known {
		if _, ok := listed[id]; !ok && m.valueLocked(id) {
			out = append(out, id)
			listed[id] = struct{}{}
		}
	}
	for id, p := range m.pending {
		if _, ok := listed[id]; !ok && p.desired {
			out = append(out, id)
		}
	}
	return out
}

// Close cancels in-flight writes and waits for them to return.
func (m *Mutator) Close() {
	m.mu.Lock()
	m.cancel()
	for id, p := range m.pending {
		p.cancel()
		p.timer.Stop()
		delete(m.pending, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mutator) valueLocked(id string) bool {
	if p, ok := m.pending[id]; ok {
		return p.desired
	}
	_, ok := m.known[id]
	return ok
}

func (m *Mutator) setKnownLocked(id string, favorite bool) {
	if favorite {
		if _, ok := m.known[id]; !ok {
			m.known[id] = struct{}{}
			m.order = append(m.order, id)
		}
		return
	}
	delete(m.known, id)
}

func (m *Mutator) notify(text string, severity notify.Severity) {
	if m.notifier != nil {
		m.notifier.Enqueue(text, severity)
	}
}

func (m *Mutator) emit(ev Event) {
	if m.onChange != nil {
		m.onChange(ev)
	}
}
