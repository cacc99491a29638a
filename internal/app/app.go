package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/collections"
	"github.com/five82/backdrop/internal/config"
	"github.com/five82/backdrop/internal/docstore"
	"github.com/five82/backdrop/internal/docstore/remote"
	"github.com/five82/backdrop/internal/download"
	"github.com/five82/backdrop/internal/favorites"
	"github.com/five82/backdrop/internal/feed"
	"github.com/five82/backdrop/internal/library"
	"github.com/five82/backdrop/internal/notify"
	"github.com/five82/backdrop/internal/state"
	"github.com/five82/backdrop/internal/unsplash"
)

// Options configure Open. Docs and Source override what Config would build.
type Options struct {
	Config config.Config
	Logger logrus.FieldLogger
	Clock  clockwork.Clock
	Docs   docstore.Store
	Source unsplash.Source
	// NoCatalog skips the catalog client for commands that only touch the
	// library.
	NoCatalog bool
}

// Session owns every engine component for one signed-in (or anonymous)
// user.
type Session struct {
	Config      config.Config
	UserID      string
	Docs        docstore.Store
	Notes       *notify.Queue
	Catalog     unsplash.Source
	Feed        *feed.Paginator
	States      *state.Store
	Profiles    *library.Profiles
	Favorites   *favorites.Mutator
	Collections *collections.Service
	Downloads   *download.Fetcher

	log       logrus.FieldLogger
	ownsDocs  bool
	changed   chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu       sync.Mutex
	sub      *state.Subscription
	snapshot state.Snapshot
	synced   bool
}

// Open builds a session. Call Start to begin syncing and Close when done.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Session{
		Config:  cfg,
		UserID:  cfg.UserID,
		log:     log.WithField("component", "app"),
		changed: make(chan struct{}, 1),
	}

	s.Docs = opts.Docs
	if s.Docs == nil {
		docs, err := OpenStore(ctx, cfg, log, clock)
		if err != nil {
			return nil, err
		}
		s.Docs = docs
		s.ownsDocs = true
	}

	s.Catalog = opts.Source
	if s.Catalog == nil && !opts.NoCatalog {
		client, err := unsplash.NewClient(cfg.UnsplashConfig())
		if err != nil {
			s.closeDocs()
			return nil, fmt.Errorf("init catalog client: %w", err)
		}
		s.Catalog = client
	}

	s.Notes = notify.New(notify.Options{TTL: cfg.ToastTTL, Clock: clock, OnChange: s.signal})
	s.Profiles = library.NewProfiles(s.Docs, log)
	s.States = state.New(s.Docs, state.Options{Clock: clock, Logger: log})
	s.Favorites = favorites.New(favorites.Options{
		UserID:   s.UserID,
		Writer:   s.Profiles,
		Notifier: s.Notes,
		Clock:    clock,
		Timeout:  cfg.FavoriteTimeout,
		Logger:   log,
		OnChange: func(favorites.Event) { s.signal() },
	})
	s.Collections = collections.New(s.Docs, collections.Options{Notifier: s.Notes, Logger: log})
	if s.Catalog != nil {
		s.Feed = feed.New(feed.Options{
			Source:     s.Catalog,
			PerPage:    cfg.PerPage,
			Categories: cfg.Categories,
			Notifier:   s.Notes,
			Logger:     log,
		})
	}

	photos, _ := s.Catalog.(download.PhotoSource)
	s.Downloads = download.New(download.Options{
		Dir:      cfg.DownloadDir,
		UserID:   s.UserID,
		MaxWidth: cfg.MaxWidth,
		Photos:   photos,
		Recorder: s.Profiles,
		Notifier: s.Notes,
		Logger:   log,
	})
	return s, nil
}

// OpenStore returns the remote store when cfg.StoreURL is set and the
// embedded SQLite store otherwise.
func OpenStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger, clock clockwork.Clock) (docstore.Store, error) {
	if cfg.StoreURL != "" {
		client, err := remote.Dial(ctx, cfg.StoreURL, remote.ClientOptions{Logger: log})
		if err != nil {
			return nil, fmt.Errorf("connect document store: %w", err)
		}
		return client, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	docs, err := docstore.OpenSQLite(cfg.StorePath, docstore.SQLiteOptions{Clock: clock, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	return docs, nil
}

// Start bootstraps the user's profile and subscribes to it. Anonymous
// sessions browse the feed only.
func (s *Session) Start(ctx context.Context) error {
	if s.UserID == "" {
		s.log.Info("no user configured; library features disabled")
		return nil
	}
	log := s.log.WithField("user_id", s.UserID)
	created, err := s.Profiles.Ensure(ctx, s.UserID)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	if !created {
		if err := s.Profiles.Touch(ctx, s.UserID); err != nil {
			log.WithError(err).Warn("update last login failed")
		}
	}

	syncCtx, cancel := context.WithCancel(ctx)
	sub, err := s.States.Subscribe(syncCtx, s.UserID)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to library: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runSync(syncCtx, sub, s.apply)
	}()
	log.WithField("profile_created", created).Info("session started")
	return nil
}

func (s *Session) apply(snap state.Snapshot) {
	s.Favorites.Reconcile(snap)
	s.mu.Lock()
	s.snapshot = snap
	s.synced = true
	s.mu.Unlock()
	s.signal()
}

// Library returns the newest snapshot and whether one has arrived.
func (s *Session) Library() (state.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.synced
}

// Changes fires after toasts, favorites or the library change. Signals
// coalesce; receivers should re-read everything they display.
func (s *Session) Changes() <-chan struct{} { return s.changed }

func (s *Session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Close stops syncing, pending writes and toast timers, then closes the
// store if the session opened it.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		sub, cancel := s.sub, s.cancel
		s.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		s.Favorites.Close()
		s.Notes.Close()
		err = s.closeDocs()
	})
	return err
}

func (s *Session) closeDocs() error {
	if !s.ownsDocs {
		return nil
	}
	if err := s.Docs.Close(); err != nil {
		return fmt.Errorf("close document store: %w", err)
	}
	return nil
}
