// Package feed accumulates catalog pages into one deduplicated list per
// (query, category) pair and discards responses that arrive after the pair
// has changed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/library"
	"github.com/five82/backdrop/internal/notify"
	"github.com/five82/backdrop/internal/unsplash"
)

// DefaultPerPage is the page size when Options.PerPage is zero.
const DefaultPerPage = 12

// Page is the outcome of one RequestPage call. Items is the whole accumulated
// list for the current pair, not only the new page.
type Page struct {
	Items   []unsplash.Wallpaper
	Added   int
	HasMore bool
	Epoch   uint64
	// Stale is set when the pair changed while the request was in flight; the
	// response was dropped and Items reflects the newer pair.
	Stale bool
}

// State is a point-in-time copy of the paginator.
type State struct {
	Query    string
	Category string
	Epoch    uint64
	Items    []unsplash.Wallpaper
}

// Options configure New.
type Options struct {
	Source  unsplash.Source
	PerPage int
	// Categories maps category ids to catalog collection ids.
	Categories map[string]string
	Notifier   notify.Notifier
	Logger     logrus.FieldLogger
}

// Paginator is safe for concurrent use.
type Paginator struct {
	source     unsplash.Source
	perPage    int
	categories map[string]string
	notifier   notify.Notifier
	log        logrus.FieldLogger

	mu       sync.Mutex
	started  bool
	query    string
	category string
	epoch    uint64
	items    []unsplash.Wallpaper
	seen     map[string]struct{}
}

// New returns an empty paginator.
func New(opts Options) *Paginator {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	categories := make(map[string]string, len(opts.Categories))
	for id, collection := range opts.Categories {
		categories[strings.ToLower(strings.TrimSpace(id))] = strings.TrimSpace(collection)
	}
	return &Paginator{
		source:     opts.Source,
		perPage:    perPage,
		categories: categories,
		notifier:   opts.Notifier,
		log:        log.WithField("component", "feed"),
		seen:       make(map[string]struct{}),
	}
}

// RequestPage fetches page for the pair and appends unseen items. Changing
// the pair starts a new epoch with an empty list.
func (p *Paginator) RequestPage(ctx context.Context, query, category string, page int) (Page, error) {
	if page < 1 {
		return Page{}, &library.ValidationError{Field: "page", Reason: fmt.Sprintf("must be >= 1, got %d", page)}
	}
	query = strings.TrimSpace(query)
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		category = unsplash.AllCategory
	}

	p.mu.Lock()
	if !p.started || query != p.query || category != p.category {
		p.started = true
		p.query = query
		p.category = category
		p.resetLocked()
	}
	epoch := p.epoch
	p.mu.Unlock()

	log := p.log.WithFields(logrus.Fields{"query": query, "category": category, "page": page, "epoch": epoch})
	fetched, err := p.source.FetchPage(ctx, unsplash.Query{
		Search:       query,
		CollectionID: p.collectionFor(category),
		Page:         page,
		PerPage:      p.perPage,
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.epoch != epoch {
		log.WithField("current_epoch", p.epoch).Debug("discarding stale page")
		return Page{Items: p.copyLocked(), Epoch: p.epoch, Stale: true}, nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Page{Items: p.copyLocked(), Epoch: epoch}, err
		}
		log.WithError(err).Warn("page fetch failed")
		if p.notifier != nil {
			p.notifier.Enqueue("Could not load wallpapers. Try again.", notify.Error)
		}
		return Page{Items: p.copyLocked(), Epoch: epoch}, &library.NetworkError{Op: "fetch page", Err: err}
	}

	added := 0
	for _, item := range fetched {
		if _, dup := p.seen[item.ID]; dup {
			continue
		}
		p.seen[item.ID] = struct{}{}
		p.items = append(p.items, item)
		added++
	}
	log.WithFields(logrus.Fields{"fetched": len(fetched), "added": added}).Debug("page applied")
	return Page{
		Items:   p.copyLocked(),
		Added:   added,
		HasMore: len(fetched) >= p.perPage,
		Epoch:   epoch,
	}, nil
}

// Reset starts a new epoch for the current pair. Responses still in flight
// are discarded.
func (p *Paginator) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

// Snapshot returns the current pair, epoch and a copy of the list.
func (p *Paginator) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{Query: p.query, Category: p.category, Epoch: p.epoch, Items: p.copyLocked()}
}

func (p *Paginator) resetLocked() {
	p.epoch++
	p.items = nil
	p.seen = make(map[string]struct{})
}

func (p *Paginator) copyLocked() []unsplash.Wallpaper {
	out := make([]unsplash.Wallpaper, len(p.items))
	copy(out, p.items)
	return out
}

// collectionFor resolves a category id. Unknown ids are passed through as a
// catalog collection id.
func (p *Paginator) collectionFor(category string) string {
	if category == unsplash.AllCategory {
		return ""
	}
	if collection, ok := p.categories[category]; ok {
		return collection
	}
	return category
}

// CategoryMap converts a category list into the id to collection mapping.
func CategoryMap(categories []unsplash.Category) map[string]string {
	out := make(map[string]string, len(categories))
	for _, c := range categories {
		out[c.ID] = c.CollectionID
	}
	return out
}
