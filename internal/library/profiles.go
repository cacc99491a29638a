package library

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/docstore"
)

// Profiles reads and mutates users/{id} documents.
type Profiles struct {
	store docstore.Store
	log   logrus.FieldLogger
}

// NewProfiles returns Profiles backed by store. log may be nil.
func NewProfiles(store docstore.Store, log logrus.FieldLogger) *Profiles {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Profiles{store: store, log: log.WithField("component", "profiles")}
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrAuthRequired
	}
	return nil
}

// Ensure creates the user document with empty lists when it is missing.
// created reports whether this call created it.
func (p *Profiles) Ensure(ctx context.Context, userID string) (created bool, err error) {
	if err := requireUser(userID); err != nil {
		return false, err
	}
	_, err = p.store.Create(ctx, UserKey(userID), docstore.Fields{
		FieldFavorites:   []any{},
		FieldCollections: []any{},
		FieldDownloads:   0,
		FieldCreatedAt:   docstore.ServerTimestamp,
		FieldLastLogin:   docstore.ServerTimestamp,
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, StoreError("ensure profile", err)
	}
	p.log.WithField("user_id", userID).Info("profile created")
	return true, nil
}

// Get returns the decoded profile. A missing document is not an error.
func (p *Profiles) Get(ctx context.Context, userID string) (UserProfile, error) {
	if err := requireUser(userID); err != nil {
		return UserProfile{}, err
	}
	doc, err := p.store.Get(ctx, UserKey(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return UserProfile{ID: userID}, nil
	}
	if err != nil {
		return UserProfile{}, StoreError("get profile", err)
	}
	return DecodeUser(doc), nil
}

// Touch stamps lastLogin, creating the profile first when needed.
func (p *Profiles) Touch(ctx context.Context, userID string) error {
	return p.update(ctx, "touch profile", userID, docstore.ServerTimestampOp(FieldLastLogin))
}

// SetFavorite adds or removes wallpaperID from the favorites set.
func (p *Profiles) SetFavorite(ctx context.Context, userID, wallpaperID string, favorite bool) error {
	if strings.TrimSpace(wallpaperID) == "" {
		return &ValidationError{Field: "wallpaper", Reason: "id is empty"}
	}
	op := docstore.ArrayRemove(FieldFavorites, wallpaperID)
	if favorite {
		op = docstore.ArrayUnion(FieldFavorites, wallpaperID)
	}
	return p.update(ctx, "set favorite", userID, op)
}

// RecordDownload increments the downloads counter.
func (p *Profiles) RecordDownload(ctx context.Context, userID string) error {
	return p.update(ctx, "record download", userID, docstore.Increment(FieldDownloads, 1))
}

// Link adds collectionID to the user's collections list.
func (p *Profiles) Link(ctx context.Context, userID, collectionID string) error {
	return p.update(ctx, "link collection", userID, docstore.ArrayUnion(FieldCollections, collectionID))
}

// Unlink removes collectionID from the user's collections list.
func (p *Profiles) Unlink(ctx context.Context, userID, collectionID string) error {
	return p.update(ctx, "unlink collection", userID, docstore.ArrayRemove(FieldCollections, collectionID))
}

// update applies ops, creating the profile lazily on the first miss.
func (p *Profiles) update(ctx context.Context, op, userID string, ops ...docstore.Op) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	err := p.store.Update(ctx, UserKey(userID), ops...)
	if errors.Is(err, docstore.ErrNotFound) {
		if _, err := p.Ensure(ctx, userID); err != nil {
			return err
		}
		err = p.store.Update(ctx, UserKey(userID), ops...)
	}
	return StoreError(op, err)
}
