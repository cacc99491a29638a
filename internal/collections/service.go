// Package collections mutates user collections. A collection lives in its
// own document and the owner's profile holds a back-reference; the two are
// written in a fixed order without a transaction, and a failed second step
// is reported as a *library.PartialWriteError naming its repair call.
package collections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/docstore"
	"github.com/five82/backdrop/internal/library"
	"github.com/five82/backdrop/internal/notify"
)

// Repair operation names carried in PartialWriteError.Remedy.
const (
	RemedyLinkToOwner     = "LinkToOwner"
	RemedyPurgeCollection = "PurgeCollection"
)

// Options configure New.
type Options struct {
	Notifier notify.Notifier
	Logger   logrus.FieldLogger
}

// Service is safe for concurrent use.
type Service struct {
	docs     docstore.Store
	profiles *library.Profiles
	notifier notify.Notifier
	log      logrus.FieldLogger
}

// New returns a Service writing to docs.
func New(docs docstore.Store, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	log = log.WithField("component", "collections")
	return &Service{
		docs:     docs,
		profiles: library.NewProfiles(docs, log),
		notifier: opts.Notifier,
		log:      log,
	}
}

// Create makes an empty collection owned by ownerID and links it to the
// owner's profile. When linking fails the id is returned together with a
// PartialWriteError; retry with LinkToOwner.
func (s *Service) Create(ctx context.Context, ownerID, name, description string) (string, error) {
	log := s.log.WithFields(logrus.Fields{"op": "create", "user_id": ownerID})
	if err := s.requireActor(ownerID); err != nil {
		return "", s.fail(log, err, "")
	}
	name, description, err := validateName(name, description)
	if err != nil {
		return "", s.fail(log, err, "")
	}
	if _, err := s.profiles.Ensure(ctx, ownerID); err != nil {
		return "", s.fail(log, err, "Could not create collection.")
	}

	key, err := s.docs.Create(ctx, library.CollectionKey(""), docstore.Fields{
		library.FieldName:        name,
		library.FieldDescription: description,
		library.FieldOwnerID:     ownerID,
		library.FieldMembers:     []any{},
		library.FieldCreatedAt:   docstore.ServerTimestamp,
		library.FieldUpdatedAt:   docstore.ServerTimestamp,
	})
	if err != nil {
		return "", s.fail(log, library.StoreError("create collection", err), "Could not create collection.")
	}
	log = log.WithField("collection_id", key.ID)

	if err := s.profiles.Link(ctx, ownerID, key.ID); err != nil {
		partial := &library.PartialWriteError{
			Op:           "create",
			Step:         2,
			CollectionID: key.ID,
			Remedy:       RemedyLinkToOwner,
			Err:          err,
		}
		return key.ID, s.fail(log, partial, fmt.Sprintf("Collection %q was created but not added to your library.", name))
	}

	log.WithField("name", name).Info("collection created")
	s.notify(fmt.Sprintf("Created collection %q.", name), notify.Success)
	return key.ID, nil
}

// LinkToOwner repairs a create whose second step failed. It is idempotent.
func (s *Service) LinkToOwner(ctx context.Context, ownerID, collectionID string) error {
	log := s.log.WithFields(logrus.Fields{"op": "link", "user_id": ownerID, "collection_id": collectionID})
	if _, err := s.owned(ctx, ownerID, collectionID); err != nil {
		return s.fail(log, err, "Could not repair collection.")
	}
	if err := s.profiles.Link(ctx, ownerID, collectionID); err != nil {
		return s.fail(log, err, "Could not repair collection.")
	}
	log.Info("collection linked to owner")
	return nil
}

// AddMember adds wallpaperID to the collection. Adding an existing member is
// a no-op.
func (s *Service) AddMember(ctx context.Context, actorID, collectionID, wallpaperID string) error {
	return s.member(ctx, "add", actorID, collectionID, wallpaperID,
		docstore.ArrayUnion(library.FieldMembers, wallpaperID))
}

// RemoveMember removes wallpaperID from the collection. Removing a missing
// member is a no-op.
func (s *Service) RemoveMember(ctx context.Context, actorID, collectionID, wallpaperID string) error {
	return s.member(ctx, "remove", actorID, collectionID, wallpaperID,
		docstore.ArrayRemove(library.FieldMembers, wallpaperID))
}

func (s *Service) member(ctx context.Context, op, actorID, collectionID, wallpaperID string, change docstore.Op) error {
	log := s.log.WithFields(logrus.Fields{
		"op":            op,
		"user_id":       actorID,
		"collection_id": collectionID,
		"wallpaper_id":  wallpaperID,
	})
	if strings.TrimSpace(wallpaperID) == "" {
		return s.fail(log, &library.ValidationError{Field: "wallpaper", Reason: "id is empty"}, "")
	}
	if _, err := s.owned(ctx, actorID, collectionID); err != nil {
		return s.fail(log, err, "Could not update collection.")
	}
	err := s.docs.Update(ctx, library.CollectionKey(collectionID), change,
		docstore.ServerTimestampOp(library.FieldUpdatedAt))
	if err != nil {
		return s.fail(log, library.StoreError(op+" member", err), "Could not update collection.")
	}
	log.Debug("collection membership updated")
	return nil
}

// Delete removes the owner's back-reference, then the collection document.
// When the second step fails the collection survives unreferenced and a
// PartialWriteError is returned; retry with PurgeCollection. Deleting a
// collection whose document is already gone only clears the reference.
func (s *Service) Delete(ctx context.Context, ownerID, collectionID string) error {
	log := s.log.WithFields(logrus.Fields{"op": "delete", "user_id": ownerID, "collection_id": collectionID})
	c, err := s.owned(ctx, ownerID, collectionID)
	if errors.Is(err, library.ErrNotFound) {
		return s.unlinkMissing(ctx, log, ownerID, collectionID, "Could not delete collection.")
	}
	if err != nil {
		return s.fail(log, err, "Could not delete collection.")
	}
	if err := s.profiles.Unlink(ctx, ownerID, collectionID); err != nil {
		return s.fail(log, err, "Could not delete collection.")
	}
	if err := s.docs.Delete(ctx, library.CollectionKey(collectionID)); err != nil {
		partial := &library.PartialWriteError{
			Op:           "delete",
			Step:         2,
			CollectionID: collectionID,
			Remedy:       RemedyPurgeCollection,
			Err:          library.StoreError("delete collection", err),
		}
		return s.fail(log, partial, fmt.Sprintf("Collection %q was removed from your library but not deleted.", c.Name))
	}
	log.Info("collection deleted")
	s.notify(fmt.Sprintf("Deleted collection %q.", c.Name), notify.Success)
	return nil
}

// PurgeCollection repairs a delete whose second step failed. A collection
// that is already gone is not an error; any reference the owner still holds
// to it is removed.
func (s *Service) PurgeCollection(ctx context.Context, ownerID, collectionID string) error {
	log := s.log.WithFields(logrus.Fields{"op": "purge", "user_id": ownerID, "collection_id": collectionID})
	_, err := s.owned(ctx, ownerID, collectionID)
	if errors.Is(err, library.ErrNotFound) {
		return s.unlinkMissing(ctx, log, ownerID, collectionID, "Could not finish deleting collection.")
	}
	if err != nil {
		return s.fail(log, err, "Could not finish deleting collection.")
	}
	if err := s.docs.Delete(ctx, library.CollectionKey(collectionID)); err != nil {
		return s.fail(log, library.StoreError("purge collection", err), "Could not finish deleting collection.")
	}
	log.Info("collection purged")
	return nil
}

// unlinkMissing drops a reference to a collection document that no longer
// exists. Only the actor's own profile is touched.
func (s *Service) unlinkMissing(ctx context.Context, log logrus.FieldLogger, ownerID, collectionID, text string) error {
	if err := s.profiles.Unlink(ctx, ownerID, collectionID); err != nil {
		return s.fail(log, err, text)
	}
	log.Info("dangling collection reference removed")
	return nil
}

// Rename changes the name and description.
func (s *Service) Rename(ctx context.Context, ownerID, collectionID, name, description string) error {
	log := s.log.WithFields(logrus.Fields{"op": "rename", "user_id": ownerID, "collection_id": collectionID})
	name, description, err := validateName(name, description)
	if err != nil {
		return s.fail(log, err, "")
	}
	if _, err := s.owned(ctx, ownerID, collectionID); err != nil {
		return s.fail(log, err, "Could not rename collection.")
	}
	err = s.docs.Update(ctx, library.CollectionKey(collectionID),
		docstore.SetField(library.FieldName, name),
		docstore.SetField(library.FieldDescription, description),
		docstore.ServerTimestampOp(library.FieldUpdatedAt))
	if err != nil {
		return s.fail(log, library.StoreError("rename collection", err), "Could not rename collection.")
	}
	return nil
}

// Get returns one collection.
func (s *Service) Get(ctx context.Context, collectionID string) (library.Collection, error) {
	if strings.TrimSpace(collectionID) == "" {
		return library.Collection{}, &library.ValidationError{Field: "collection", Reason: "id is empty"}
	}
	doc, err := s.docs.Get(ctx, library.CollectionKey(collectionID))
	if err != nil {
		return library.Collection{}, library.StoreError("get collection", err)
	}
	c, _ := library.DecodeCollection(doc)
	return c, nil
}

// List returns the owner's collections in profile order. Referenced
// collections that no longer exist are skipped.
func (s *Service) List(ctx context.Context, ownerID string) ([]library.Collection, error) {
	if err := s.requireActor(ownerID); err != nil {
		return nil, err
	}
	profile, err := s.profiles.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]library.Collection, 0, len(profile.Collections))
	for _, id := range profile.Collections {
		c, err := s.Get(ctx, id)
		if errors.Is(err, library.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// owned loads the collection and checks that actorID owns it.
func (s *Service) owned(ctx context.Context, actorID, collectionID string) (library.Collection, error) {
	if err := s.requireActor(actorID); err != nil {
		return library.Collection{}, err
	}
	c, err := s.Get(ctx, collectionID)
	if err != nil {
		return library.Collection{}, err
	}
	if c.OwnerID != actorID {
		return library.Collection{}, fmt.Errorf("collection %s: %w", collectionID, library.ErrForbidden)
	}
	return c, nil
}

func (s *Service) requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return library.ErrAuthRequired
	}
	return nil
}

func validateName(name, description string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", &library.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return name, strings.TrimSpace(description), nil
}

// fail logs err and raises a toast. Validation errors use their own message
// when text is empty.
func (s *Service) fail(log logrus.FieldLogger, err error, text string) error {
	var verr *library.ValidationError
	switch {
	case errors.Is(err, library.ErrAuthRequired):
		s.notify("Sign in to manage collections.", notify.Info)
		return err
	case errors.As(err, &verr):
		log.WithError(err).Info("collection input rejected")
		if text == "" {
			text = "Collection " + verr.Field + " " + verr.Reason + "."
		}
	case errors.Is(err, library.ErrForbidden):
		log.WithError(err).Warn("collection access denied")
		text = "You can only change your own collections."
	case errors.Is(err, library.ErrNotFound):
		log.WithError(err).Info("collection not found")
		text = "That collection no longer exists."
	default:
		log.WithError(err).Error("collection update failed")
	}
	if text != "" {
		s.notify(text, notify.Error)
	}
	return err
}

func (s *Service) notify(text string, severity notify.Severity) {
	if s.notifier != nil {
		s.notifier.Enqueue(text, severity)
	}
}
