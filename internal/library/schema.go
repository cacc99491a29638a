package library

import (
	"math"
	"time"

	"github.com/five82/backdrop/internal/docstore"
)

// Document collections.
const (
	UsersCollection       = "users"
	CollectionsCollection = "collections"
)

// User document fields.
const (
	FieldFavorites   = "favorites"
	FieldCollections = "collections"
	FieldDownloads   = "downloads"
	FieldCreatedAt   = "createdAt"
	FieldLastLogin   = "lastLogin"
)

// Collection document fields.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldOwnerID     = "ownerId"
	FieldMembers     = "members"
	FieldUpdatedAt   = "updatedAt"
)

// UserProfile is the decoded users/{id} document.
type UserProfile struct {
	ID          string
	Exists      bool
	Favorites   []string
	Collections []string
	Downloads   int
	CreatedAt   time.Time
	LastLogin   time.Time
}

// HasFavorite reports whether id is in the favorites set.
func (u UserProfile) HasFavorite(id string) bool {
	for _, f := range u.Favorites {
		if f == id {
			return true
		}
	}
	return false
}

// Collection is the decoded collections/{id} document.
type Collection struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Members     []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasMember reports whether wallpaperID is in the collection.
func (c Collection) HasMember(wallpaperID string) bool {
	for _, m := range c.Members {
		if m == wallpaperID {
			return true
		}
	}
	return false
}

// UserKey addresses a user document.
func UserKey(userID string) docstore.Key {
	return docstore.NewKey(UsersCollection, userID)
}

// CollectionKey addresses a collection document.
func CollectionKey(collectionID string) docstore.Key {
	return docstore.NewKey(CollectionsCollection, collectionID)
}

// DecodeUser maps a user document onto UserProfile. Wrong-typed fields fall
// back to their zero value; list entries that are not strings are dropped and
// duplicates collapse to the first occurrence. A missing document decodes to
// an empty profile with Exists false.
func DecodeUser(doc docstore.Document) UserProfile {
	u := UserProfile{ID: doc.Key.ID, Exists: doc.Exists}
	if !doc.Exists {
		return u
	}
	u.Favorites = stringSet(doc.Fields[FieldFavorites])
	u.Collections = stringSet(doc.Fields[FieldCollections])
	u.Downloads = count(doc.Fields[FieldDownloads])
	u.CreatedAt = timestamp(doc.Fields[FieldCreatedAt])
	u.LastLogin = timestamp(doc.Fields[FieldLastLogin])
	return u
}

// DecodeCollection maps a collection document onto Collection. ok is false
// when the document is missing.
func DecodeCollection(doc docstore.Document) (Collection, bool) {
	if !doc.Exists {
		return Collection{ID: doc.Key.ID}, false
	}
	c := Collection{
		ID:          doc.Key.ID,
		OwnerID:     str(doc.Fields[FieldOwnerID]),
		Name:        str(doc.Fields[FieldName]),
		Description: str(doc.Fields[FieldDescription]),
		Members:     stringSet(doc.Fields[FieldMembers]),
		CreatedAt:   timestamp(doc.Fields[FieldCreatedAt]),
		UpdatedAt:   timestamp(doc.Fields[FieldUpdatedAt]),
	}
	if c.UpdatedAt.Before(c.CreatedAt) {
		c.UpdatedAt = c.CreatedAt
	}
	return c, true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func count(v any) int {
	f, ok := v.(float64)
	if !ok || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}

func timestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func stringSet(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok || s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
