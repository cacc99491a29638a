// Package docstore is a small document database with atomic field
// operations and push subscriptions, backed by SQLite.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the key is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrClosed is returned after the store has been closed.
	ErrClosed = errors.New("store closed")
)

// ServerTimestamp is a field value placeholder. Create and Set replace any
// top-level field holding exactly this value with the store's current time.
const ServerTimestamp = "__server_timestamp__"

// Store is a document database with atomic field operations and push
// subscriptions. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the document at key or ErrNotFound.
	Get(ctx context.Context, key Key) (Document, error)
	// Create writes a new document. An empty key.ID is replaced with a
	// generated id. Returns ErrAlreadyExists when the key is taken.
	Create(ctx context.Context, key Key, fields Fields) (Key, error)
	// Set replaces the whole document, creating it when missing.
	Set(ctx context.Context, key Key, fields Fields) error
	// Update applies ops atomically to an existing document.
	Update(ctx context.Context, key Key, ops ...Op) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, key Key) error
	// Watch delivers the current document and then the full document after
	// every change until the watch is stopped or ctx is done.
	Watch(ctx context.Context, key Key) (*Watch, error)
	Close() error
}

// Key addresses one document.
type Key struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// NewKey builds a Key.
func NewKey(collection, id string) Key {
	return Key{Collection: collection, ID: id}
}

func (k Key) String() string {
	return k.Collection + "/" + k.ID
}

// Validate reports malformed keys. allowEmptyID is used by Create.
func (k Key) Validate(allowEmptyID bool) error {
	if strings.TrimSpace(k.Collection) == "" {
		return fmt.Errorf("invalid key %q: collection is empty", k.String())
	}
	if strings.Contains(k.Collection, "/") || strings.Contains(k.ID, "/") {
		return fmt.Errorf("invalid key %q: segments must not contain '/'", k.String())
	}
	if !allowEmptyID && strings.TrimSpace(k.ID) == "" {
		return fmt.Errorf("invalid key %q: id is empty", k.String())
	}
	return nil
}

// Fields holds a document body. Values are JSON-shaped: string, float64,
// bool, nil, []any and map[string]any.
type Fields map[string]any

// Document is one stored document as seen at Version.
type Document struct {
	Key        Key       `json:"key"`
	Exists     bool      `json:"exists"`
	Fields     Fields    `json:"fields,omitempty"`
	Version    int64     `json:"version"`
	UpdateTime time.Time `json:"updateTime"`
}

// Clone returns a deep copy so callers cannot alias store state.
func (d Document) Clone() Document {
	out := d
	if d.Fields != nil {
		out.Fields = cloneValue(map[string]any(d.Fields)).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case Fields:
		return cloneValue(map[string]any(t))
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}
