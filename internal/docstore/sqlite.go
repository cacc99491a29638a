package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is an embedded Store backed by a single SQLite file.
// Writes are serialized through one connection; watches are served from an
// in-process Hub, so only writes made through this value are pushed.
type SQLite struct {
	db     *sqlx.DB
	hub    *Hub
	clock  clockwork.Clock
	log    logrus.FieldLogger
	closed atomic.Bool
}

// SQLiteOptions configure OpenSQLite.
type SQLiteOptions struct {
	Clock  clockwork.Clock
	Logger logrus.FieldLogger
}

var _ Store = (*SQLite)(nil)

type documentRow struct {
	Collection string `db:"collection"`
	ID         string `db:"id"`
	Body       string `db:"body"`
	Version    int64  `db:"version"`
	UpdateTime string `db:"update_time"`
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

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
	return &SQLite{
		db:    db,
		hub:   NewHub(),
		clock: clock,
		log:   log.WithField("component", "docstore"),
	}, nil
}

// Watchers returns the number of live watches.
func (s *SQLite) Watchers() int {
	return s.hub.Count()
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key Key) (Document, error) {
	if err := s.check(key, false); err != nil {
		return Document{}, err
	}
	var row documentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT collection, id, body, version, update_time FROM documents WHERE collection = ? AND id = ?`,
		key.Collection, key.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", key, err)
	}
	return row.document()
}

// Create implements Store.
func (s *SQLite) Create(ctx context.Context, key Key, fields Fields) (Key, error) {
	if err := s.check(key, true); err != nil {
		return Key{}, err
	}
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	now := s.clock.Now()
	body, err := normalizeFields(fields, now)
	if err != nil {
		return Key{}, fmt.Errorf("create %s: %w", key, err)
	}

	doc, err := s.write(ctx, key, func(existing *Document) (*Fields, error) {
		if existing != nil {
			return nil, ErrAlreadyExists
		}
		return &body, nil
	})
	if err != nil {
		return Key{}, err
	}
	s.hub.Publish(doc)
	return key, nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, key Key, fields Fields) error {
	if err := s.check(key, false); err != nil {
		return err
	}
	body, err := normalizeFields(fields, s.clock.Now())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	doc, err := s.write(ctx, key, func(*Document) (*Fields, error) {
		return &body, nil
	})
	if err != nil {
		return err
	}
	s.hub.Publish(doc)
	return nil
}

// Update implements Store.
func (s *SQLite) Update(ctx context.Context, key Key, ops ...Op) error {
	if err := s.check(key, false); err != nil {
		return err
	}
	now := s.clock.Now()
	doc, err := s.write(ctx, key, func(existing *Document) (*Fields, error) {
		if existing == nil {
			return nil, ErrNotFound
		}
		next, err := ApplyOps(existing.Fields, now, ops...)
		if err != nil {
			return nil, err
		}
		return &next, nil
	})
	if err != nil {
		return err
	}
	s.hub.Publish(doc)
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, key Key) error {
	if err := s.check(key, false); err != nil {
		return err
	}
	doc, err := s.write(ctx, key, func(*Document) (*Fields, error) {
		return nil, nil
	})
	if err != nil {
		return err
	}
	if doc.Version > 0 {
		s.hub.Publish(doc)
	}
	return nil
}

// Watch implements Store.
func (s *SQLite) Watch(ctx context.Context, key Key) (*Watch, error) {
	if err := s.check(key, false); err != nil {
		return nil, err
	}
	w, err := s.hub.Register(key)
	if err != nil {
		return nil, err
	}

	doc, err := s.snapshot(ctx, key)
	if err != nil {
		w.Stop()
		return nil, err
	}
	w.Offer(doc)
	w.Bind(ctx)
	return w, nil
}

// snapshot reads the document and, when it is missing, the current sequence
// in one transaction, so a missing result is ordered against later writes.
func (s *SQLite) snapshot(ctx context.Context, key Key) (Document, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Document{}, fmt.Errorf("begin %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	var row documentRow
	err = tx.GetContext(ctx, &row,
		`SELECT collection, id, body, version, update_time FROM documents WHERE collection = ? AND id = ?`,
		key.Collection, key.ID)
	if err == nil {
		return row.document()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("read %s: %w", key, err)
	}
	var version int64
	if err := tx.GetContext(ctx, &version, `SELECT value FROM sequence WHERE name = 'documents'`); err != nil {
		return Document{}, fmt.Errorf("read sequence: %w", err)
	}
	return Document{Key: key, Exists: false, Version: version}, nil
}

// Close stops every watch and closes the database.
func (s *SQLite) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.hub.Close()
	return s.db.Close()
}

func (s *SQLite) check(key Key, allowEmptyID bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return key.Validate(allowEmptyID)
}

// write runs one read-modify-write transaction. mutate returns the new body,
// or nil to delete. The returned document carries the new version.
func (s *SQLite) write(ctx context.Context, key Key, mutate func(*Document) (*Fields, error)) (Document, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing *Document
	var row documentRow
	err = tx.GetContext(ctx, &row,
		`SELECT collection, id, body, version, update_time FROM documents WHERE collection = ? AND id = ?`,
		key.Collection, key.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Document{}, fmt.Errorf("read %s: %w", key, err)
	default:
		doc, err := row.document()
		if err != nil {
			return Document{}, err
		}
		existing = &doc
	}

	body, err := mutate(existing)
	if err != nil {
		return Document{}, err
	}
	if body == nil && existing == nil {
		return Document{Key: key}, nil
	}

	var version int64
	if _, err := tx.ExecContext(ctx, `UPDATE sequence SET value = value + 1 WHERE name = 'documents'`); err != nil {
		return Document{}, fmt.Errorf("advance sequence: %w", err)
	}
	if err := tx.GetContext(ctx, &version, `SELECT value FROM sequence WHERE name = 'documents'`); err != nil {
		return Document{}, fmt.Errorf("read sequence: %w", err)
	}
	now := s.clock.Now().UTC()

	if body == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, key.Collection, key.ID); err != nil {
			return Document{}, fmt.Errorf("delete %s: %w", key, err)
		}
		if err := tx.Commit(); err != nil {
			return Document{}, fmt.Errorf("commit %s: %w", key, err)
		}
		s.log.WithFields(logrus.Fields{"key": key.String(), "version": version}).Debug("document deleted")
		return Document{Key: key, Exists: false, Version: version, UpdateTime: now}, nil
	}

	encoded, err := json.Marshal(*body)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO documents (collection, id, body, version, update_time)
		VALUES (:collection, :id, :body, :version, :update_time)
		ON CONFLICT(collection, id) DO UPDATE SET
			body = excluded.body,
			version = excluded.version,
			update_time = excluded.update_time`,
		documentRow{
			Collection: key.Collection,
			ID:         key.ID,
			Body:       string(encoded),
			Version:    version,
			UpdateTime: now.Format(time.RFC3339Nano),
		})
	if err != nil {
		return Document{}, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit %s: %w", key, err)
	}
	s.log.WithFields(logrus.Fields{"key": key.String(), "version": version}).Debug("document written")
	return Document{Key: key, Exists: true, Fields: *body, Version: version, UpdateTime: now}, nil
}

func (r documentRow) document() (Document, error) {
	var fields Fields
	if err := json.Unmarshal([]byte(r.Body), &fields); err != nil {
		return Document{}, fmt.Errorf("decode %s/%s: %w", r.Collection, r.ID, err)
	}
	updated, _ := time.Parse(time.RFC3339Nano, r.UpdateTime)
	return Document{
		Key:        Key{Collection: r.Collection, ID: r.ID},
		Exists:     true,
		Fields:     fields,
		Version:    r.Version,
		UpdateTime: updated,
	}, nil
}
