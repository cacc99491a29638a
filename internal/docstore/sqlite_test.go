package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), SQLiteOptions{})
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func receive(t *testing.T, w *Watch) Document {
	t.Helper()
	select {
	case doc, ok := <-w.C():
		if !ok {
			t.Fatalf("watch %s closed, want document", w.Key())
		}
		return doc
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", w.Key())
	}
	return Document{}
}

func TestSQLite_CreateGetAndAutoID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key, err := s.Create(ctx, NewKey("collections", ""), Fields{"name": "Sunsets", "members": []string{}})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if key.ID == "" {
		t.Fatalf("Create returned empty id")
	}

	doc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !doc.Exists || doc.Fields["name"] != "Sunsets" {
		t.Fatalf("Get = %#v, want existing Sunsets", doc)
	}
	if members, ok := doc.Fields["members"].([]any); !ok || len(members) != 0 {
		t.Fatalf("members = %#v, want empty []any", doc.Fields["members"])
	}

	if _, err := s.Create(ctx, key, Fields{}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Create error = %v, want ErrAlreadyExists", err)
	}
}

func TestSQLite_GetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), NewKey("users", "nobody")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestSQLite_UpdateRequiresDocument(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(context.Background(), NewKey("users", "u1"), ArrayUnion("favorites", "w1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
}

func TestSQLite_ArrayOpsAreSetLike(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := NewKey("users", "u1")
	if err := s.Set(ctx, key, Fields{"favorites": []string{}}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	for _, op := range []Op{
		ArrayUnion("favorites", "w1", "w2"),
		ArrayUnion("favorites", "w1"),
		ArrayRemove("favorites", "w2"),
		ArrayRemove("favorites", "w404"),
		ArrayUnion("favorites", "w3"),
	} {
		if err := s.Update(ctx, key, op); err != nil {
			t.Fatalf("Update(%v) returned error: %v", op, err)
		}
	}

	doc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	got := doc.Fields["favorites"].([]any)
	if len(got) != 2 || got[0] != "w1" || got[1] != "w3" {
		t.Fatalf("favorites = %v, want [w1 w3]", got)
	}
}

func TestSQLite_ConcurrentArrayUnionAddsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := NewKey("collections", "c1")
	if err := s.Set(ctx, key, Fields{"members": []any{}}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Update(ctx, key, ArrayUnion("members", "x")); err != nil {
				t.Errorf("Update returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	doc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if members := doc.Fields["members"].([]any); len(members) != 1 {
		t.Fatalf("members = %v, want exactly one x", members)
	}
}

func TestSQLite_IncrementAndServerTimestamp(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), SQLiteOptions{Clock: clock})
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	key := NewKey("users", "u1")

	if err := s.Set(ctx, key, Fields{"createdAt": ServerTimestamp}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := s.Update(ctx, key, Increment("downloads", 1), Increment("downloads", 2), ServerTimestampOp("updatedAt")); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	doc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if doc.Fields["downloads"] != float64(3) {
		t.Fatalf("downloads = %v, want 3", doc.Fields["downloads"])
	}
	want := "2026-01-02T03:04:05Z"
	if doc.Fields["createdAt"] != want || doc.Fields["updatedAt"] != want {
		t.Fatalf("timestamps = %v/%v, want %s", doc.Fields["createdAt"], doc.Fields["updatedAt"], want)
	}
}

func TestSQLite_DeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := NewKey("collections", "c1")
	if err := s.Set(ctx, key, Fields{"name": "x"}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("Delete #%d returned error: %v", i+1, err)
		}
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete error = %v, want ErrNotFound", err)
	}
}

func TestSQLite_WatchDeliversCurrentThenChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := NewKey("users", "u1")

	w, err := s.Watch(ctx, key)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	defer w.Stop()

	if doc := receive(t, w); doc.Exists {
		t.Fatalf("first delivery = %#v, want missing document", doc)
	}

	if err := s.Set(ctx, key, Fields{"favorites": []any{"w1"}}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	doc := receive(t, w)
	if !doc.Exists || len(doc.Fields["favorites"].([]any)) != 1 {
		t.Fatalf("delivery after Set = %#v, want favorites [w1]", doc)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if doc := receive(t, w); doc.Exists {
		t.Fatalf("delivery after Delete = %#v, want missing", doc)
	}
}

func TestSQLite_WatchStopClosesAndUnregisters(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	key := NewKey("users", "u1")

	w1, err := s.Watch(ctx, key)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	w2, err := s.Watch(context.Background(), key)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	if got := s.Watchers(); got != 2 {
		t.Fatalf("Watchers = %d, want 2", got)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for s.Watchers() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Watchers(); got != 1 {
		t.Fatalf("Watchers after ctx cancel = %d, want 1", got)
	}

	w2.Stop()
	w2.Stop()
	if got := s.Watchers(); got != 0 {
		t.Fatalf("Watchers after Stop = %d, want 0", got)
	}

	// Stopped watches drain and close; no further deliveries.
	_ = s.Set(context.Background(), key, Fields{"x": "y"})
	for _, w := range []*Watch{w1, w2} {
		if _, ok := <-w.C(); ok {
			t.Fatalf("watch %p delivered after Stop", w)
		}
	}
}

func TestWatch_OfferKeepsNewestOnly(t *testing.T) {
	w := NewWatch(NewKey("users", "u1"), nil)
	w.Offer(Document{Version: 2, Exists: true})
	w.Offer(Document{Version: 1, Exists: true})
	w.Offer(Document{Version: 5, Exists: true})

	doc := <-w.C()
	if doc.Version != 5 {
		t.Fatalf("Version = %d, want 5", doc.Version)
	}
	select {
	case extra := <-w.C():
		t.Fatalf("unexpected extra delivery %#v", extra)
	default:
	}
}

func TestApplyOps_RejectsUnknownKind(t *testing.T) {
	_, err := ApplyOps(Fields{}, time.Now(), Op{Kind: "explode", Field: "x"})
	if err == nil {
		t.Fatalf("ApplyOps returned nil error, want unknown op error")
	}
}

func TestApplyOps_ServerTimestampNeverMovesBackwards(t *testing.T) {
	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	fields := Fields{"updatedAt": later.Format(time.RFC3339Nano)}
	out, err := ApplyOps(fields, later.Add(-time.Hour), ServerTimestampOp("updatedAt"))
	if err != nil {
		t.Fatalf("ApplyOps returned error: %v", err)
	}
	if out["updatedAt"] != later.Format(time.RFC3339Nano) {
		t.Fatalf("updatedAt = %v, want %v", out["updatedAt"], later)
	}
}

func TestKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		allow   bool
		wantErr bool
	}{
		{"ok", NewKey("users", "u1"), false, false},
		{"empty collection", NewKey("", "u1"), false, true},
		{"empty id", NewKey("users", ""), false, true},
		{"empty id allowed", NewKey("users", ""), true, false},
		{"slash", NewKey("users", "a/b"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate(tt.allow)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%v) error = %v, wantErr %v", tt.allow, err, tt.wantErr)
			}
		})
	}
}
