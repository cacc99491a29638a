package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/backdrop/internal/config"
	"github.com/five82/backdrop/internal/docstore"
	"github.com/five82/backdrop/internal/library"
	"github.com/five82/backdrop/internal/unsplash"
)

type pagedSource struct{}

func (pagedSource) FetchPage(_ context.Context, q unsplash.Query) ([]unsplash.Wallpaper, error) {
	out := make([]unsplash.Wallpaper, q.PerPage)
	for i := range out {
		out[i] = unsplash.Wallpaper{ID: fmt.Sprintf("p%d-%d", q.Page, i)}
	}
	return out, nil
}

func testConfig(t *testing.T, userID string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.UserID = userID
	cfg.StorePath = filepath.Join(t.TempDir(), "library.db")
	cfg.DownloadDir = t.TempDir()
	return cfg
}

func openSession(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{Config: testConfig(t, userID), Source: pagedSource{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Start(context.Background()))
	return s
}

func TestSession_BrowseFirstPage(t *testing.T) {
	s := openSession(t, "")
	page, err := s.Feed.RequestPage(context.Background(), "", "all", 1)
	require.NoError(t, err)
	assert.Len(t, page.Items, 12)
	assert.True(t, page.HasMore)
}

func TestSession_FavoriteSyncsThroughStore(t *testing.T) {
	s := openSession(t, "u1")

	require.Eventually(t, func() bool {
		_, ok := s.Library()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	got, err := s.Favorites.Toggle("w1")
	require.NoError(t, err)
	assert.True(t, got)

	require.Eventually(t, func() bool {
		snap, _ := s.Library()
		return snap.IsFavorite("w1")
	}, 2*time.Second, 5*time.Millisecond)

	profile, err := s.Profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, profile.Exists)
	assert.True(t, profile.HasFavorite("w1"))
}

func TestSession_CollectionsAppearInLibrary(t *testing.T) {
	s := openSession(t, "u1")
	ctx := context.Background()

	id, err := s.Collections.Create(ctx, "u1", "Sunsets", "")
	require.NoError(t, err)
	require.NoError(t, s.Collections.AddMember(ctx, "u1", id, "w9"))

	require.Eventually(t, func() bool {
		snap, _ := s.Library()
		c, ok := snap.Collection(id)
		return ok && c.HasMember("w9")
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-s.Changes():
	default:
		t.Fatalf("no change signal pending")
	}
}

func TestSession_AnonymousGuards(t *testing.T) {
	s := openSession(t, "")
	_, err := s.Favorites.Toggle("w1")
	assert.ErrorIs(t, err, library.ErrAuthRequired)
	_, ok := s.Library()
	assert.False(t, ok)
	assert.Equal(t, 1, s.Notes.Len())
}

func TestSession_CloseReleasesSubscriptions(t *testing.T) {
	docs, err := docstore.OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), docstore.SQLiteOptions{})
	require.NoError(t, err)
	defer docs.Close()

	s, err := Open(context.Background(), Options{Config: testConfig(t, "u1"), Docs: docs, NoCatalog: true})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Nil(t, s.Feed)
	require.Eventually(t, func() bool { return docs.Watchers() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.States.Active())
	assert.Equal(t, 0, docs.Watchers())

	// The store stays usable; the session did not own it.
	_, err = docs.Get(context.Background(), library.UserKey("u1"))
	assert.NoError(t, err)
}
