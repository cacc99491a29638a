package ui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/backdrop/internal/app"
	"github.com/five82/backdrop/internal/config"
	"github.com/five82/backdrop/internal/favorites"
	"github.com/five82/backdrop/internal/feed"
	"github.com/five82/backdrop/internal/prefs"
	"github.com/five82/backdrop/internal/unsplash"
)

type pagedSource struct{}

func (pagedSource) FetchPage(_ context.Context, q unsplash.Query) ([]unsplash.Wallpaper, error) {
	out := make([]unsplash.Wallpaper, q.PerPage)
	for i := range out {
		out[i] = unsplash.Wallpaper{
			ID:          fmt.Sprintf("%s-p%d-%d", q.CollectionID, q.Page, i),
			Description: "Wallpaper " + q.Search,
			Author:      unsplash.Author{Name: "Ansel"},
		}
	}
	return out, nil
}

func openSession(t *testing.T, userID string) *app.Session {
	t.Helper()
	cfg := config.Default()
	cfg.UserID = userID
	cfg.StorePath = filepath.Join(t.TempDir(), "library.db")
	cfg.DownloadDir = t.TempDir()
	cfg.LogPath = filepath.Join(t.TempDir(), "backdrop.log")

	s, err := app.Open(context.Background(), app.Options{Config: cfg, Source: pagedSource{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Start(context.Background()))
	return s
}

func newModel(t *testing.T, session *app.Session) (Model, string) {
	t.Helper()
	prefsPath := filepath.Join(t.TempDir(), "prefs.toml")
	m := New(Options{Session: session, Prefs: prefs.Defaults(), PrefsPath: prefsPath})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model), prefsPath
}

// run executes cmd and every command it batches, feeding results back into m.
// Commands that would block on session changes are skipped.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			m = run(t, m, c)
		}
		return m
	case nil:
		return m
	default:
		updated, next := m.Update(msg)
		m = updated.(Model)
		if _, waits := msg.(changedMsg); waits {
			return m
		}
		return run(t, m, next)
	}
}

func press(t *testing.T, m Model, keys string) Model {
	t.Helper()
	var msg tea.KeyMsg
	switch keys {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(keys)}
	}
	updated, cmd := m.Update(msg)
	return run(t, updated.(Model), cmd)
}

func TestModel_LoadsFirstPage(t *testing.T) {
	m, _ := newModel(t, openSession(t, ""))
	require.True(t, m.loading)

	m = run(t, m, m.requestPage(1, m.seq))

	assert.False(t, m.loading)
	assert.Len(t, m.items, 12)
	assert.True(t, m.hasMore)
	assert.Equal(t, 1, m.page)
	assert.Contains(t, m.View(), "not signed in")
}

func TestModel_IgnoresOutdatedPage(t *testing.T) {
	m, _ := newModel(t, openSession(t, ""))
	m = run(t, m, m.requestPage(1, m.seq))

	updated, _ := m.Update(pageMsg{seq: m.seq - 1, number: 2, page: pageWith("late")})
	m = updated.(Model)
	assert.Len(t, m.items, 12)
	assert.Equal(t, 1, m.page)

	updated, _ = m.Update(pageMsg{seq: m.seq, number: 2, page: pageWith("fresh")})
	m = updated.(Model)
	assert.Len(t, m.items, 1, "current page replaces the list")

	stale := pageWith("dropped")
	stale.Stale = true
	updated, _ = m.Update(pageMsg{seq: m.seq, number: 3, page: stale})
	m = updated.(Model)
	assert.Equal(t, "fresh", m.items[0].ID)
}

func pageWith(id string) feed.Page {
	return feed.Page{Items: []unsplash.Wallpaper{{ID: id}}}
}

func TestModel_BottomLoadsNextPage(t *testing.T) {
	m, _ := newModel(t, openSession(t, ""))
	m = run(t, m, m.requestPage(1, m.seq))

	m = press(t, m, "G")

	assert.Len(t, m.items, 24)
	assert.Equal(t, 2, m.page)
	assert.Equal(t, 11, m.cursor)
}

func TestModel_CategorySwitchRestartsAndSavesPrefs(t *testing.T) {
	m, prefsPath := newModel(t, openSession(t, ""))
	m = run(t, m, m.requestPage(1, m.seq))
	m = press(t, m, "j")
	firstSeq := m.seq

	m = press(t, m, "]")

	assert.Equal(t, firstSeq+1, m.seq)
	assert.Equal(t, 0, m.cursor)
	assert.Equal(t, 1, m.page)
	require.NotEmpty(t, m.items)
	assert.True(t, strings.HasPrefix(m.items[0].ID, unsplash.DefaultCategories[1].CollectionID))

	saved, err := prefs.Load(prefsPath)
	require.NoError(t, err)
	assert.Equal(t, unsplash.DefaultCategories[1].ID, saved.Category)
}

func TestModel_SearchConfirmRunsQuery(t *testing.T) {
	m, prefsPath := newModel(t, openSession(t, ""))
	m = run(t, m, m.requestPage(1, m.seq))

	m = press(t, m, "/")
	require.True(t, m.searching)
	m = press(t, m, "fog")
	m = press(t, m, "enter")

	assert.False(t, m.searching)
	assert.Equal(t, "fog", m.query)
	require.NotEmpty(t, m.items)
	assert.Equal(t, "Wallpaper fog", m.items[0].Description)

	saved, err := prefs.Load(prefsPath)
	require.NoError(t, err)
	assert.Equal(t, "fog", saved.Query)
}

func TestModel_SearchEscapeKeepsQuery(t *testing.T) {
	m, _ := newModel(t, openSession(t, ""))
	m = press(t, m, "/")
	m = press(t, m, "sea")
	m = press(t, m, "esc")

	assert.False(t, m.searching)
	assert.Empty(t, m.query)
	assert.Empty(t, m.search.Value())
}

func TestModel_ThemeKeyCyclesAndPersists(t *testing.T) {
	m, prefsPath := newModel(t, openSession(t, ""))

	m = press(t, m, "T")

	assert.Equal(t, "Kanagawa", m.theme.Name)
	saved, err := prefs.Load(prefsPath)
	require.NoError(t, err)
	assert.Equal(t, "Kanagawa", saved.Theme)
}

func TestModel_FavoriteMarksRow(t *testing.T) {
	session := openSession(t, "u1")
	require.Eventually(t, func() bool {
		_, ok := session.Library()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	m, _ := newModel(t, session)
	m = run(t, m, m.requestPage(1, m.seq))
	id := m.items[0].ID

	m = press(t, m, "f")
	assert.True(t, session.Favorites.IsFavorite(id))

	require.Eventually(t, func() bool {
		snap, _ := session.Library()
		return snap.IsFavorite(id) && session.Favorites.State(id) != favorites.Pending
	}, 2*time.Second, 5*time.Millisecond)

	m.refresh()
	assert.Contains(t, m.favoriteIDs(), id)
	assert.Contains(t, m.View(), favoriteMark)

	m = press(t, m, "tab")
	assert.Equal(t, ViewLibrary, m.view)
	assert.Contains(t, m.View(), "Favorites (1)")
}

func TestModel_AnonymousFavoriteShowsToast(t *testing.T) {
	session := openSession(t, "")
	m, _ := newModel(t, session)
	m = run(t, m, m.requestPage(1, m.seq))

	m = press(t, m, "f")
	m.refresh()

	require.Len(t, m.toasts, 1)
	assert.Contains(t, m.View(), "Sign in")

	m = press(t, m, "x")
	m.refresh()
	assert.Empty(t, m.toasts)
}

func TestModel_TabCyclesViews(t *testing.T) {
	m, _ := newModel(t, openSession(t, ""))

	m = press(t, m, "tab")
	assert.Equal(t, ViewLibrary, m.view)
	m = press(t, m, "tab")
	assert.Equal(t, ViewLogs, m.view)
	assert.Contains(t, m.View(), "No log entries.")
	m = press(t, m, "esc")
	assert.Equal(t, ViewFeed, m.view)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Half D…", truncate("Half Dome at dusk", 7))
	assert.Equal(t, "H", truncate("Half", 1))
}
