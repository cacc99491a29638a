package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/app"
	"github.com/five82/backdrop/internal/feed"
	"github.com/five82/backdrop/internal/logtail"
	"github.com/five82/backdrop/internal/prefs"
	"github.com/five82/backdrop/internal/unsplash"
)

var errNoCatalog = errors.New("catalog unavailable")

// pageMsg carries one RequestPage result tagged with the request sequence.
type pageMsg struct {
	seq    int
	number int
	page   feed.Page
	err    error
}

// changedMsg means the session has new toasts, favorites or library data.
type changedMsg struct{}

type downloadMsg struct {
	id   string
	path string
	err  error
}

type logsMsg struct {
	entries []logtail.Entry
	err     error
}

type prefsSavedMsg struct {
	err error
}

func (m Model) requestPage(number, seq int) tea.Cmd {
	ctx, session := m.ctx, m.session
	query, category := m.query, m.category()
	return func() tea.Msg {
		if session == nil || session.Feed == nil {
			return pageMsg{seq: seq, number: number, err: errNoCatalog}
		}
		page, err := session.Feed.RequestPage(ctx, query, category, number)
		return pageMsg{seq: seq, number: number, page: page, err: err}
	}
}

// waitForChange blocks until the session signals or ctx ends.
func waitForChange(ctx context.Context, session *app.Session) tea.Cmd {
	if session == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case <-session.Changes():
			return changedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func download(ctx context.Context, session *app.Session, w unsplash.Wallpaper) tea.Cmd {
	return func() tea.Msg {
		path, err := session.Downloads.Download(ctx, w)
		return downloadMsg{id: w.ID, path: path, err: err}
	}
}

func (m Model) loadLogs() tea.Cmd {
	if m.session == nil {
		return nil
	}
	path, lines := m.session.Config.LogPath, m.logLines
	return func() tea.Msg {
		entries, err := logtail.Tail(path, lines, logrus.InfoLevel)
		return logsMsg{entries: entries, err: err}
	}
}

func (m Model) savePrefs() tea.Cmd {
	if m.prefsPath == "" {
		return nil
	}
	path, p := m.prefsPath, m.prefs
	return func() tea.Msg {
		return prefsSavedMsg{err: prefs.Save(path, p)}
	}
}
