package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/backdrop/internal/app"
	"github.com/five82/backdrop/internal/notify"
	"github.com/five82/backdrop/internal/prefs"
	"github.com/five82/backdrop/internal/state"
	"github.com/five82/backdrop/internal/unsplash"
)

// View identifies the active screen.
type View int

const (
	ViewFeed View = iota
	ViewLibrary
	ViewLogs
)

func (v View) String() string {
	switch v {
	case ViewLibrary:
		return "Library"
	case ViewLogs:
		return "Logs"
	default:
		return "Feed"
	}
}

const defaultLogLines = 500

// Options configure the browser.
type Options struct {
	Context   context.Context
	Session   *app.Session
	Prefs     prefs.Prefs
	PrefsPath string
	// Categories defaults to unsplash.DefaultCategories.
	Categories []unsplash.Category
	LogLines   int
}

// Model is the Bubble Tea model for the browser.
type Model struct {
	ctx       context.Context
	session   *app.Session
	prefs     prefs.Prefs
	prefsPath string
	logLines  int

	theme   Theme
	styles  Styles
	keys    keyMap
	help    help.Model
	spinner spinner.Model
	search  textinput.Model
	logs    viewport.Model

	view      View
	searching bool
	showHelp  bool
	width     int
	height    int

	categories []unsplash.Category
	catIndex   int
	query      string

	items   []unsplash.Wallpaper
	page    int
	hasMore bool
	loading bool
	seq     int
	cursor  int

	library   state.Snapshot
	synced    bool
	libCursor int
	toasts    []notify.Toast

	downloading map[string]struct{}
}

// New builds the model from options.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	categories := opts.Categories
	if len(categories) == 0 {
		categories = unsplash.DefaultCategories
	}
	logLines := opts.LogLines
	if logLines <= 0 {
		logLines = defaultLogLines
	}

	theme := GetTheme(opts.Prefs.Theme)
	p := opts.Prefs
	p.Theme = theme.Name

	search := textinput.New()
	search.Placeholder = "search wallpapers"
	search.Prompt = "/ "
	search.CharLimit = 80
	search.SetValue(p.Query)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:         ctx,
		session:     opts.Session,
		prefs:       p,
		prefsPath:   opts.PrefsPath,
		logLines:    logLines,
		theme:       theme,
		styles:      theme.Styles(),
		keys:        DefaultKeyMap(),
		help:        help.New(),
		spinner:     sp,
		search:      search,
		logs:        viewport.New(80, 20),
		categories:  categories,
		query:       strings.TrimSpace(p.Query),
		loading:     true,
		downloading: make(map[string]struct{}),
	}
	for i, c := range categories {
		if c.ID == p.Category {
			m.catIndex = i
		}
	}
	return m
}

// Init starts the first page load and the change listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.requestPage(1, m.seq),
		waitForChange(m.ctx, m.session),
		m.spinner.Tick,
	)
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.logs.Width = msg.Width
		m.logs.Height = max(1, m.bodyHeight())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case pageMsg:
		return m.handlePage(msg)

	case changedMsg:
		m.refresh()
		if m.libCursor >= len(m.favoriteIDs()) {
			m.libCursor = max(0, len(m.favoriteIDs())-1)
		}
		return m, waitForChange(m.ctx, m.session)

	case downloadMsg:
		delete(m.downloading, msg.id)
		return m, nil

	case logsMsg:
		m.logs.SetContent(m.renderLogLines(msg))
		m.logs.GotoBottom()
		return m, nil

	case prefsSavedMsg:
		if msg.err != nil && m.session != nil {
			m.session.Notes.Enqueue("Could not save preferences.", notify.Error)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// refresh re-reads everything the session pushes.
func (m *Model) refresh() {
	if m.session == nil {
		return
	}
	m.toasts = m.session.Notes.Messages()
	if snap, ok := m.session.Library(); ok {
		m.library = snap
		m.synced = true
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searching {
		return m.handleSearchKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.styles = m.theme.Styles()
		m.prefs.Theme = m.theme.Name
		return m, m.savePrefs()
	case key.Matches(msg, m.keys.Tab):
		m.view = (m.view + 1) % 3
		if m.view == ViewLogs {
			return m, m.loadLogs()
		}
		return m, nil
	case key.Matches(msg, m.keys.Escape):
		m.view = ViewFeed
		return m, nil
	case key.Matches(msg, m.keys.Dismiss):
		if n := len(m.toasts); n > 0 && m.session != nil {
			m.session.Notes.Dismiss(m.toasts[n-1].ID)
		}
		return m, nil
	}

	switch m.view {
	case ViewLibrary:
		return m.handleLibraryKey(msg)
	case ViewLogs:
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		return m, cmd
	default:
		return m.handleFeedKey(msg)
	}
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		m.searching = false
		m.search.Blur()
		m.query = strings.TrimSpace(m.search.Value())
		m.prefs.Query = m.query
		return m, tea.Batch(m.restart(), m.savePrefs())
	case key.Matches(msg, m.keys.Escape):
		m.searching = false
		m.search.Blur()
		m.search.SetValue(m.query)
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) handleFeedKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		return m, m.search.Focus()
	case key.Matches(msg, m.keys.NextCategory):
		return m.switchCategory(1)
	case key.Matches(msg, m.keys.PrevCategory):
		return m.switchCategory(-1)
	case key.Matches(msg, m.keys.Refresh):
		return m, m.restart()
	case key.Matches(msg, m.keys.LoadMore):
		return m, m.loadMore()
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
		if m.cursor >= len(m.items)-1 {
			return m, m.loadMore()
		}
		return m, nil
	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
		return m, nil
	case key.Matches(msg, m.keys.Bottom):
		m.cursor = max(0, len(m.items)-1)
		return m, m.loadMore()
	case key.Matches(msg, m.keys.Favorite):
		if w, ok := m.selected(); ok {
			m.toggleFavorite(w.ID)
		}
		return m, nil
	case key.Matches(msg, m.keys.Download):
		if w, ok := m.selected(); ok {
			return m.startDownload(w)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleLibraryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ids := m.favoriteIDs()
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.libCursor > 0 {
			m.libCursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.libCursor < len(ids)-1 {
			m.libCursor++
		}
	case key.Matches(msg, m.keys.Top):
		m.libCursor = 0
	case key.Matches(msg, m.keys.Bottom):
		m.libCursor = max(0, len(ids)-1)
	case key.Matches(msg, m.keys.Favorite):
		if m.libCursor < len(ids) {
			m.toggleFavorite(ids[m.libCursor])
		}
	}
	return m, nil
}

func (m Model) switchCategory(step int) (tea.Model, tea.Cmd) {
	n := len(m.categories)
	m.catIndex = ((m.catIndex+step)%n + n) % n
	m.prefs.Category = m.category()
	return m, tea.Batch(m.restart(), m.savePrefs())
}

// restart drops the current list and loads page one of the current pair.
// Responses for earlier requests are ignored by sequence number.
func (m *Model) restart() tea.Cmd {
	if m.session != nil && m.session.Feed != nil {
		m.session.Feed.Reset()
	}
	m.seq++
	m.items = nil
	m.cursor = 0
	m.page = 0
	m.hasMore = false
	m.loading = true
	return m.requestPage(1, m.seq)
}

func (m *Model) loadMore() tea.Cmd {
	if m.loading || !m.hasMore {
		return nil
	}
	m.loading = true
	return m.requestPage(m.page+1, m.seq)
}

func (m Model) handlePage(msg pageMsg) (tea.Model, tea.Cmd) {
	if msg.seq != m.seq {
		return m, nil
	}
	m.loading = false
	if msg.err != nil || msg.page.Stale {
		return m, nil
	}
	m.items = msg.page.Items
	m.page = msg.number
	m.hasMore = msg.page.HasMore
	if m.cursor >= len(m.items) {
		m.cursor = max(0, len(m.items)-1)
	}
	return m, nil
}

func (m *Model) toggleFavorite(id string) {
	if m.session == nil {
		return
	}
	// Failures already produce a toast.
	_, _ = m.session.Favorites.Toggle(id)
}

func (m Model) startDownload(w unsplash.Wallpaper) (tea.Model, tea.Cmd) {
	if m.session == nil || m.session.Downloads == nil {
		return m, nil
	}
	if _, busy := m.downloading[w.ID]; busy {
		return m, nil
	}
	m.downloading[w.ID] = struct{}{}
	return m, download(m.ctx, m.session, w)
}

func (m Model) selected() (unsplash.Wallpaper, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return unsplash.Wallpaper{}, false
	}
	return m.items[m.cursor], true
}

func (m Model) category() string {
	if len(m.categories) == 0 {
		return unsplash.AllCategory
	}
	return m.categories[m.catIndex].ID
}

// favoriteIDs includes optimistic changes not yet confirmed by the store.
func (m Model) favoriteIDs() []string {
	if m.session == nil {
		return nil
	}
	return m.session.Favorites.Favorites()
}

func (m Model) isFavorite(id string) bool {
	if m.session == nil {
		return false
	}
	return m.session.Favorites.IsFavorite(id)
}

// Run starts the browser and blocks until it exits.
func Run(opts Options) error {
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && m.ctx.Err() != nil {
		return nil
	}
	return err
}
