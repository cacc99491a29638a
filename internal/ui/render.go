package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/backdrop/internal/favorites"
	"github.com/five82/backdrop/internal/logtail"
	"github.com/five82/backdrop/internal/unsplash"
)

const (
	favoriteMark = "♥"
	pendingMark  = "…"
)

// View renders the whole screen.
func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	var body string
	switch m.view {
	case ViewLibrary:
		body = m.renderLibrary()
	case ViewLogs:
		body = m.logs.View()
	default:
		body = m.renderFeed()
	}

	sections := []string{m.renderHeader(), body}
	if toasts := m.renderToasts(); toasts != "" {
		sections = append(sections, toasts)
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// bodyHeight is what is left after header, footer and toasts.
func (m Model) bodyHeight() int {
	h := m.height - 2 - 3*len(m.toasts)
	if m.searching {
		h--
	}
	if m.showHelp {
		h -= 4
	}
	return max(h, 1)
}

func (m Model) renderHeader() string {
	sep := "  "
	parts := []string{m.styles.Logo.Render("backdrop")}
	for _, v := range []View{ViewFeed, ViewLibrary, ViewLogs} {
		if v == m.view {
			parts = append(parts, m.styles.AccentText.Bold(true).Render(v.String()))
		} else {
			parts = append(parts, m.styles.FaintText.Render(v.String()))
		}
	}

	if m.view == ViewFeed {
		parts = append(parts, m.styles.MutedText.Render("Category:")+" "+m.styles.Text.Render(m.categoryLabel()))
		if m.query != "" {
			parts = append(parts, m.styles.MutedText.Render("Search:")+" "+m.styles.Text.Render(m.query))
		}
		if m.loading {
			parts = append(parts, m.spinner.View())
		}
	}

	switch {
	case m.session == nil || m.session.UserID == "":
		parts = append(parts, m.styles.WarningText.Render("not signed in"))
	case !m.synced:
		parts = append(parts, m.styles.WarningText.Render("syncing..."))
	default:
		parts = append(parts, m.styles.SuccessText.Render("● "+m.session.UserID))
	}

	return m.styles.Header.Width(m.width).Render(strings.Join(parts, sep))
}

func (m Model) categoryLabel() string {
	if len(m.categories) == 0 {
		return unsplash.AllCategory
	}
	return m.categories[m.catIndex].Label
}

func (m Model) renderFeed() string {
	height := m.bodyHeight()
	var lines []string
	if m.searching {
		lines = append(lines, m.search.View())
	}

	if len(m.items) == 0 {
		msg := "No wallpapers found."
		if m.loading {
			msg = "Loading wallpapers..."
		}
		lines = append(lines, m.styles.MutedText.Render(msg))
		return strings.Join(lines, "\n")
	}

	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}
	end := min(len(m.items), start+height)
	for i := start; i < end; i++ {
		lines = append(lines, m.renderWallpaperRow(m.items[i], i == m.cursor))
	}
	if end == len(m.items) && !m.hasMore && !m.loading {
		lines = append(lines, m.styles.FaintText.Render("end of feed"))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderWallpaperRow(w unsplash.Wallpaper, selected bool) string {
	mark := " "
	if m.isFavorite(w.ID) {
		mark = favoriteMark
	}
	if m.session != nil && m.session.Favorites.State(w.ID) == favorites.Pending {
		mark = pendingMark
	}
	if _, busy := m.downloading[w.ID]; busy {
		mark += "↓"
	} else {
		mark += " "
	}

	meta := fmt.Sprintf("%s  %d♡  %dx%d", w.Author.Name, w.Likes, w.Width, w.Height)
	descWidth := max(10, m.width-lipgloss.Width(meta)-8)
	line := fmt.Sprintf("%s %s  %s", mark, padRight(truncate(w.Description, descWidth), descWidth), meta)

	if selected {
		return m.styles.Selected.Width(m.width).Render(line)
	}
	if m.isFavorite(w.ID) {
		return m.styles.Favorite.Render(mark) + m.styles.Text.Render(strings.TrimPrefix(line, mark))
	}
	return m.styles.Text.Render(line)
}

func (m Model) renderLibrary() string {
	if m.session == nil || m.session.UserID == "" {
		return m.styles.MutedText.Render("Sign in to keep favorites and collections.")
	}
	if !m.synced {
		return m.styles.MutedText.Render("Loading library...")
	}

	var lines []string
	ids := m.favoriteIDs()
	lines = append(lines, m.styles.AccentText.Bold(true).Render(fmt.Sprintf("Favorites (%d)", len(ids))))
	if len(ids) == 0 {
		lines = append(lines, m.styles.FaintText.Render("  none yet; press f in the feed"))
	}
	for i, id := range ids {
		row := "  " + favoriteMark + " " + id
		if m.session.Favorites.State(id) == favorites.Pending {
			row += " " + pendingMark
		}
		if i == m.libCursor {
			lines = append(lines, m.styles.Selected.Width(m.width).Render(row))
		} else {
			lines = append(lines, m.styles.Text.Render(row))
		}
	}

	lines = append(lines, "", m.styles.AccentText.Bold(true).Render(fmt.Sprintf("Collections (%d)", len(m.library.Collections))))
	for _, c := range m.library.Collections {
		row := fmt.Sprintf("  %s  %s", c.Name, m.styles.MutedText.Render(fmt.Sprintf("%d wallpapers", len(c.Members))))
		lines = append(lines, row)
	}
	lines = append(lines, "", m.styles.MutedText.Render(fmt.Sprintf("Downloads: %d", m.library.Downloads)))

	if height := m.bodyHeight(); len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderLogLines(msg logsMsg) string {
	if msg.err != nil {
		return m.styles.DangerText.Render("read log: " + msg.err.Error())
	}
	if len(msg.entries) == 0 {
		return m.styles.MutedText.Render("No log entries.")
	}
	lines := make([]string, 0, len(msg.entries))
	for _, e := range msg.entries {
		lines = append(lines, logtail.Format(e))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderToasts() string {
	if len(m.toasts) == 0 {
		return ""
	}
	rendered := make([]string, 0, len(m.toasts))
	for _, t := range m.toasts {
		rendered = append(rendered, m.styles.ToastStyle(t.Severity).Render(t.Text))
	}
	return lipgloss.JoinVertical(lipgloss.Right, rendered...)
}

func (m Model) renderFooter() string {
	return m.styles.Footer.Width(m.width).Render(m.help.View(m.keys))
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
