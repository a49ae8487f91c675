// Package help renders the keyboard shortcut overlay.
package help

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/replypacer/internal/keys"
	"github.com/nhle/replypacer/internal/theme"
)

// Model is the help overlay view.
type Model struct {
	keys  *keys.KeyMap
	help  help.Model
	width int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width int) Model {
	h := help.New()
	h.Width = width
	return Model{keys: keys, help: h, width: width}
}

// Short renders the one-line hint for the status bar.
func (m Model) Short() string {
	m.help.ShowAll = false
	return m.help.View(m.keys)
}

// View renders the full overlay.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Keyboard Shortcuts")

	m.help.Width = m.width - 8
	m.help.ShowAll = true
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.help.View(m.keys))

	return theme.PanelStyle.Width(m.width - 4).Render(content)
}

// SetWidth updates the overlay width.
func (m *Model) SetWidth(width int) {
	m.width = width
	m.help.Width = width
}
