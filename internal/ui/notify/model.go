// Package notify lists unread operator notifications.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/replypacer/internal/keys"
	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/store"
	"github.com/nhle/replypacer/internal/theme"
)

// LoadedMsg carries the unread notifications.
type LoadedMsg struct {
	Notifications []model.Notification
	Err           error
}

// CloseMsg signals the parent to leave the notification panel.
type CloseMsg struct{}

// Model is the notification panel.
type Model struct {
	store  store.Store
	keys   *keys.KeyMap
	items  []model.Notification
	cursor int
	err    error
	width  int
	height int
}

// New creates a notification panel.
func New(s store.Store, k *keys.KeyMap, width, height int) Model {
	return Model{store: s, keys: k, width: width, height: height}
}

// Load returns a command reading the unread notifications.
func (m Model) Load() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		items, err := s.GetUnreadNotifications(context.Background())
		return LoadedMsg{Notifications: items, Err: err}
	}
}

// Unread returns the number of unread notifications last loaded.
func (m Model) Unread() int {
	return len(m.items)
}

// Update handles messages for the panel.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.items = msg.Notifications
		}
		if m.cursor >= len(m.items) {
			m.cursor = max(len(m.items)-1, 0)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return CloseMsg{} }
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.MarkRead):
			if m.cursor < len(m.items) {
				return m, m.markRead(m.items[m.cursor].ID)
			}
		}
	}
	return m, nil
}

func (m Model) markRead(id string) tea.Cmd {
	s := m.store
	return func() tea.Msg {
		if err := s.MarkNotificationRead(context.Background(), id); err != nil {
			return LoadedMsg{Err: err}
		}
		items, err := s.GetUnreadNotifications(context.Background())
		return LoadedMsg{Notifications: items, Err: err}
	}
}

// View renders the panel.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(theme.HeaderStyle.Render(fmt.Sprintf("Notifications (%d unread)", len(m.items))))
	sb.WriteString("\n\n")

	switch {
	case m.err != nil:
		sb.WriteString(lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.err.Error()))
	case len(m.items) == 0:
		sb.WriteString(theme.HelpStyle.Render("all caught up"))
	default:
		for i, n := range m.items {
			line := fmt.Sprintf("%s  %s", n.CreatedAt.Local().Format("Jan 2 15:04"), n.Message)
			if i == m.cursor {
				line = lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue).Render("> " + line)
			} else {
				line = "  " + line
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	return theme.PanelStyle.Width(m.width - 4).Render(sb.String())
}

// SetSize updates the panel dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
