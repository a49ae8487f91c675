// Package detail shows one scheduled message with its conversation.
package detail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/replypacer/internal/keys"
	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/store"
	"github.com/nhle/replypacer/internal/theme"
	"github.com/nhle/replypacer/internal/ui/queue"
)

// BackMsg signals the parent to navigate back to the queue.
type BackMsg struct{}

// LoadedMsg carries the conversation history of the shown entry.
type LoadedMsg struct {
	ScheduledID string
	History     []model.Message
	Err         error
}

// Model is the scheduled message detail view.
type Model struct {
	entry    *store.QueueEntry
	history  []model.Message
	err      error
	viewport viewport.Model
	store    store.Store
	keys     *keys.KeyMap
	now      func() time.Time
	width    int
	height   int
	loading  bool
}

// New creates a new detail view model.
func New(s store.Store, keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		store:    s,
		keys:     keys,
		now:      time.Now,
		width:    width,
		height:   height,
	}
}

// Show switches the view to e and returns the command loading its history.
func (m *Model) Show(e store.QueueEntry) tea.Cmd {
	m.entry = &e
	m.history = nil
	m.err = nil
	m.loading = true
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()

	s := m.store
	return func() tea.Msg {
		history, err := s.GetConversationMessages(context.Background(), e.ConversationID)
		return LoadedMsg{ScheduledID: e.ID, History: history, Err: err}
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		if m.entry == nil || msg.ScheduledID != m.entry.ID {
			return m, nil
		}
		m.loading = false
		m.history = msg.History
		m.err = msg.Err
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Back) {
			return m, func() tea.Msg { return BackMsg{} }
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.entry == nil {
		return theme.HelpStyle.Render("nothing selected")
	}
	return theme.PanelStyle.
		Width(m.width - 4).
		Render(m.viewport.View())
}

func (m Model) renderContent() string {
	if m.entry == nil {
		return ""
	}
	e := m.entry
	now := m.now()

	var sb strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		sb.WriteString(theme.LabelStyle.Render(fmt.Sprintf("%-10s", label)))
		sb.WriteString(" ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	field("State", theme.DispositionStyle(string(e.State)).Render(string(e.State)))
	field("Kind", theme.KindStyle(string(e.Kind)).Render(string(e.Kind)))
	field("To", e.ContactEmail)
	field("Subject", e.Subject)
	field("Send at", fmt.Sprintf("%s (%s)", e.SendAt.Local().Format(time.RFC1123), queue.Relative(e.SendAt, now)))
	if e.ResolvedAt != nil {
		field("Resolved", e.ResolvedAt.Local().Format(time.RFC1123))
	}
	field("Flags", theme.FlagStyle.Render(queue.Flags(*e)))
	field("Last error", e.LastError)
	field("Thread", e.ThreadID)
	sb.WriteString("\n")
	sb.WriteString(e.Body)
	sb.WriteString("\n\n")

	sb.WriteString(theme.HeaderStyle.Render("Conversation"))
	sb.WriteString("\n\n")
	switch {
	case m.loading:
		sb.WriteString(theme.HelpStyle.Render("loading..."))
	case m.err != nil:
		sb.WriteString(lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.err.Error()))
	case len(m.history) == 0:
		sb.WriteString(theme.HelpStyle.Render("no messages"))
	default:
		for _, msg := range m.history {
			arrow := "←"
			if msg.Direction == model.DirectionOutgoing {
				arrow = "→"
			}
			sb.WriteString(theme.LabelStyle.Render(fmt.Sprintf("%s %s  %s",
				arrow, msg.Timestamp.Local().Format("Jan 2 15:04"), msg.Sender)))
			sb.WriteString("\n")
			sb.WriteString(msg.Body)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width - 8
	m.viewport.Height = height - 4
	m.viewport.SetContent(m.renderContent())
}
