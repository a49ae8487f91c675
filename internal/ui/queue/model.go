package queue

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/replypacer/internal/keys"
	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/store"
	"github.com/nhle/replypacer/internal/theme"
)

// LoadedMsg carries a fresh page of the queue and the state counts.
type LoadedMsg struct {
	Entries []store.QueueEntry
	Counts  map[model.Disposition]int
	Err     error
}

// SelectedMsg is sent when the user opens a row.
type SelectedMsg struct {
	Entry store.QueueEntry
}

// pageSize bounds how many rows the dashboard loads.
const pageSize = 200

// Model is the interactive queue table.
type Model struct {
	table     table.Model
	store     store.Store
	keys      *keys.KeyMap
	entries   []store.QueueEntry
	counts    map[model.Disposition]int
	filterIdx int
	err       error
	now       func() time.Time
	width     int
	height    int
}

// New creates a queue model showing pending rows first.
func New(s store.Store, k *keys.KeyMap, width, height int) Model {
	t := table.New(
		table.WithColumns(columns(width)),
		table.WithFocused(true),
		table.WithHeight(tableHeight(height)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(theme.ColorWhite).
		Background(theme.ColorBlue).
		Bold(true)
	t.SetStyles(styles)

	return Model{
		table:  t,
		store:  s,
		keys:   k,
		now:    time.Now,
		width:  width,
		height: height,
	}
}

func tableHeight(height int) int {
	if h := height - 3; h > 3 {
		return h
	}
	return 3
}

// columns splits the width between the fixed columns and the subject.
func columns(width int) []table.Column {
	fixed := []table.Column{
		{Title: "STATE", Width: 9},
		{Title: "KIND", Width: 9},
		{Title: "TO", Width: 26},
		{Title: "WHEN", Width: 10},
		{Title: "FLAGS", Width: 16},
	}
	used := 0
	for _, c := range fixed {
		used += c.Width + 2
	}
	subject := width - used - 2
	if subject < 12 {
		subject = 12
	}
	return []table.Column{
		fixed[0], fixed[1], fixed[2],
		{Title: "SUBJECT", Width: subject},
		fixed[3], fixed[4],
	}
}

// Init loads the first page.
func (m Model) Init() tea.Cmd {
	return m.Load()
}

// Load returns a command reading the queue with the current filter.
func (m Model) Load() tea.Cmd {
	s := m.store
	filter := store.ScheduledFilter{
		State: Filters[m.filterIdx],
		Limit: pageSize,
	}
	// Resolved rows read best newest first.
	filter.SortDesc = filter.State == nil || *filter.State != model.DispositionPending
	return func() tea.Msg {
		ctx := context.Background()
		entries, err := s.ListScheduled(ctx, filter)
		if err != nil {
			return LoadedMsg{Err: err}
		}
		counts, err := s.CountScheduled(ctx)
		return LoadedMsg{Entries: entries, Counts: counts, Err: err}
	}
}

// Update handles messages for the queue view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.entries = msg.Entries
			m.counts = msg.Counts
			m.table.SetRows(m.rows())
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.CycleFilter):
			m.filterIdx = (m.filterIdx + 1) % len(Filters)
			m.table.SetCursor(0)
			return m, m.Load()
		case key.Matches(msg, m.keys.Select):
			if e, ok := m.Selected(); ok {
				return m, func() tea.Msg { return SelectedMsg{Entry: e} }
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) rows() []table.Row {
	now := m.now()
	rows := make([]table.Row, 0, len(m.entries))
	for _, e := range m.entries {
		rows = append(rows, table.Row{
			string(e.State),
			string(e.Kind),
			e.ContactEmail,
			Truncate(e.Subject, 80),
			when(e, now),
			Flags(e),
		})
	}
	return rows
}

// Selected returns the entry under the cursor.
func (m Model) Selected() (store.QueueEntry, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.entries) {
		return store.QueueEntry{}, false
	}
	return m.entries[i], true
}

// FilterName labels the active state filter.
func (m Model) FilterName() string {
	return FilterName(Filters[m.filterIdx])
}

// Counts returns the per-state totals of the last load.
func (m Model) Counts() map[model.Disposition]int {
	return m.counts
}

// View renders the table, or the load error.
func (m Model) View() string {
	if m.err != nil {
		return lipgloss.NewStyle().Foreground(theme.ColorRed).
			Render("loading queue: " + m.err.Error())
	}
	if len(m.entries) == 0 {
		return theme.HelpStyle.Render("no " + m.FilterName() + " messages")
	}
	return m.table.View()
}

// SetSize updates the table dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.table.SetColumns(columns(width))
	m.table.SetHeight(tableHeight(height))
}
