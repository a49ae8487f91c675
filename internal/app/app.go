// Package app is the root model of the watch dashboard: the scheduled
// queue, a detail panel, notifications and the live sweep status.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/replypacer/internal/keys"
	"github.com/nhle/replypacer/internal/store"
	appsync "github.com/nhle/replypacer/internal/sync"
	"github.com/nhle/replypacer/internal/theme"
	"github.com/nhle/replypacer/internal/ui"
	"github.com/nhle/replypacer/internal/ui/detail"
	helpview "github.com/nhle/replypacer/internal/ui/help"
	"github.com/nhle/replypacer/internal/ui/notify"
	"github.com/nhle/replypacer/internal/ui/queue"
)

// refreshInterval re-reads the queue so relative times stay current.
const refreshInterval = 15 * time.Second

// refreshMsg is sent by the periodic reload tick.
type refreshMsg struct{}

// ViewState represents the current active view in the dashboard.
type ViewState int

const (
	ViewQueue ViewState = iota
	ViewDetail
	ViewNotifications
	ViewHelp
)

// Sweeper is the part of the poller the dashboard needs.
type Sweeper interface {
	Statuses() []appsync.Status
	Trigger(appsync.Sweep)
	WaitForNextResult() tea.Cmd
}

// Model is the root Bubble Tea model that manages view routing and the
// sweep status.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	queue        queue.Model
	detail       detail.Model
	notify       notify.Model
	help         helpview.Model
	spinner      spinner.Model
	poller       Sweeper
	title        string
	lastResult   string
	authError    string
	ready        bool
}

// New creates the dashboard for the mailbox address.
func New(s store.Store, poller Sweeper, address string) Model {
	k := keys.DefaultKeyMap()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorWhite)

	title := "replypacer"
	if address != "" {
		title += " · " + address
	}

	return Model{
		currentView: ViewQueue,
		keys:        k,
		queue:       queue.New(s, k, 80, 22),
		detail:      detail.New(s, k, 80, 22),
		notify:      notify.New(s, k, 80, 22),
		help:        helpview.New(k, 80),
		spinner:     sp,
		poller:      poller,
		title:       title,
	}
}

// Init loads the queue and notifications and starts listening for sweep
// results.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.queue.Init(),
		m.notify.Load(),
		m.poller.WaitForNextResult(),
		m.spinner.Tick,
		refreshTick(),
	)
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		h := m.layout.ContentHeight()
		m.queue.SetSize(msg.Width, h)
		m.detail.SetSize(msg.Width, h)
		m.notify.SetSize(msg.Width, h)
		m.help.SetWidth(msg.Width)
		return m, nil

	case appsync.ResultMsg:
		m.lastResult = msg.String()
		if msg.AuthError {
			m.authError = fmt.Sprintf("%s: authentication failed, run `replypacer setup`", msg.Sweep)
		} else if msg.Error == nil {
			m.authError = ""
		}
		return m, tea.Batch(m.queue.Load(), m.notify.Load(), m.poller.WaitForNextResult())

	case refreshMsg:
		return m, tea.Batch(m.queue.Load(), refreshTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case queue.LoadedMsg:
		var cmd tea.Cmd
		m.queue, cmd = m.queue.Update(msg)
		return m, cmd

	case queue.SelectedMsg:
		m.previousView = m.currentView
		m.currentView = ViewDetail
		return m, m.detail.Show(msg.Entry)

	case detail.LoadedMsg:
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd

	case detail.BackMsg, notify.CloseMsg:
		m.currentView = ViewQueue
		return m, nil

	case notify.LoadedMsg:
		var cmd tea.Cmd
		m.notify, cmd = m.notify.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch {
		case key.Matches(msg, m.keys.Quit) && m.currentView == ViewQueue:
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Back) && m.currentView == ViewHelp:
			m.currentView = m.previousView
			return m, nil

		case key.Matches(msg, m.keys.Ingest) && m.currentView == ViewQueue:
			m.poller.Trigger(appsync.SweepIngest)
			return m, nil

		case key.Matches(msg, m.keys.Dispatch) && m.currentView == ViewQueue:
			m.poller.Trigger(appsync.SweepDispatch)
			return m, nil

		case key.Matches(msg, m.keys.Notifications) && m.currentView == ViewQueue:
			m.previousView = m.currentView
			m.currentView = ViewNotifications
			return m, m.notify.Load()
		}
	}

	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewQueue:
		m.queue, cmd = m.queue.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewNotifications:
		m.notify, cmd = m.notify.Update(msg)
	}

	return m, cmd
}

// CurrentView reports the active view.
func (m Model) CurrentView() ViewState {
	return m.currentView
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := m.title
	if n := m.notify.Unread(); n > 0 {
		title = fmt.Sprintf("%s [%d to review]", title, n)
	}
	header := m.layout.RenderHeader(title, m.sweepStatus())
	statusBar := m.layout.RenderStatusBar(m.statusText(), m.authError != "")

	return m.layout.Frame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewDetail:
		return m.detail.View()
	case ViewNotifications:
		return m.notify.View()
	case ViewHelp:
		return m.help.View()
	default:
		return lipgloss.JoinVertical(lipgloss.Left,
			theme.HelpStyle.Render("showing "+m.queue.FilterName()+"  ")+
				queue.Summary(m.queue.Counts()),
			m.queue.View(),
		)
	}
}

// sweepStatus returns a short string describing both loops.
func (m Model) sweepStatus() string {
	var running, failing []string
	for _, s := range m.poller.Statuses() {
		switch s.State {
		case appsync.StateRunning:
			running = append(running, string(s.Sweep))
		case appsync.StateError:
			failing = append(failing, string(s.Sweep))
		}
	}

	switch {
	case len(running) > 0:
		return m.spinner.View() + " " + strings.Join(running, ", ")
	case len(failing) > 0:
		return "⚠ failing: " + strings.Join(failing, ", ")
	default:
		return "idle"
	}
}

// statusText returns the status bar content for the active view.
func (m Model) statusText() string {
	if m.authError != "" {
		return m.authError
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewDetail:
		return "esc back | j/k scroll"
	case ViewNotifications:
		return "m mark read | j/k move | esc back"
	default:
		hints := m.help.Short()
		if m.lastResult != "" {
			hints = m.lastResult + " | " + hints
		}
		return hints
	}
}
