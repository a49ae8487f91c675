package app

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/replypacer/internal/engine"
	"github.com/nhle/replypacer/internal/model"
	appsync "github.com/nhle/replypacer/internal/sync"
	"github.com/nhle/replypacer/internal/ui/detail"
	"github.com/nhle/replypacer/internal/ui/queue"
	"github.com/nhle/replypacer/tests/testutil"
)

type fakeSweeper struct {
	statuses  []appsync.Status
	triggered []appsync.Sweep
}

func (f *fakeSweeper) Statuses() []appsync.Status { return f.statuses }
func (f *fakeSweeper) Trigger(s appsync.Sweep)    { f.triggered = append(f.triggered, s) }
func (f *fakeSweeper) WaitForNextResult() tea.Cmd { return nil }

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestDashboardNavigation(t *testing.T) {
	s := testutil.NewTestStore(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rec := testutil.MustRecord(t, s, testutil.Incoming("thread-1", "ann@example.com", now))
	require.NoError(t, s.CreateScheduled(context.Background(), model.ScheduledMessage{
		ID:              "r1",
		ConversationID:  rec.Conversation.ID,
		Kind:            model.KindReply,
		SourceMessageID: rec.Message.ProviderID,
		Subject:         "Re: hello",
		Body:            "Thanks, on it.",
		CreatedAt:       now,
		SendAt:          now.Add(time.Hour),
		State:           model.DispositionPending,
	}))

	sweeper := &fakeSweeper{statuses: []appsync.Status{
		{Sweep: appsync.SweepIngest, State: appsync.StateIdle},
		{Sweep: appsync.SweepDispatch, State: appsync.StateIdle},
	}}
	m := New(s, sweeper, "me@example.com")
	assert.Equal(t, "Loading...", m.View())

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	m, _ = update(t, m, m.queue.Load()())
	assert.Contains(t, m.View(), "ann@example.com")

	m, cmd := update(t, m, keyMsg("enter"))
	require.NotNil(t, cmd)
	selected, ok := cmd().(queue.SelectedMsg)
	require.True(t, ok)
	assert.Equal(t, "r1", selected.Entry.ID)

	m, cmd = update(t, m, selected)
	assert.Equal(t, ViewDetail, m.CurrentView())
	loaded, ok := cmd().(detail.LoadedMsg)
	require.True(t, ok)
	require.Len(t, loaded.History, 1)
	m, _ = update(t, m, loaded)
	assert.Contains(t, m.View(), "Thanks, on it.")

	m, cmd = update(t, m, keyMsg("esc"))
	m, _ = update(t, m, cmd())
	assert.Equal(t, ViewQueue, m.CurrentView())

	m, _ = update(t, m, keyMsg("i"))
	m, _ = update(t, m, keyMsg("d"))
	assert.Equal(t, []appsync.Sweep{appsync.SweepIngest, appsync.SweepDispatch}, sweeper.triggered)

	m, _ = update(t, m, keyMsg("?"))
	assert.Equal(t, ViewHelp, m.CurrentView())
	m, _ = update(t, m, keyMsg("?"))
	assert.Equal(t, ViewQueue, m.CurrentView())

	_, cmd = update(t, m, keyMsg("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestDashboardShowsSweepState(t *testing.T) {
	s := testutil.NewTestStore(t)
	sweeper := &fakeSweeper{statuses: []appsync.Status{
		{Sweep: appsync.SweepIngest, State: appsync.StateError},
		{Sweep: appsync.SweepDispatch, State: appsync.StateIdle},
	}}
	m := New(s, sweeper, "")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})

	assert.Equal(t, "⚠ failing: ingest", m.sweepStatus())

	m, _ = update(t, m, appsync.ResultMsg{
		Sweep:     appsync.SweepIngest,
		Error:     errors.New("login rejected"),
		AuthError: true,
	})
	assert.Contains(t, m.statusText(), "authentication failed")

	m, _ = update(t, m, appsync.ResultMsg{
		Sweep:    appsync.SweepDispatch,
		Dispatch: &engineSweep,
	})
	assert.Equal(t, "", m.authError)
	assert.Contains(t, m.statusText(), "dispatch: 2 due, 1 sent, 1 canceled")
}

var engineSweep = engine.SweepResult{Due: 2, Sent: 1, Canceled: 1}
