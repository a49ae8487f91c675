package model

import (
	"errors"
	"testing"
	"time"
)

func TestTransition(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    Disposition
		to      Disposition
		wantErr error
		ok      bool
	}{
		{"pending to sent", DispositionPending, DispositionSent, nil, true},
		{"pending to canceled", DispositionPending, DispositionCanceled, nil, true},
		{"pending to pending", DispositionPending, DispositionPending, nil, false},
		{"sent to canceled", DispositionSent, DispositionCanceled, ErrTerminalState, false},
		{"canceled to sent", DispositionCanceled, DispositionSent, ErrTerminalState, false},
		{"sent to sent", DispositionSent, DispositionSent, ErrTerminalState, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := ScheduledMessage{ID: "x", State: tt.from, ClaimToken: "tok"}
			err := sm.Transition(tt.to, at)

			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if sm.State != tt.to || sm.ResolvedAt == nil || sm.ClaimToken != "" {
					t.Errorf("transition not applied: %+v", sm)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if sm.State != tt.from {
				t.Errorf("state changed to %s on rejected transition", sm.State)
			}
		})
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	sm := ScheduledMessage{State: DispositionPending, SendAt: now}

	if !sm.Due(now) {
		t.Error("row at send time should be due")
	}
	if sm.Due(now.Add(-time.Second)) {
		t.Error("row before send time should not be due")
	}
	sm.State = DispositionSent
	if sm.Due(now.Add(time.Hour)) {
		t.Error("sent row should never be due")
	}
}

func TestMessageAfterUsesSequenceOnTies(t *testing.T) {
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	a := Message{Seq: 1, Timestamp: ts}
	b := Message{Seq: 2, Timestamp: ts}

	if !b.After(a) || a.After(b) {
		t.Error("later sequence should sort after on equal timestamps")
	}
	c := Message{Seq: 0, Timestamp: ts.Add(time.Second)}
	if !c.After(b) {
		t.Error("later timestamp should win over sequence")
	}
}
