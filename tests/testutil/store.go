package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/replypacer/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Incoming builds an inbound record for thread from sender, stamped at ts.
// The provider id is derived from thread and ts so repeated calls with the
// same arguments collide.
func Incoming(thread, sender string, ts time.Time) store.IncomingRecord {
	return store.IncomingRecord{
		ProviderID: "<" + thread + "." + ts.UTC().Format("20060102T150405.000") + "@test>",
		ThreadID:   thread,
		Subject:    "Question about " + thread,
		Body:       "Hello, any news on " + thread + "?",
		Sender:     sender,
		Receiver:   "me@example.com",
		Timestamp:  ts,
	}
}

// MustRecord records rec and fails the test on error.
func MustRecord(t *testing.T, s store.Store, rec store.IncomingRecord) *store.RecordResult {
	t.Helper()

	res, err := s.RecordIncoming(context.Background(), rec)
	if err != nil {
		t.Fatalf("recording incoming %s: %v", rec.ProviderID, err)
	}
	return res
}
