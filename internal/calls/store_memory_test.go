package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"callflow-platform/internal/events"
)

func seedSession(t *testing.T, store *MemoryStore, callID, userID string, created time.Time) {
	t.Helper()
	err := store.Create(context.Background(), CallSession{
		CallID:             callID,
		UserID:             userID,
		ToNumber:           "+15550001111",
		FromNumber:         "+15550002222",
		CallType:           CallTypeOTP,
		Status:             StatusInitiated,
		Prompts:            testPrompts(),
		RatePerMinuteMinor: 50,
		ChargedMinor:       50,
		MinutesCharged:     1,
		TotalMinor:         50,
		BillingStatus:      BillingStatusCharged,
		CreatedAt:          created,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", callID, err)
	}
}

func TestMemoryStore_CreateRejectsDuplicates(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	seedSession(t, store, "c1", "u1", now)

	err := store.Create(context.Background(), CallSession{CallID: "c1", UserID: "u1", Status: StatusInitiated})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestMemoryStore_GetUnknownIsNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SetAnsweredByFirstWriteWins(t *testing.T) {
	store := NewMemoryStore()
	seedSession(t, store, "c1", "u1", time.Unix(1700000000, 0).UTC())
	ctx := context.Background()

	won, err := store.SetAnsweredBy(ctx, "c1", AnsweredByHuman)
	if err != nil || !won {
		t.Fatalf("first write: won=%v err=%v", won, err)
	}
	won, err = store.SetAnsweredBy(ctx, "c1", AnsweredByMachine)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if won {
		t.Fatalf("second classification must lose")
	}
	s, _ := store.Get(ctx, "c1")
	if s.AnsweredBy != AnsweredByHuman {
		t.Fatalf("answered_by = %s, want human kept", s.AnsweredBy)
	}
}

func TestMemoryStore_ConsumeAdminDecisionIsAtMostOnce(t *testing.T) {
	store := NewMemoryStore()
	seedSession(t, store, "c1", "u1", time.Unix(1700000000, 0).UTC())
	ctx := context.Background()

	if d, _ := store.ConsumeAdminDecision(ctx, "c1"); d != "" {
		t.Fatalf("decision = %q before any write", d)
	}
	if err := store.SetAdminDecision(ctx, "c1", DecisionDeny); err != nil {
		t.Fatalf("set: %v", err)
	}
	if d, _ := store.ConsumeAdminDecision(ctx, "c1"); d != DecisionDeny {
		t.Fatalf("first consume = %q, want deny", d)
	}
	if d, _ := store.ConsumeAdminDecision(ctx, "c1"); d != "" {
		t.Fatalf("second consume = %q, want empty", d)
	}
}

func TestMemoryStore_MarkBilledFlipsOnce(t *testing.T) {
	store := NewMemoryStore()
	seedSession(t, store, "c1", "u1", time.Unix(1700000000, 0).UTC())
	ctx := context.Background()

	won, err := store.MarkBilled(ctx, "c1")
	if err != nil || !won {
		t.Fatalf("first: won=%v err=%v", won, err)
	}
	won, err = store.MarkBilled(ctx, "c1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if won {
		t.Fatalf("guard must flip exactly once")
	}
	if _, err := store.MarkBilled(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	seedSession(t, store, "c1", "u1", time.Unix(1700000000, 0).UTC())
	ctx := context.Background()

	s, _ := store.Get(ctx, "c1")
	s.Status = StatusCompleted
	s.Prompts.Step1 = "mutated"

	again, _ := store.Get(ctx, "c1")
	if again.Status != StatusInitiated || again.Prompts.Step1 == "mutated" {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestMemoryStore_ListByUserNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Unix(1700000000, 0).UTC()
	seedSession(t, store, "c1", "u1", base)
	seedSession(t, store, "c2", "u1", base.Add(time.Minute))
	seedSession(t, store, "c3", "u2", base.Add(2*time.Minute))
	ctx := context.Background()

	got, err := store.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].CallID != "c2" || got[1].CallID != "c1" {
		t.Fatalf("unexpected order: %+v", got)
	}

	all, _ := store.ListAll(ctx, 2)
	if len(all) != 2 || all[0].CallID != "c3" {
		t.Fatalf("list all limit: %+v", all)
	}
}

func TestMemoryStore_AppendEventOrdersByArrival(t *testing.T) {
	store := NewMemoryStore()
	seedSession(t, store, "c1", "u1", time.Unix(1700000000, 0).UTC())
	ctx := context.Background()

	for _, e := range []events.Event{
		events.NewCallInitiated("c1", "stub"),
		events.NewStatusChanged("c1", "initiated", "ringing"),
	} {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	s, _ := store.Get(ctx, "c1")
	if len(s.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(s.Events))
	}
	if s.Events[0].Kind != events.KindCallInitiated || s.Events[1].Kind != events.KindStatusChanged {
		t.Fatalf("event order wrong: %+v", s.Events)
	}
}

func TestMemoryStore_SetEndedRecordsTerminalState(t *testing.T) {
	store := NewMemoryStore()
	seedSession(t, store, "c1", "u1", time.Unix(1700000000, 0).UTC())
	ctx := context.Background()
	endedAt := time.Unix(1700000300, 0).UTC()

	if err := store.SetEnded(ctx, "c1", StatusCompleted, 125, endedAt); err != nil {
		t.Fatalf("set ended: %v", err)
	}
	s, _ := store.Get(ctx, "c1")
	if s.Status != StatusCompleted || s.DurationSeconds != 125 {
		t.Fatalf("terminal state not recorded: %+v", s)
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(endedAt) {
		t.Fatalf("ended_at = %v, want %v", s.EndedAt, endedAt)
	}
}
