package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memAppender struct {
	events  []Event
	failing bool
}

func (a *memAppender) AppendEvent(_ context.Context, e Event) error {
	if a.failing {
		return errors.New("store down")
	}
	a.events = append(a.events, e)
	return nil
}

func TestRecord_StampsIDAndTime(t *testing.T) {
	store := &memAppender{}
	sink := NewMemorySink()
	log := NewLog(store, sink)
	now := time.Unix(1700000000, 0).UTC()
	log.clock = func() time.Time { return now }

	err := log.Record(context.Background(), "u1", NewOTPReceived("c1", "123456"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("stored = %d, want 1", len(store.events))
	}
	e := store.events[0]
	if e.ID == "" {
		t.Fatalf("event id not assigned")
	}
	if !e.Time.Equal(now) {
		t.Fatalf("time = %v, want %v", e.Time, now)
	}
	if e.Kind != KindOTPReceived || e.CallID != "c1" {
		t.Fatalf("unexpected event: %+v", e)
	}

	notes := sink.Notifications()
	if len(notes) != 1 || notes[0].UserID != "u1" {
		t.Fatalf("sink notifications = %+v", notes)
	}
}

func TestRecord_RejectsIncompleteEvents(t *testing.T) {
	log := NewLog(&memAppender{}, nil)
	err := log.Record(context.Background(), "u1", Event{Kind: KindOTPReceived})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
	err = log.Record(context.Background(), "u1", Event{CallID: "c1"})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestRecord_AppendFailureIsSurfaced(t *testing.T) {
	log := NewLog(&memAppender{failing: true}, NewMemorySink())
	err := log.Record(context.Background(), "u1", NewCallInitiated("c1", "stub"))
	if err == nil {
		t.Fatalf("append failure must be returned, the trail is load-bearing for billing")
	}
}

func TestConstructors_CarryPayloadData(t *testing.T) {
	e := NewBillingApplied("c1", 3, 100, 150)
	if e.Kind != KindBillingApplied {
		t.Fatalf("kind = %s", e.Kind)
	}
	if e.Data["minutes"] != 3 {
		t.Fatalf("data = %+v", e.Data)
	}

	e = NewInvalidInput("c1", "7", true)
	if e.Data["retried"] != true || e.Data["digits"] != "7" {
		t.Fatalf("data = %+v", e.Data)
	}

	e = NewCallTerminated("c1", "completed", 125)
	if e.Data["status"] != "completed" || e.Data["duration_seconds"] != 125 {
		t.Fatalf("data = %+v", e.Data)
	}
}
