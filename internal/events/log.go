package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Appender is the persistence contract for the per-call event log.
//
// It MUST be append-only; there are no update or delete methods.
type Appender interface {
	AppendEvent(ctx context.Context, e Event) error
}

// Sink receives events for relay to live viewers (push channel, ops feed).
// Delivery is best-effort; the call flow never blocks on a sink.
type Sink interface {
	Notify(ctx context.Context, userID string, e Event)
}

// Log appends events to the durable store and fans them out to the sink.
//
// Append failures are returned to the caller (the audit trail is load-bearing
// for billing); sink failures are swallowed.
type Log struct {
	store Appender
	sink  Sink
	clock func() time.Time
}

func NewLog(store Appender, sink Sink) *Log {
	return &Log{store: store, sink: sink, clock: time.Now}
}

var ErrInvalidEvent = errors.New("events: invalid event")

func (l *Log) Record(ctx context.Context, userID string, e Event) error {
	if l.store == nil {
		return errors.New("events: store not configured")
	}
	if e.CallID == "" || e.Kind == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = l.clock().UTC()
	}

	if err := l.store.AppendEvent(ctx, e); err != nil {
		return err
	}
	if l.sink != nil {
		l.sink.Notify(ctx, userID, e)
	}
	return nil
}

// SlogSink writes events to the structured log. Used when no push channel
// is wired; keeps the event stream observable in ops tooling.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Notify(_ context.Context, userID string, e Event) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("call event",
		"call_id", e.CallID,
		"user_id", userID,
		"kind", string(e.Kind),
		"message", e.Message,
	)
}

// MemorySink collects notifications for tests.
type MemorySink struct {
	mu            sync.Mutex
	notifications []Notification
}

type Notification struct {
	UserID string
	Event  Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Notify(_ context.Context, userID string, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, Notification{UserID: userID, Event: e})
}

func (s *MemorySink) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}
