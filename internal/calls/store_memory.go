package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"callflow-platform/internal/events"
)

// MemoryStore is a mutex-guarded in-memory Store. Used by tests and as a
// local fallback; the guard semantics match the Postgres implementation so
// flow tests exercise the same compare-and-set behavior.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]*CallSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]*CallSession)}
}

func (m *MemoryStore) Create(_ context.Context, s CallSession) error {
	if s.CallID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[s.CallID]; ok {
		return ErrAlreadyExists
	}
	cp := s
	cp.Events = append([]events.Event(nil), s.Events...)
	m.calls[s.CallID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, callID string) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return snapshot(c), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CallSession
	for _, c := range m.calls {
		if c.UserID == userID {
			out = append(out, snapshot(c))
		}
	}
	sortNewestFirst(out)
	return clip(out, limit), nil
}

func (m *MemoryStore) ListAll(_ context.Context, limit int) ([]CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallSession, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, snapshot(c))
	}
	sortNewestFirst(out)
	return clip(out, limit), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, callID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *MemoryStore) SetProviderCallID(_ context.Context, callID, providerCallID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.ProviderCallID = providerCallID
	return nil
}

func (m *MemoryStore) SetAnsweredBy(_ context.Context, callID string, by AnsweredBy) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return false, ErrNotFound
	}
	if c.AnsweredBy != "" {
		return false, nil
	}
	c.AnsweredBy = by
	return true, nil
}

func (m *MemoryStore) SetOTP(_ context.Context, callID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.OTPCode = code
	return nil
}

func (m *MemoryStore) SetAdminDecision(_ context.Context, callID string, d Decision) error {
	if !d.Valid() {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.AdminDecision = d
	return nil
}

func (m *MemoryStore) ConsumeAdminDecision(_ context.Context, callID string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return "", ErrNotFound
	}
	d := c.AdminDecision
	c.AdminDecision = ""
	return d, nil
}

func (m *MemoryStore) MarkBilled(_ context.Context, callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return false, ErrNotFound
	}
	if c.BillingReconciled {
		return false, nil
	}
	c.BillingReconciled = true
	return true, nil
}

func (m *MemoryStore) ApplyBillingOutcome(_ context.Context, callID string, o BillingOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.AdditionalMinor = o.AdditionalMinor
	c.RefundMinor = o.RefundMinor
	c.TotalMinor = o.TotalMinor
	c.BillingStatus = o.BillingStatus
	return nil
}

func (m *MemoryStore) SetEnded(_ context.Context, callID string, status Status, durationSeconds int, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.DurationSeconds = durationSeconds
	c.EndedAt = &endedAt
	return nil
}

func (m *MemoryStore) SetRecordingURL(_ context.Context, callID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.RecordingURL = url
	return nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[e.CallID]
	if !ok {
		return ErrNotFound
	}
	c.Events = append(c.Events, e)
	return nil
}

func snapshot(c *CallSession) CallSession {
	cp := *c
	cp.Events = append([]events.Event(nil), c.Events...)
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return cp
}

func sortNewestFirst(cs []CallSession) {
	sort.Slice(cs, func(i, j int) bool {
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}

func clip(cs []CallSession, limit int) []CallSession {
	if limit > 0 && len(cs) > limit {
		return cs[:limit]
	}
	return cs
}
