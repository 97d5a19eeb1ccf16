package journal

import (
	"context"
	"sync"

	"tradegate/internal/domain"
)

// Memory is an in-process journal backend, used in tests and for runs that
// do not need the history to survive a restart.
type Memory struct {
	mu     sync.Mutex
	events []*domain.StructureEvent
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

// Append records one event.
func (m *Memory) Append(ctx context.Context, ev *domain.StructureEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

// History returns all events in append order.
func (m *Memory) History(ctx context.Context) ([]*domain.StructureEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.StructureEvent, len(m.events))
	for i, ev := range m.events {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

// HistoryFor returns the events of one structure in append order.
func (m *Memory) HistoryFor(ctx context.Context, structureID string) ([]*domain.StructureEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.StructureEvent, 0)
	for _, ev := range m.events {
		if ev.StructureID == structureID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}
