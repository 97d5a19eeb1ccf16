package ports

import (
	"context"

	"tradegate/internal/domain"
)

// StructureRepository defines the interface for persisting structures and
// their legs across process restarts. The periodic unwind sweep uses it to
// find structures orphaned by a crash between submission and completion.
type StructureRepository interface {
	// Save inserts or updates a structure together with all of its legs.
	Save(ctx context.Context, st *domain.Structure) error
	// FindByID retrieves a structure with its legs. Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.Structure, error)
	// FindOpen retrieves every structure not yet in a terminal state.
	FindOpen(ctx context.Context) ([]*domain.Structure, error)
	// FindOpenByKind retrieves open structures of one strategy kind.
	FindOpenByKind(ctx context.Context, kind domain.StrategyKind) ([]*domain.Structure, error)
}

// Journal defines the append-only audit log of structure state transitions.
// History is replayable: events come back in append order.
type Journal interface {
	// Append records one transition. Appended events are immutable.
	Append(ctx context.Context, ev *domain.StructureEvent) error
	// History returns all events in append order.
	History(ctx context.Context) ([]*domain.StructureEvent, error)
	// HistoryFor returns the events of a single structure in append order.
	HistoryFor(ctx context.Context, structureID string) ([]*domain.StructureEvent, error)
}
