package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"tradegate/internal/domain"
	"tradegate/internal/ports"
)

// SQLite is the durable journal backend. Events are append-only; there is no
// update or delete path.
type SQLite struct {
	db     *sql.DB
	logger ports.Logger
}

// NewSQLite creates a journal on an already-open database handle, creating
// the events table if needed. The handle is shared with the repository; the
// caller owns its lifecycle.
func NewSQLite(db *sql.DB, logger ports.Logger) (*SQLite, error) {
	if db == nil || logger == nil {
		return nil, fmt.Errorf("journal requires a database handle and a logger")
	}
	j := &SQLite{db: db, logger: logger}
	if err := j.initializeSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *SQLite) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS structure_events (
		id TEXT PRIMARY KEY,
		structure_id TEXT NOT NULL,
		underlying TEXT NOT NULL,
		kind TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		reason TEXT NOT NULL,
		at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_structure_events_structure ON structure_events (structure_id, id);
	`
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute journal schema initialization: %w", err)
	}
	return nil
}

// Append records one transition event.
func (j *SQLite) Append(ctx context.Context, ev *domain.StructureEvent) error {
	const query = `
	INSERT INTO structure_events (id, structure_id, underlying, kind, from_state, to_state, reason, at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		ev.ID, ev.StructureID, ev.Underlying, string(ev.Kind), string(ev.From), string(ev.To), ev.Reason, ev.At)
	if err != nil {
		return fmt.Errorf("failed to append event %s for structure %s: %w", ev.ID, ev.StructureID, err)
	}
	j.logger.Debug(ctx, "Journal event appended", map[string]interface{}{
		"eventID": ev.ID, "structureID": ev.StructureID, "to": ev.To,
	})
	return nil
}

// History returns all events ordered by ULID, which is append order.
func (j *SQLite) History(ctx context.Context) ([]*domain.StructureEvent, error) {
	const query = `
	SELECT id, structure_id, underlying, kind, from_state, to_state, reason, at
	FROM structure_events ORDER BY id`
	return j.queryEvents(ctx, query)
}

// HistoryFor returns the events of one structure in append order.
func (j *SQLite) HistoryFor(ctx context.Context, structureID string) ([]*domain.StructureEvent, error) {
	const query = `
	SELECT id, structure_id, underlying, kind, from_state, to_state, reason, at
	FROM structure_events WHERE structure_id = ? ORDER BY id`
	return j.queryEvents(ctx, query, structureID)
}

func (j *SQLite) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*domain.StructureEvent, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.StructureEvent, 0)
	for rows.Next() {
		ev := &domain.StructureEvent{}
		var kind, from, to string
		var at time.Time
		if err := rows.Scan(&ev.ID, &ev.StructureID, &ev.Underlying, &kind, &from, &to, &ev.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan journal event: %w", err)
		}
		ev.Kind = domain.StrategyKind(kind)
		ev.From = domain.StructureState(from)
		ev.To = domain.StructureState(to)
		ev.At = at
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal event rows: %w", err)
	}
	return events, nil
}
