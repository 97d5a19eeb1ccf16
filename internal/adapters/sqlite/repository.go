package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"tradegate/internal/domain"
	"tradegate/internal/ports"
)

// Repository implements ports.StructureRepository using SQLite. Structures
// and their legs are written in one transaction, so the sweep never observes
// a structure with half its legs missing after a crash.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradegate.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite repository initialized", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS structures (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		underlying TEXT NOT NULL,
		required_legs INTEGER NOT NULL,
		state TEXT NOT NULL,
		credit_received REAL NOT NULL DEFAULT 0,
		worst_case_loss REAL NOT NULL DEFAULT 0,
		expiry TIMESTAMP NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		partial_since TIMESTAMP DEFAULT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS leg_orders (
		id TEXT PRIMARY KEY,
		broker_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		underlying TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		order_type TEXT NOT NULL,
		limit_price REAL NOT NULL DEFAULT 0,
		fill_price REAL NOT NULL DEFAULT 0,
		filled_qty INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		submitted_at TIMESTAMP NOT NULL,
		structure_id TEXT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_structures_state ON structures (state);
	CREATE INDEX IF NOT EXISTS idx_structures_kind_state ON structures (kind, state);
	CREATE INDEX IF NOT EXISTS idx_leg_orders_structure ON leg_orders (structure_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so the journal can share one database file.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Save inserts or updates a structure together with all of its legs, in one
// transaction.
func (r *Repository) Save(ctx context.Context, st *domain.Structure) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for structure %s: %w", st.ID, err)
	}
	defer tx.Rollback()

	const structureQuery = `
	INSERT INTO structures (id, kind, underlying, required_legs, state, credit_received, worst_case_loss, expiry, opened_at, partial_since, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		credit_received = excluded.credit_received,
		worst_case_loss = excluded.worst_case_loss,
		partial_since = excluded.partial_since,
		closed_at = excluded.closed_at`

	var partialSince, closedAt sql.NullTime
	if !st.PartialSince.IsZero() {
		partialSince = sql.NullTime{Time: st.PartialSince, Valid: true}
	}
	if !st.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: st.ClosedAt, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, structureQuery,
		st.ID, string(st.Kind), st.Underlying, st.RequiredLegs, string(st.State),
		st.CreditReceived, st.WorstCaseLoss, st.Expiry, st.OpenedAt, partialSince, closedAt); err != nil {
		return fmt.Errorf("failed to upsert structure %s: %w", st.ID, err)
	}

	const legQuery = `
	INSERT INTO leg_orders (id, broker_id, symbol, underlying, side, quantity, order_type, limit_price, fill_price, filled_qty, status, submitted_at, structure_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		broker_id = excluded.broker_id,
		fill_price = excluded.fill_price,
		filled_qty = excluded.filled_qty,
		status = excluded.status`

	for _, leg := range st.Legs {
		if _, err := tx.ExecContext(ctx, legQuery,
			leg.ID, leg.BrokerID, leg.Symbol, leg.Underlying, string(leg.Side), leg.Quantity,
			string(leg.Type), leg.LimitPrice, leg.FillPrice, leg.FilledQty, string(leg.Status),
			leg.SubmittedAt, st.ID); err != nil {
			return fmt.Errorf("failed to upsert leg %s of structure %s: %w", leg.ID, st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit structure %s: %w", st.ID, err)
	}
	r.logger.Debug(ctx, "Structure saved", map[string]interface{}{"structureID": st.ID, "state": st.State, "legs": len(st.Legs)})
	return nil
}

// FindByID retrieves a structure with its legs. Returns nil, nil if not found.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Structure, error) {
	structures, err := r.queryStructures(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(structures) == 0 {
		return nil, nil // Not an error, just not found
	}
	return structures[0], nil
}

// FindOpen retrieves every structure not yet in a terminal state.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Structure, error) {
	return r.queryStructures(ctx, `WHERE state NOT IN (?, ?)`,
		string(domain.StructureClosed), string(domain.StructureFailed))
}

// FindOpenByKind retrieves open structures of one strategy kind.
func (r *Repository) FindOpenByKind(ctx context.Context, kind domain.StrategyKind) ([]*domain.Structure, error) {
	return r.queryStructures(ctx, `WHERE kind = ? AND state NOT IN (?, ?)`,
		string(kind), string(domain.StructureClosed), string(domain.StructureFailed))
}

func (r *Repository) queryStructures(ctx context.Context, where string, args ...interface{}) ([]*domain.Structure, error) {
	query := `
	SELECT id, kind, underlying, required_legs, state, credit_received, worst_case_loss, expiry, opened_at, partial_since, closed_at
	FROM structures ` + where + ` ORDER BY opened_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query structures: %w", err)
	}
	defer rows.Close()

	structures := make([]*domain.Structure, 0)
	for rows.Next() {
		st, err := scanStructure(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan structure: %w", err)
		}
		structures = append(structures, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating structure rows: %w", err)
	}

	for _, st := range structures {
		legs, err := r.legsFor(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		st.Legs = legs
	}
	return structures, nil
}

func (r *Repository) legsFor(ctx context.Context, structureID string) ([]*domain.Order, error) {
	const query = `
	SELECT id, broker_id, symbol, underlying, side, quantity, order_type, limit_price, fill_price, filled_qty, status, submitted_at, structure_id
	FROM leg_orders WHERE structure_id = ? ORDER BY submitted_at, id`

	rows, err := r.db.QueryContext(ctx, query, structureID)
	if err != nil {
		return nil, fmt.Errorf("failed to query legs for structure %s: %w", structureID, err)
	}
	defer rows.Close()

	legs := make([]*domain.Order, 0)
	for rows.Next() {
		leg, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leg for structure %s: %w", structureID, err)
		}
		legs = append(legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leg rows: %w", err)
	}
	return legs, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStructure(s scanner) (*domain.Structure, error) {
	st := &domain.Structure{}
	var kind, state string
	var partialSince, closedAt sql.NullTime
	err := s.Scan(&st.ID, &kind, &st.Underlying, &st.RequiredLegs, &state,
		&st.CreditReceived, &st.WorstCaseLoss, &st.Expiry, &st.OpenedAt, &partialSince, &closedAt)
	if err != nil {
		return nil, err
	}
	st.Kind = domain.StrategyKind(kind)
	st.State = domain.StructureState(state)
	if partialSince.Valid {
		st.PartialSince = partialSince.Time
	}
	if closedAt.Valid {
		st.ClosedAt = closedAt.Time
	}
	return st, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var side, orderType, status string
	var structureID sql.NullString
	err := s.Scan(&o.ID, &o.BrokerID, &o.Symbol, &o.Underlying, &side, &o.Quantity,
		&orderType, &o.LimitPrice, &o.FillPrice, &o.FilledQty, &status, &o.SubmittedAt, &structureID)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	if structureID.Valid {
		o.StructureID = structureID.String
	}
	return o, nil
}
