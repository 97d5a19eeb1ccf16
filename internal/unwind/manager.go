package unwind

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
	"tradegate/internal/journal"
	"tradegate/internal/ledger"
	"tradegate/internal/observability"
	"tradegate/internal/ports"
)

const flattenRetries = 3

// Action describes what one reconcile pass did to a structure.
type Action string

const (
	ActionNone      Action = "none"
	ActionFlattened Action = "flattened"
	ActionUnwinding Action = "unwinding" // Flatten started but did not converge this pass
)

// Manager detects imbalanced partial structures and stale working orders and
// issues corrective orders. It is invoked synchronously by the coordinator
// on fill timeout and independently by a periodic sweep, so structures left
// inconsistent by a crash between submission and completion still converge
// to flat.
type Manager struct {
	broker  ports.Brokerage
	repo    ports.StructureRepository
	journal ports.Journal
	ledger  *ledger.Ledger
	logger  ports.Logger
	metrics *observability.Metrics

	gracePeriod       time.Duration
	staleOrderTimeout time.Duration
	now               func() time.Time
}

// Config holds the unwind policy knobs.
type Config struct {
	GracePeriod       time.Duration // How long PARTIALLY_FILLED may persist before flattening
	StaleOrderTimeout time.Duration // How long a SUBMITTED order may work before cancellation
}

// New creates an unwind manager. metrics may be nil.
func New(cfg Config, broker ports.Brokerage, repo ports.StructureRepository, jrnl ports.Journal, led *ledger.Ledger, logger ports.Logger, metrics *observability.Metrics) (*Manager, error) {
	if broker == nil || repo == nil || jrnl == nil || led == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for unwind manager")
	}
	if cfg.GracePeriod <= 0 || cfg.StaleOrderTimeout <= 0 {
		return nil, fmt.Errorf("unwind grace period and stale-order timeout must be positive")
	}
	return &Manager{
		broker:            broker,
		repo:              repo,
		journal:           jrnl,
		ledger:            led,
		logger:            logger,
		metrics:           metrics,
		gracePeriod:       cfg.GracePeriod,
		staleOrderTimeout: cfg.StaleOrderTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewWithClock creates a manager with an injected clock, for tests.
func NewWithClock(cfg Config, broker ports.Brokerage, repo ports.StructureRepository, jrnl ports.Journal, led *ledger.Ledger, logger ports.Logger, metrics *observability.Metrics, now func() time.Time) (*Manager, error) {
	m, err := New(cfg, broker, repo, jrnl, led, logger, metrics)
	if err != nil {
		return nil, err
	}
	m.now = now
	return m, nil
}

// ReconcileStructure inspects one structure and corrects it if needed:
// a structure in PARTIALLY_FILLED past the grace period is unwound by
// closing every filled leg.
func (m *Manager) ReconcileStructure(ctx context.Context, st *domain.Structure) (Action, error) {
	if st.State != domain.StructurePartiallyFilled {
		return ActionNone, nil
	}
	if st.PartialSince.IsZero() || m.now().Sub(st.PartialSince) < m.gracePeriod {
		return ActionNone, nil
	}

	m.logger.Warn(ctx, "Structure past partial-fill grace period, unwinding", map[string]interface{}{
		"structureID": st.ID, "partialSince": st.PartialSince,
	})
	if err := m.Begin(ctx, st, "partial-fill grace period expired"); err != nil {
		return ActionNone, err
	}
	if err := m.Flatten(ctx, st); err != nil {
		return ActionUnwinding, err
	}
	return ActionFlattened, nil
}

// Begin transitions a structure into UNWINDING and records the event. Safe
// to call on a structure already unwinding.
func (m *Manager) Begin(ctx context.Context, st *domain.Structure, reason string) error {
	if st.State == domain.StructureUnwinding {
		return nil
	}
	from := st.State
	if err := st.Transition(domain.StructureUnwinding); err != nil {
		return fmt.Errorf("begin unwind of structure %s: %w", st.ID, err)
	}
	if m.metrics != nil {
		m.metrics.UnwindsStarted.Inc()
		m.metrics.StructureTransitions.WithLabelValues(string(domain.StructureUnwinding)).Inc()
	}
	if err := m.repo.Save(ctx, st); err != nil {
		return fmt.Errorf("persist unwinding structure %s: %w", st.ID, err)
	}
	if err := m.journal.Append(ctx, journal.NewEvent(st, from, domain.StructureUnwinding, reason)); err != nil {
		m.logger.Error(ctx, err, "Failed to journal unwind start", map[string]interface{}{"structureID": st.ID})
	}
	return nil
}

// Flatten issues immediate-execution closing orders for every filled leg
// until the structure has zero net leg exposure, then marks it CLOSED.
// Closing favors speed over price: market orders only.
func (m *Manager) Flatten(ctx context.Context, st *domain.Structure) error {
	if st.State != domain.StructureUnwinding {
		return fmt.Errorf("structure %s is %s, flatten requires UNWINDING", st.ID, st.State)
	}

	for _, leg := range st.Legs {
		// Cancel anything still working before closing exposure.
		if leg.IsOpen() && leg.BrokerID != "" {
			m.cancelOrderWarn(ctx, leg.BrokerID)
		}
	}

	for _, leg := range st.Legs {
		if leg.FilledQty == 0 {
			continue
		}
		if err := m.closeLeg(ctx, st, leg); err != nil {
			return fmt.Errorf("flatten structure %s: %w", st.ID, err)
		}
	}

	from := st.State
	if err := st.Transition(domain.StructureClosed); err != nil {
		return err
	}
	if err := m.repo.Save(ctx, st); err != nil {
		return fmt.Errorf("persist closed structure %s: %w", st.ID, err)
	}
	if err := m.journal.Append(ctx, journal.NewEvent(st, from, domain.StructureClosed, "all open legs flattened")); err != nil {
		m.logger.Error(ctx, err, "Failed to journal unwind completion", map[string]interface{}{"structureID": st.ID})
	}
	m.ledger.StructureClosed(st.Kind, st.WorstCaseLoss)
	if m.metrics != nil {
		m.metrics.StructureTransitions.WithLabelValues(string(domain.StructureClosed)).Inc()
	}
	m.logger.Info(ctx, "Structure flattened", map[string]interface{}{"structureID": st.ID})
	return nil
}

// closeLeg submits a market order offsetting one filled leg, with bounded
// retries.
func (m *Manager) closeLeg(ctx context.Context, st *domain.Structure, leg *domain.Order) error {
	closing := &domain.Order{
		ID:          uuid.NewString(),
		Symbol:      leg.Symbol,
		Underlying:  leg.Underlying,
		Side:        leg.Side.Opposite(),
		Quantity:    leg.FilledQty,
		Type:        domain.OrderTypeMarket,
		Status:      domain.OrderSubmitted,
		SubmittedAt: m.now(),
	}

	var lastErr error
	for attempt := 1; attempt <= flattenRetries; attempt++ {
		receipt, err := m.broker.SubmitOrder(ctx, closing)
		if err != nil {
			lastErr = err
			m.logger.Error(ctx, err, "Closing order submission failed", map[string]interface{}{
				"structureID": st.ID, "legID": leg.ID, "attempt": attempt,
			})
			continue
		}
		closing.BrokerID = receipt.BrokerID
		m.ledger.ApplyFill(leg.Symbol, leg.Underlying, st.ID, closing.SignedQuantity(), leg.FillPrice)
		// The leg's exposure is now offset; record that locally so a repeated
		// flatten pass does not close it twice.
		leg.FilledQty = 0
		return nil
	}
	return fmt.Errorf("closing order for leg %s failed after %d attempts: %w", leg.ID, flattenRetries, lastErr)
}

// SweepStaleOrders cancels any SUBMITTED order older than the stale-order
// timeout, structure-bound or not, releasing its committed buying power.
func (m *Manager) SweepStaleOrders(ctx context.Context) (int, error) {
	orders, err := m.broker.GetOpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: list open orders: %w", err)
	}

	cancelled := 0
	cutoff := m.now().Add(-m.staleOrderTimeout)
	for _, o := range orders {
		if o.Status.IsTerminal() || !o.SubmittedAt.Before(cutoff) {
			continue
		}
		if err := m.broker.CancelOrder(ctx, o.BrokerID); err != nil {
			m.logger.Error(ctx, err, "Failed to cancel stale order", map[string]interface{}{"brokerID": o.BrokerID})
			continue
		}
		cancelled++
		if m.metrics != nil {
			m.metrics.StaleOrderCancels.Inc()
		}
		m.logger.Info(ctx, "Cancelled stale order", map[string]interface{}{
			"brokerID": o.BrokerID, "symbol": o.Symbol, "submittedAt": o.SubmittedAt,
		})
	}
	return cancelled, nil
}

// Sweep runs one pass over all open structures and working orders.
func (m *Manager) Sweep(ctx context.Context) error {
	structures, err := m.repo.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("sweep: load open structures: %w", err)
	}
	for _, st := range structures {
		// Structures stuck in UNWINDING (e.g. a crash mid-flatten) are
		// retried here.
		if st.State == domain.StructureUnwinding {
			if err := m.Flatten(ctx, st); err != nil {
				m.logger.Error(ctx, err, "Unwind retry failed", map[string]interface{}{"structureID": st.ID})
			}
			continue
		}
		if _, err := m.ReconcileStructure(ctx, st); err != nil {
			m.logger.Error(ctx, err, "Structure reconcile failed", map[string]interface{}{"structureID": st.ID})
		}
	}
	if _, err := m.SweepStaleOrders(ctx); err != nil {
		m.logger.Error(ctx, err, "Stale order sweep failed")
	}
	return nil
}

// Run executes Sweep on the given cadence until the context is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Unwind sweep stopped")
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error(ctx, err, "Sweep pass failed")
			}
		}
	}
}

func (m *Manager) cancelOrderWarn(ctx context.Context, brokerID string) {
	if err := m.broker.CancelOrder(ctx, brokerID); err != nil {
		m.logger.Warn(ctx, "Order cancel failed (may already be terminal)", map[string]interface{}{
			"brokerID": brokerID, "error": err.Error(),
		})
	}
}
