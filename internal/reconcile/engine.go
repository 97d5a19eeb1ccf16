package reconcile

import (
	"context"
	"fmt"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/ledger"
	"tradegate/internal/observability"
	"tradegate/internal/ports"
)

// SyncResult reports the outcome of one reconciliation cycle. A failed sync
// carries its error here and leaves the ledger untouched: staleness trips on
// its own clock, and the gateway converts that into universal rejection.
// Substituting defaults for unavailable ground truth is forbidden.
type SyncResult struct {
	Err       error
	Positions int
	Orders    int
	At        time.Time
}

// OK reports whether the cycle succeeded.
func (r SyncResult) OK() bool { return r.Err == nil }

// Engine pulls ground truth from the brokerage and atomically replaces the
// ledger snapshot. It runs on its own cadence, independent of any in-flight
// execution; the only lock it takes is the ledger's own swap lock.
type Engine struct {
	broker  ports.Brokerage
	ledger  *ledger.Ledger
	repo    ports.StructureRepository
	logger  ports.Logger
	metrics *observability.Metrics
}

// New creates a reconciliation engine. metrics may be nil.
func New(broker ports.Brokerage, led *ledger.Ledger, repo ports.StructureRepository, logger ports.Logger, metrics *observability.Metrics) (*Engine, error) {
	if broker == nil || led == nil || repo == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for reconciliation engine")
	}
	return &Engine{broker: broker, ledger: led, repo: repo, logger: logger, metrics: metrics}, nil
}

// Sync performs one reconciliation cycle.
func (e *Engine) Sync(ctx context.Context) SyncResult {
	started := time.Now()
	res := e.sync(ctx)
	res.At = time.Now().UTC()

	if e.metrics != nil {
		e.metrics.SyncDuration.Observe(time.Since(started).Seconds())
		if res.OK() {
			e.metrics.SyncSuccess.Inc()
			e.metrics.LedgerStale.Set(0)
		} else {
			e.metrics.SyncFailure.WithLabelValues("fetch").Inc()
		}
		if e.ledger.Stale() {
			e.metrics.LedgerStale.Set(1)
		}
	}

	if res.OK() {
		e.logger.Info(ctx, "Ledger reconciled", map[string]interface{}{
			"positions": res.Positions, "orders": res.Orders,
		})
	} else {
		e.logger.Error(ctx, res.Err, "Reconciliation failed; ledger left as-is", map[string]interface{}{
			"stale": e.ledger.Stale(),
		})
	}
	return res
}

func (e *Engine) sync(ctx context.Context) SyncResult {
	account, err := e.broker.FetchAccountState(ctx)
	if err != nil {
		return SyncResult{Err: fmt.Errorf("fetch account state: %w", err)}
	}
	if err := validateAccountState(account); err != nil {
		return SyncResult{Err: err}
	}

	// Open structures are local truth: the brokerage knows legs, not
	// strategies. Worst-case figures and per-kind counts come from the
	// repository.
	openStructures, err := e.repo.FindOpen(ctx)
	if err != nil {
		return SyncResult{Err: fmt.Errorf("load open structures: %w", err)}
	}
	openWorstCase := 0.0
	counts := make(map[domain.StrategyKind]int)
	for _, st := range openStructures {
		openWorstCase += st.WorstCaseLoss
		counts[st.Kind]++
	}

	orders := make([]*domain.Order, 0, len(account.OpenOrders))
	for _, os := range account.OpenOrders {
		if os.Status.IsTerminal() {
			continue
		}
		orders = append(orders, &domain.Order{
			ID:          os.ClientID,
			BrokerID:    os.BrokerID,
			Symbol:      os.Symbol,
			Side:        os.Side,
			Quantity:    os.Quantity,
			FilledQty:   os.FilledQty,
			FillPrice:   os.AvgFillPrice,
			Status:      os.Status,
			SubmittedAt: os.SubmittedAt,
		})
	}

	risk := ledger.RiskSnapshot{
		Equity:            account.Equity,
		BuyingPower:       account.BuyingPower,
		OpenWorstCaseLoss: openWorstCase,
		DayTradeCount5D:   account.DayTradeCount,
		Restricted:        account.Restricted,
	}
	e.ledger.Replace(risk, account.Positions, orders, counts)

	if e.metrics != nil {
		e.metrics.Equity.Set(account.Equity)
	}
	return SyncResult{Positions: len(account.Positions), Orders: len(orders)}
}

// validateAccountState rejects payloads that are technically well-formed but
// implausible as ground truth. A zeroed account snapshot is far more likely
// a brokerage fault than a real account state, and treating it as real would
// let a zero-risk ledger approve trades it must not.
func validateAccountState(a *ports.AccountState) error {
	if a == nil {
		return fmt.Errorf("nil account state: %w", ports.ErrMalformedPayload)
	}
	if a.Equity <= 0 {
		return fmt.Errorf("non-positive equity %.2f: %w", a.Equity, ports.ErrMalformedPayload)
	}
	if a.BuyingPower < 0 {
		return fmt.Errorf("negative buying power %.2f: %w", a.BuyingPower, ports.ErrMalformedPayload)
	}
	if a.AsOf.IsZero() {
		return fmt.Errorf("missing as-of timestamp: %w", ports.ErrMalformedPayload)
	}
	return nil
}

// Run executes Sync on the given cadence until the context is cancelled.
// One failed cycle is not fatal; the ledger simply ages toward staleness.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.Sync(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Reconciliation loop stopped")
			return
		case <-ticker.C:
			e.Sync(ctx)
		}
	}
}
