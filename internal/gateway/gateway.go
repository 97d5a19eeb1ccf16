package gateway

import (
	"fmt"
	"time"

	"tradegate/config"
	"tradegate/internal/domain"
	"tradegate/internal/ledger"
	"tradegate/internal/observability"
)

// Gateway is the single risk decision point. Every execution path must pass
// through Evaluate before submitting orders; no path may carry its own
// limits. Evaluate is pure with respect to its inputs and safe for
// concurrent use, but an approval is only valid at the instant it was
// computed — the coordinator re-validates under its lock.
type Gateway struct {
	cfg     *config.Config
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a gateway. metrics may be nil (e.g. in tests).
func New(cfg *config.Config, metrics *observability.Metrics) (*Gateway, error) {
	if cfg == nil || cfg.Policy == nil {
		return nil, fmt.Errorf("gateway requires configuration with a loaded policy")
	}
	return &Gateway{
		cfg:     cfg,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewWithClock creates a gateway with an injected clock, for tests.
func NewWithClock(cfg *config.Config, metrics *observability.Metrics, now func() time.Time) (*Gateway, error) {
	g, err := New(cfg, metrics)
	if err != nil {
		return nil, err
	}
	g.now = now
	return g, nil
}

// Evaluate runs the ordered check pipeline against one proposed trade and
// the given ledger snapshot. Fail-fast: the first failing check
// short-circuits, later checks do not run, and Checks records exactly the
// checks that ran. All thresholds are fractions of current equity,
// recomputed fresh on every call.
func (g *Gateway) Evaluate(req *domain.TradeRequest, snap *ledger.Snapshot) Decision {
	d := g.evaluate(req, snap)
	g.record(d)
	return d
}

func (g *Gateway) evaluate(req *domain.TradeRequest, snap *ledger.Snapshot) Decision {
	now := g.now()
	checks := make([]string, 0, 7)

	// 1. Never proceed on unknown state.
	checks = append(checks, CheckStaleness)
	if snap == nil || snap.Stale(g.cfg.LedgerMaxStaleness, now) {
		return reject(checks, StaleData,
			fmt.Sprintf("ledger older than %s; approving nothing", g.cfg.LedgerMaxStaleness))
	}

	// 2. Underlying must be on the allow-list.
	checks = append(checks, CheckAllowlist)
	if !g.cfg.Policy.TickerAllowed(req.Underlying) {
		return reject(checks, TickerNotAllowed,
			fmt.Sprintf("underlying %q is not on the allow-list", req.Underlying))
	}

	// 3. No new structures inside an earnings/blackout window.
	checks = append(checks, CheckBlackout)
	if g.cfg.Policy.InBlackout(req.Underlying, now) {
		return reject(checks, BlackoutWindow,
			fmt.Sprintf("underlying %q is inside a blackout window", req.Underlying))
	}

	// 4. Concurrent-structure limit per strategy kind.
	checks = append(checks, CheckStructureCount)
	limit := g.cfg.Policy.MaxConcurrent(string(req.Kind))
	if open := snap.OpenStructures[req.Kind]; open >= limit {
		return reject(checks, MaxStructuresExceeded,
			fmt.Sprintf("%d open %s structure(s), limit %d", open, req.Kind, limit))
	}

	// 5. Per-position worst-case loss bound.
	checks = append(checks, CheckPositionSize)
	equity := snap.Risk.Equity
	worstCase := req.WorstCaseLoss()
	proposedPct := 0.0
	if equity > 0 {
		proposedPct = worstCase / equity
	}
	if equity <= 0 || proposedPct > g.cfg.MaxPositionRiskPct {
		return Decision{
			Reason: PositionSizeTooLarge,
			Detail: fmt.Sprintf("worst-case loss %.2f is %.1f%% of equity %.2f, limit %.1f%%",
				worstCase, proposedPct*100, equity, g.cfg.MaxPositionRiskPct*100),
			Checks:          checks,
			ProposedRiskPct: proposedPct,
		}
	}

	// 6. Cumulative bound across all open positions plus the proposal.
	// Per-trade checks alone permit unlimited accumulation through repeated
	// individually compliant trades.
	checks = append(checks, CheckCumulativeRisk)
	cumulativePct := (snap.Risk.OpenWorstCaseLoss + worstCase) / equity
	if cumulativePct > g.cfg.MaxCumulativeRiskPct {
		return Decision{
			Reason: CumulativeRiskTooHigh,
			Detail: fmt.Sprintf("open risk %.2f plus proposal %.2f is %.1f%% of equity, limit %.1f%%",
				snap.Risk.OpenWorstCaseLoss, worstCase, cumulativePct*100, g.cfg.MaxCumulativeRiskPct*100),
			Checks:            checks,
			ProposedRiskPct:   proposedPct,
			CumulativeRiskPct: cumulativePct,
		}
	}

	// 7. Day-trade allowance for restricted accounts.
	checks = append(checks, CheckDayTradeLimit)
	if req.ClosesSameDay && snap.Risk.Restricted && snap.Risk.DayTradeCount5D >= maxDayTrades5D {
		return Decision{
			Reason: DayTradeRestricted,
			Detail: fmt.Sprintf("%d day trades in 5 sessions, no allowance remaining",
				snap.Risk.DayTradeCount5D),
			Checks:            checks,
			ProposedRiskPct:   proposedPct,
			CumulativeRiskPct: cumulativePct,
		}
	}

	return Decision{
		Approved:          true,
		Checks:            checks,
		ProposedRiskPct:   proposedPct,
		CumulativeRiskPct: cumulativePct,
	}
}

// maxDayTrades5D is the regulatory pattern-day-trade allowance for
// restricted accounts: a fourth same-day round trip in 5 sessions is blocked.
const maxDayTrades5D = 3

func (g *Gateway) record(d Decision) {
	if g.metrics == nil {
		return
	}
	if d.Approved {
		g.metrics.DecisionsApproved.Inc()
		return
	}
	g.metrics.DecisionsRejected.WithLabelValues(string(d.Reason)).Inc()
}
