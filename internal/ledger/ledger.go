package ledger

import (
	"sync"
	"time"

	"tradegate/internal/domain"
)

// RiskSnapshot carries the account-level risk figures the gateway evaluates
// against. LastSyncAt is stamped only by a successful reconciliation; a
// failed sync never touches it, so staleness trips on its own.
type RiskSnapshot struct {
	Equity            float64
	BuyingPower       float64
	OpenWorstCaseLoss float64 // Sum of worst-case loss across all open structures, in account currency
	DayTradeCount5D   int
	Restricted        bool // Account subject to day-trading restrictions
	LastSyncAt        time.Time
}

// CumulativeRiskPct returns open worst-case loss as a fraction of equity.
func (r RiskSnapshot) CumulativeRiskPct() float64 {
	if r.Equity <= 0 {
		return 0
	}
	return r.OpenWorstCaseLoss / r.Equity
}

// Stale reports whether the snapshot is older than the freshness bound.
// Stale data is treated as unknown, not last known good.
func (r RiskSnapshot) Stale(maxStaleness time.Duration, now time.Time) bool {
	if r.LastSyncAt.IsZero() {
		return true
	}
	return now.Sub(r.LastSyncAt) > maxStaleness
}

// Snapshot is one consistent, immutable view of the account. Readers get a
// deep copy and never observe a half-updated state.
type Snapshot struct {
	Risk           RiskSnapshot
	Positions      []*domain.Position
	OpenOrders     []*domain.Order
	OpenStructures map[domain.StrategyKind]int // Count of non-terminal structures per strategy kind
	Version        uint64                      // Monotonic, bumped on every write
}

// Stale reports whether the whole snapshot is past the freshness bound.
func (s *Snapshot) Stale(maxStaleness time.Duration, now time.Time) bool {
	return s.Risk.Stale(maxStaleness, now)
}

// PositionFor returns the position for a symbol, or nil.
func (s *Snapshot) PositionFor(symbol string) *domain.Position {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// Ledger is the canonical in-process view of positions, open orders and
// account risk. It is the single shared mutable resource: reconciliation
// replaces it wholesale, the execution coordinator applies fill deltas, and
// everything else only reads. The write lock is held only for the duration
// of the swap, so reconciliation never blocks an in-flight execution.
type Ledger struct {
	mu           sync.RWMutex
	current      Snapshot
	maxStaleness time.Duration
	now          func() time.Time
}

// New creates an empty ledger. The ledger starts stale: nothing may be
// approved until the first successful reconciliation.
func New(maxStaleness time.Duration) *Ledger {
	return &Ledger{
		maxStaleness: maxStaleness,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// NewWithClock creates a ledger with an injected clock, for tests.
func NewWithClock(maxStaleness time.Duration, now func() time.Time) *Ledger {
	return &Ledger{maxStaleness: maxStaleness, now: now}
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copySnapshot(&l.current)
}

// Stale reports whether the ledger is past its freshness bound.
func (l *Ledger) Stale() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current.Risk.Stale(l.maxStaleness, l.now())
}

// MaxStaleness returns the configured freshness bound.
func (l *Ledger) MaxStaleness() time.Duration {
	return l.maxStaleness
}

// Replace atomically swaps in a freshly reconciled state and stamps
// LastSyncAt. Only the reconciliation engine calls this.
func (l *Ledger) Replace(risk RiskSnapshot, positions []*domain.Position, openOrders []*domain.Order, openStructures map[domain.StrategyKind]int) {
	risk.LastSyncAt = l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = Snapshot{
		Risk:           risk,
		Positions:      copyPositions(positions),
		OpenOrders:     copyOrders(openOrders),
		OpenStructures: copyCounts(openStructures),
		Version:        l.current.Version + 1,
	}
}

// ApplyFill applies one confirmed fill as a position delta. Only the
// execution coordinator calls this; it does not refresh LastSyncAt, since a
// fill is not a full account sync.
func (l *Ledger) ApplyFill(symbol, underlying, structureID string, qtyDelta int, fillPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, p := range l.current.Positions {
		if p.Symbol != symbol {
			continue
		}
		cp := *p
		cp.Quantity += qtyDelta
		cp.CurrentPrice = fillPrice
		if cp.Quantity == 0 {
			l.current.Positions = append(l.current.Positions[:i], l.current.Positions[i+1:]...)
		} else {
			l.current.Positions[i] = &cp
		}
		l.current.Version++
		return
	}

	if qtyDelta == 0 {
		return
	}
	l.current.Positions = append(l.current.Positions, &domain.Position{
		Symbol:       symbol,
		Underlying:   underlying,
		Quantity:     qtyDelta,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		StructureID:  structureID,
		OpenedAt:     l.now(),
	})
	l.current.Version++
}

// StructureOpened records a new open structure: its worst-case loss joins
// the cumulative figure and its kind count increments. Called by the
// coordinator the moment exposure is taken on, so concurrent evaluations see
// it before the next full sync.
func (l *Ledger) StructureOpened(kind domain.StrategyKind, worstCaseLoss float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current.Risk.OpenWorstCaseLoss += worstCaseLoss
	if l.current.OpenStructures == nil {
		l.current.OpenStructures = make(map[domain.StrategyKind]int)
	}
	l.current.OpenStructures[kind]++
	l.current.Version++
}

// StructureClosed reverses StructureOpened once a structure reaches a
// terminal state. Reconciliation re-derives the authoritative figures on
// each sync regardless.
func (l *Ledger) StructureClosed(kind domain.StrategyKind, worstCaseLoss float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current.Risk.OpenWorstCaseLoss -= worstCaseLoss
	if l.current.Risk.OpenWorstCaseLoss < 0 {
		l.current.Risk.OpenWorstCaseLoss = 0
	}
	if n := l.current.OpenStructures[kind]; n > 0 {
		l.current.OpenStructures[kind] = n - 1
	}
	l.current.Version++
}

func copySnapshot(s *Snapshot) *Snapshot {
	return &Snapshot{
		Risk:           s.Risk,
		Positions:      copyPositions(s.Positions),
		OpenOrders:     copyOrders(s.OpenOrders),
		OpenStructures: copyCounts(s.OpenStructures),
		Version:        s.Version,
	}
}

func copyCounts(in map[domain.StrategyKind]int) map[domain.StrategyKind]int {
	out := make(map[domain.StrategyKind]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyPositions(in []*domain.Position) []*domain.Position {
	out := make([]*domain.Position, len(in))
	for i, p := range in {
		cp := *p
		out[i] = &cp
	}
	return out
}

func copyOrders(in []*domain.Order) []*domain.Order {
	out := make([]*domain.Order, len(in))
	for i, o := range in {
		co := *o
		out[i] = &co
	}
	return out
}
