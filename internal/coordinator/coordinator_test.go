package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/config"
	"tradegate/internal/adapters/paperbroker"
	"tradegate/internal/domain"
	"tradegate/internal/gateway"
	"tradegate/internal/journal"
	"tradegate/internal/ledger"
	"tradegate/internal/ports"
	"tradegate/internal/unwind"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memRepo is a mutex-guarded in-memory repository; coordinator tests touch it
// from the execution goroutine and the test goroutine.
type memRepo struct {
	mu         sync.Mutex
	structures map[string]*domain.Structure
}

func newMemRepo() *memRepo {
	return &memRepo{structures: make(map[string]*domain.Structure)}
}

func (r *memRepo) Save(ctx context.Context, st *domain.Structure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.structures[st.ID] = st
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id string) (*domain.Structure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.structures[id], nil
}

func (r *memRepo) FindOpen(ctx context.Context) ([]*domain.Structure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Structure, 0, len(r.structures))
	for _, st := range r.structures {
		if st.IsOpen() {
			out = append(out, st)
		}
	}
	return out, nil
}

func (r *memRepo) FindOpenByKind(ctx context.Context, kind domain.StrategyKind) ([]*domain.Structure, error) {
	open, _ := r.FindOpen(ctx)
	out := make([]*domain.Structure, 0, len(open))
	for _, st := range open {
		if st.Kind == kind {
			out = append(out, st)
		}
	}
	return out, nil
}

func (r *memRepo) count(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.structures)
}

type fixture struct {
	coord   *Coordinator
	broker  *paperbroker.Broker
	repo    *memRepo
	journal *journal.Memory
	ledger  *ledger.Ledger
}

func testConfig() *config.Config {
	return &config.Config{
		MaxPositionRiskPct:   0.05,
		MaxCumulativeRiskPct: 0.10,
		LedgerMaxStaleness:   10 * time.Minute,
		Policy: &config.Policy{
			AllowedTickers: []string{"SPY", "QQQ"},
			MaxConcurrentPerKind: map[string]int{
				"vertical_spread": 5,
				"strangle":        1,
			},
		},
	}
}

func newFixture(t *testing.T, fillDeadline time.Duration) *fixture {
	t.Helper()
	return newFixtureWith(t, fillDeadline, testConfig())
}

func newFixtureWith(t *testing.T, fillDeadline time.Duration, cfg *config.Config) *fixture {
	t.Helper()
	f := &fixture{
		broker:  paperbroker.New(50_000),
		repo:    newMemRepo(),
		journal: journal.NewMemory(),
		ledger:  ledger.New(10 * time.Minute),
	}
	// One successful sync's worth of state; the gateway needs a fresh ledger.
	f.ledger.Replace(ledger.RiskSnapshot{Equity: 50_000, BuyingPower: 50_000}, nil, nil, nil)

	gw, err := gateway.New(cfg, nil)
	require.NoError(t, err)
	unwinder, err := unwind.New(unwind.Config{
		GracePeriod:       2 * time.Minute,
		StaleOrderTimeout: 4 * time.Hour,
	}, f.broker, f.repo, f.journal, f.ledger, noopLogger{}, nil)
	require.NoError(t, err)

	coord, err := New(gw, f.broker, f.ledger, f.repo, f.journal, unwinder,
		noopLogger{}, nil, fillDeadline)
	require.NoError(t, err)
	coord.SetPollInterval(5 * time.Millisecond)
	f.coord = coord
	return f
}

// spreadRequest proposes a 2-leg credit spread. The paper brokerage fills
// market orders immediately at the order's limit price, so market legs with a
// price make single-threaded tests deterministic.
func spreadRequest(underlying string, legType domain.OrderType) *domain.TradeRequest {
	return &domain.TradeRequest{
		Kind:               domain.VerticalSpread,
		Underlying:         underlying,
		Contracts:          5,
		MaxLossPerContract: 100, // 500 total, 1% of equity
		Expiry:             time.Now().Add(30 * 24 * time.Hour),
		Legs: []domain.LegSpec{
			{Symbol: underlying + "260918P00450000", Side: domain.Sell, Quantity: 5, Type: legType, LimitPrice: 1.50},
			{Symbol: underlying + "260918P00445000", Side: domain.Buy, Quantity: 5, Type: legType, LimitPrice: 0.25},
		},
	}
}

func TestExecuteCompletes(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.coord.Execute(context.Background(), spreadRequest("SPY", domain.OrderTypeMarket))
	require.NoError(t, err)
	require.True(t, res.Decision.Approved)
	require.NotNil(t, res.Structure)

	st := res.Structure
	assert.Equal(t, domain.StructureComplete, st.State)
	assert.True(t, st.AllLegsFilled())
	assert.InDelta(t, 6.25, st.CreditReceived, 1e-9, "(1.50 - 0.25) * 5 contracts")

	// Persisted and journaled.
	saved, err := f.repo.FindByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StructureComplete, saved.State)
	events, err := f.journal.HistoryFor(context.Background(), st.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.StructureComplete, events[len(events)-1].To)

	// Exposure landed in the ledger.
	snap := f.ledger.Snapshot()
	assert.Equal(t, 500.0, snap.Risk.OpenWorstCaseLoss)
	assert.Equal(t, 1, snap.OpenStructures[domain.VerticalSpread])
	assert.Len(t, snap.Positions, 2)
}

func TestExecuteFillsArrivingAsynchronously(t *testing.T) {
	f := newFixture(t, 2*time.Second)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.coord.Execute(context.Background(), spreadRequest("SPY", domain.OrderTypeLimit))
		done <- outcome{res, err}
	}()

	// Wait for both working legs to reach the brokerage, then fill them.
	require.Eventually(t, func() bool {
		orders, err := f.broker.GetOpenOrders(context.Background())
		return err == nil && len(orders) == 2
	}, time.Second, 5*time.Millisecond)
	f.broker.FillAll(1.00)

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, domain.StructureComplete, out.res.Structure.State)
}

func TestExecuteScopeLockExclusive(t *testing.T) {
	f := newFixture(t, 400*time.Millisecond)
	f.broker.HoldFills(true)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.coord.Execute(context.Background(), spreadRequest("SPY", domain.OrderTypeLimit))
		errCh <- err
	}()

	// Once the first execution has submitted its legs it holds the scope lock.
	require.Eventually(t, func() bool { return f.repo.count(context.Background()) == 1 },
		time.Second, 5*time.Millisecond)

	_, err := f.coord.Execute(context.Background(), spreadRequest("SPY", domain.OrderTypeLimit))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrResourceBusy, "same scope is rejected immediately, not queued")

	// A different underlying is a different scope: it proceeds (and fails on
	// its own fill deadline, since fills are held), but is never locked out.
	_, err = f.coord.Execute(context.Background(), spreadRequest("QQQ", domain.OrderTypeLimit))
	assert.NotErrorIs(t, err, ports.ErrResourceBusy)

	<-errCh
}

func TestExecuteRejectsOnStaleLedger(t *testing.T) {
	// A never-synced ledger fails the staleness check before any lock is
	// taken or any order submitted.
	fx := newFixtureStale(t)
	res, err := fx.coord.Execute(context.Background(), spreadRequest("SPY", domain.OrderTypeMarket))
	require.NoError(t, err, "a re-validation rejection is an outcome, not an error")
	assert.False(t, res.Decision.Approved)
	assert.Equal(t, gateway.StaleData, res.Decision.Reason)
	assert.Nil(t, res.Structure, "nothing was submitted")

	orders, err := fx.broker.GetOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// newFixtureStale builds a fixture whose ledger has never been synced.
func newFixtureStale(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		broker:  paperbroker.New(50_000),
		repo:    newMemRepo(),
		journal: journal.NewMemory(),
		ledger:  ledger.New(10 * time.Minute),
	}
	gw, err := gateway.New(testConfig(), nil)
	require.NoError(t, err)
	unwinder, err := unwind.New(unwind.Config{
		GracePeriod:       2 * time.Minute,
		StaleOrderTimeout: 4 * time.Hour,
	}, f.broker, f.repo, f.journal, f.ledger, noopLogger{}, nil)
	require.NoError(t, err)
	coord, err := New(gw, f.broker, f.ledger, f.repo, f.journal, unwinder,
		noopLogger{}, nil, time.Second)
	require.NoError(t, err)
	coord.SetPollInterval(5 * time.Millisecond)
	f.coord = coord
	return f
}

func TestExecuteFailsCleanlyWhenNothingFills(t *testing.T) {
	f := newFixture(t, time.Second)

	// The second leg is rejected at the exchange; the first leg is a held
	// limit order, so no exposure exists.
	f.broker.RejectSymbol("SPY260918P00445000", "no market")
	_, err := f.coord.Execute(context.Background(), spreadRequest("SPY", domain.OrderTypeLimit))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderRejected)

	open, err := f.repo.FindOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open, "the structure reached FAILED")

	// The reserved worst case was released.
	snap := f.ledger.Snapshot()
	assert.Equal(t, 0.0, snap.Risk.OpenWorstCaseLoss)
	assert.Equal(t, 0, snap.OpenStructures[domain.VerticalSpread])
}

func TestExecuteUnwindsPartialSubmission(t *testing.T) {
	f := newFixture(t, time.Second)

	// First leg is a market order and fills; the second is rejected. The
	// filled leg must be flattened, not left naked.
	f.broker.RejectSymbol("SPY260918P00445000", "no market")
	res, err := f.coord.Execute(context.Background(), spreadRequest("SPY", domain.OrderTypeMarket))
	require.Error(t, err)
	require.NotNil(t, res.Structure)

	st := res.Structure
	assert.Equal(t, domain.StructureClosed, st.State)
	assert.Equal(t, 0, st.NetLegExposure())

	// The audit trail replays the whole lifecycle, starting at PENDING: the
	// submission attempt is journaled even though a leg was rejected.
	events, err := f.journal.HistoryFor(context.Background(), st.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, domain.StructurePending, events[0].To)
	assert.Equal(t, domain.StructurePartiallyFilled, events[1].To)
	assert.Equal(t, domain.StructureUnwinding, events[2].To)
	assert.Equal(t, domain.StructureClosed, events[3].To)
}

func TestExecuteStructureLimitBeatsLockContention(t *testing.T) {
	f := newFixture(t, 400*time.Millisecond)
	f.broker.HoldFills(true)

	// Strangles are capped at one concurrent structure. The first execution
	// holds the scope lock with working legs.
	first := spreadRequest("SPY", domain.OrderTypeLimit)
	first.Kind = domain.Strangle
	errCh := make(chan error, 1)
	go func() {
		_, err := f.coord.Execute(context.Background(), first)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return f.repo.count(context.Background()) == 1 },
		time.Second, 5*time.Millisecond)

	// A second strangle on the same scope is over the structure limit. That is
	// a gateway rejection, answered before the busy lock is ever attempted.
	second := spreadRequest("SPY", domain.OrderTypeLimit)
	second.Kind = domain.Strangle
	res, err := f.coord.Execute(context.Background(), second)
	require.NoError(t, err)
	assert.NotErrorIs(t, err, ports.ErrResourceBusy)
	require.False(t, res.Decision.Approved)
	assert.Equal(t, gateway.MaxStructuresExceeded, res.Decision.Reason)
	assert.Nil(t, res.Structure)

	<-errCh
}

func TestExecuteCumulativeRiskHeldAcrossScopes(t *testing.T) {
	// Two structures on different underlyings share one cumulative bound: the
	// first books its worst case the moment it is admitted, so the second is
	// evaluated against a ledger that already carries it.
	cfg := testConfig()
	cfg.MaxPositionRiskPct = 0.07
	f := newFixtureWith(t, time.Second, cfg)

	first := spreadRequest("SPY", domain.OrderTypeMarket)
	first.MaxLossPerContract = 600 // 3000 total, 6% of equity
	res, err := f.coord.Execute(context.Background(), first)
	require.NoError(t, err)
	require.True(t, res.Decision.Approved)

	second := spreadRequest("QQQ", domain.OrderTypeMarket)
	second.MaxLossPerContract = 600 // another 6%, 12% cumulative against a 10% bound
	res, err = f.coord.Execute(context.Background(), second)
	require.NoError(t, err)
	require.False(t, res.Decision.Approved)
	assert.Equal(t, gateway.CumulativeRiskTooHigh, res.Decision.Reason)
	assert.Nil(t, res.Structure)
}

func TestExecuteUnwindsOnFillDeadline(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)

	// Sell leg fills immediately (market), buy leg never fills (limit).
	req := spreadRequest("SPY", domain.OrderTypeLimit)
	req.Legs[0].Type = domain.OrderTypeMarket
	res, err := f.coord.Execute(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, res.Structure)

	st := res.Structure
	assert.Equal(t, domain.StructureClosed, st.State)
	assert.Equal(t, 0, st.NetLegExposure(), "the partial fill was offset")

	events, jerr := f.journal.HistoryFor(context.Background(), st.ID)
	require.NoError(t, jerr)
	states := make([]domain.StructureState, 0, len(events))
	for _, ev := range events {
		states = append(states, ev.To)
	}
	assert.Contains(t, states, domain.StructurePartiallyFilled)
	assert.Contains(t, states, domain.StructureUnwinding)
	assert.Contains(t, states, domain.StructureClosed)
}

func TestExecuteFailsWhenNoLegsEverFill(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	f.broker.HoldFills(true)

	res, err := f.coord.Execute(context.Background(), spreadRequest("SPY", domain.OrderTypeLimit))
	require.Error(t, err)
	require.NotNil(t, res.Structure)
	assert.Equal(t, domain.StructureFailed, res.Structure.State)

	// Every working leg was cancelled on the way out.
	orders, err := f.broker.GetOpenOrders(context.Background())
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, domain.OrderCancelled, o.Status)
	}
}

func TestExecuteRejectsCancelledContext(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.coord.Execute(ctx, spreadRequest("SPY", domain.OrderTypeMarket))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
}

func TestExecuteRejectsWrongArity(t *testing.T) {
	f := newFixture(t, time.Second)

	req := spreadRequest("SPY", domain.OrderTypeMarket)
	req.Legs = req.Legs[:1] // a vertical spread needs two legs
	_, err := f.coord.Execute(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
