package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/domain"
)

func TestLedgerStartsStale(t *testing.T) {
	l := New(10 * time.Minute)
	assert.True(t, l.Stale(), "a ledger with no sync yet must report stale")

	snap := l.Snapshot()
	assert.True(t, snap.Stale(10*time.Minute, time.Now()))
}

func TestLedgerReplace(t *testing.T) {
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)
	l := NewWithClock(10*time.Minute, func() time.Time { return now })

	l.Replace(RiskSnapshot{Equity: 50_000, BuyingPower: 50_000, OpenWorstCaseLoss: 1000},
		[]*domain.Position{{Symbol: "SPY260918C00500000", Quantity: -2}},
		[]*domain.Order{{ID: "o1", Status: domain.OrderSubmitted}},
		map[domain.StrategyKind]int{domain.IronCondor: 1})

	snap := l.Snapshot()
	assert.Equal(t, 50_000.0, snap.Risk.Equity)
	assert.Equal(t, now, snap.Risk.LastSyncAt, "Replace stamps LastSyncAt")
	assert.False(t, l.Stale())
	assert.Len(t, snap.Positions, 1)
	assert.Len(t, snap.OpenOrders, 1)
	assert.Equal(t, 1, snap.OpenStructures[domain.IronCondor])
	assert.Equal(t, uint64(1), snap.Version)

	// A ledger past its bound is stale again.
	now = now.Add(11 * time.Minute)
	assert.True(t, l.Stale())
}

func TestSnapshotIsolation(t *testing.T) {
	l := New(10 * time.Minute)
	l.Replace(RiskSnapshot{Equity: 50_000},
		[]*domain.Position{{Symbol: "QQQ", Quantity: 1, CurrentPrice: 400}},
		nil,
		map[domain.StrategyKind]int{domain.Strangle: 1})

	snap := l.Snapshot()
	snap.Positions[0].Quantity = 99
	snap.OpenStructures[domain.Strangle] = 99
	snap.Risk.Equity = 0

	fresh := l.Snapshot()
	assert.Equal(t, 1, fresh.Positions[0].Quantity, "mutating a snapshot must not leak into the ledger")
	assert.Equal(t, 1, fresh.OpenStructures[domain.Strangle])
	assert.Equal(t, 50_000.0, fresh.Risk.Equity)
}

func TestApplyFill(t *testing.T) {
	t.Run("opens a new position", func(t *testing.T) {
		l := New(10 * time.Minute)
		l.ApplyFill("SPY260918P00450000", "SPY", "st-1", -2, 1.50)

		snap := l.Snapshot()
		require.Len(t, snap.Positions, 1)
		assert.Equal(t, -2, snap.Positions[0].Quantity)
		assert.Equal(t, "st-1", snap.Positions[0].StructureID)
		assert.Equal(t, 1.50, snap.Positions[0].EntryPrice)
	})

	t.Run("accumulates deltas on an existing position", func(t *testing.T) {
		l := New(10 * time.Minute)
		l.ApplyFill("SPY260918P00450000", "SPY", "st-1", -1, 1.50)
		l.ApplyFill("SPY260918P00450000", "SPY", "st-1", -1, 1.40)

		snap := l.Snapshot()
		require.Len(t, snap.Positions, 1)
		assert.Equal(t, -2, snap.Positions[0].Quantity)
		assert.Equal(t, 1.40, snap.Positions[0].CurrentPrice)
	})

	t.Run("removes a position driven to flat", func(t *testing.T) {
		l := New(10 * time.Minute)
		l.ApplyFill("SPY260918P00450000", "SPY", "st-1", -2, 1.50)
		l.ApplyFill("SPY260918P00450000", "SPY", "st-1", 2, 1.60)

		assert.Empty(t, l.Snapshot().Positions)
	})

	t.Run("ignores a zero delta on an unknown symbol", func(t *testing.T) {
		l := New(10 * time.Minute)
		l.ApplyFill("SPY260918P00450000", "SPY", "st-1", 0, 1.50)
		assert.Empty(t, l.Snapshot().Positions)
	})

	t.Run("does not refresh staleness", func(t *testing.T) {
		l := New(10 * time.Minute)
		l.ApplyFill("SPY260918P00450000", "SPY", "st-1", 1, 1.50)
		assert.True(t, l.Stale(), "a fill is not a full account sync")
	})
}

func TestStructureOpenedClosed(t *testing.T) {
	l := New(10 * time.Minute)
	l.Replace(RiskSnapshot{Equity: 50_000}, nil, nil, nil)

	l.StructureOpened(domain.IronCondor, 1500)
	l.StructureOpened(domain.IronCondor, 1000)
	snap := l.Snapshot()
	assert.Equal(t, 2500.0, snap.Risk.OpenWorstCaseLoss)
	assert.Equal(t, 2, snap.OpenStructures[domain.IronCondor])

	l.StructureClosed(domain.IronCondor, 1500)
	snap = l.Snapshot()
	assert.Equal(t, 1000.0, snap.Risk.OpenWorstCaseLoss)
	assert.Equal(t, 1, snap.OpenStructures[domain.IronCondor])

	// Closing more than was opened clamps at zero rather than going negative.
	l.StructureClosed(domain.IronCondor, 5000)
	l.StructureClosed(domain.IronCondor, 5000)
	snap = l.Snapshot()
	assert.Equal(t, 0.0, snap.Risk.OpenWorstCaseLoss)
	assert.Equal(t, 0, snap.OpenStructures[domain.IronCondor])
}

func TestRiskSnapshotCumulativePct(t *testing.T) {
	r := RiskSnapshot{Equity: 50_000, OpenWorstCaseLoss: 4000}
	assert.InDelta(t, 0.08, r.CumulativeRiskPct(), 1e-9)

	r.Equity = 0
	assert.Equal(t, 0.0, r.CumulativeRiskPct())
}
