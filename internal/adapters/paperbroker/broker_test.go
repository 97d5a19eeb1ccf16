package paperbroker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/domain"
	"tradegate/internal/ports"
)

var _ ports.Brokerage = (*Broker)(nil)

func TestMarketOrdersFillImmediately(t *testing.T) {
	ctx := context.Background()
	b := New(50_000)

	receipt, err := b.SubmitOrder(ctx, &domain.Order{
		ID: "o1", Symbol: "SPY260918P00450000", Side: domain.Sell,
		Quantity: 5, Type: domain.OrderTypeMarket, LimitPrice: 1.50,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, receipt.Status)

	account, err := b.FetchAccountState(ctx)
	require.NoError(t, err)
	require.Len(t, account.Positions, 1)
	assert.Equal(t, -5, account.Positions[0].Quantity)
}

func TestLimitOrdersStayWorking(t *testing.T) {
	ctx := context.Background()
	b := New(50_000)

	receipt, err := b.SubmitOrder(ctx, &domain.Order{
		ID: "o1", Symbol: "SPY260918P00450000", Side: domain.Sell,
		Quantity: 5, Type: domain.OrderTypeLimit, LimitPrice: 1.50,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSubmitted, receipt.Status)

	require.NoError(t, b.FillClient("o1", 1.48))
	orders, err := b.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderFilled, orders[0].Status)
	assert.Equal(t, 1.48, orders[0].AvgFillPrice)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	b := New(50_000)

	receipt, err := b.SubmitOrder(ctx, &domain.Order{
		ID: "o1", Symbol: "SPY260918P00450000", Side: domain.Buy,
		Quantity: 1, Type: domain.OrderTypeLimit, LimitPrice: 0.25,
	})
	require.NoError(t, err)
	require.NoError(t, b.CancelOrder(ctx, receipt.BrokerID))

	// Filled and unknown orders cannot be cancelled.
	assert.ErrorIs(t, b.CancelOrder(ctx, "nope"), ports.ErrOrderNotFound)
	filled, err := b.SubmitOrder(ctx, &domain.Order{
		ID: "o2", Symbol: "SPY260918P00450000", Side: domain.Buy,
		Quantity: 1, Type: domain.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, b.CancelOrder(ctx, filled.BrokerID), ports.ErrOrderCancelFailed)
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	b := New(50_000)

	b.RejectSymbol("SPY260918P00450000", "no market")
	_, err := b.SubmitOrder(ctx, &domain.Order{ID: "o1", Symbol: "SPY260918P00450000"})
	assert.ErrorIs(t, err, ports.ErrOrderRejected)

	boom := errors.New("boom")
	b.FailFetches(boom)
	_, err = b.FetchAccountState(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = b.GetOpenOrders(ctx)
	assert.ErrorIs(t, err, boom)

	b.FailFetches(nil)
	_, err = b.FetchAccountState(ctx)
	assert.NoError(t, err)
}

func TestOffsettingFillsFlattenThePosition(t *testing.T) {
	ctx := context.Background()
	b := New(50_000)

	_, err := b.SubmitOrder(ctx, &domain.Order{
		ID: "o1", Symbol: "SPY260918P00450000", Side: domain.Sell,
		Quantity: 5, Type: domain.OrderTypeMarket, LimitPrice: 1.50,
	})
	require.NoError(t, err)
	_, err = b.SubmitOrder(ctx, &domain.Order{
		ID: "o2", Symbol: "SPY260918P00450000", Side: domain.Buy,
		Quantity: 5, Type: domain.OrderTypeMarket, LimitPrice: 1.60,
	})
	require.NoError(t, err)

	account, err := b.FetchAccountState(ctx)
	require.NoError(t, err)
	assert.Empty(t, account.Positions)
}
