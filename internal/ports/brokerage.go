package ports

import (
	"context"
	"time"

	"tradegate/internal/domain"
)

// AccountState is the brokerage's view of the account, fetched as one unit by
// reconciliation. Every field is ground truth; nothing here is ever defaulted
// locally on fetch failure.
type AccountState struct {
	Equity        float64
	BuyingPower   float64
	DayTradeCount int // Round trips in the trailing 5 sessions
	Restricted    bool
	Positions     []*domain.Position
	OpenOrders    []*OrderState
	AsOf          time.Time
}

// OrderState is the brokerage's view of one working or recently terminal order.
type OrderState struct {
	BrokerID     string
	ClientID     string // Our order UUID, echoed back by the brokerage
	Symbol       string
	Side         domain.OrderSide
	Quantity     int
	FilledQty    int
	AvgFillPrice float64
	Status       domain.OrderStatus
	SubmittedAt  time.Time
}

// SubmitReceipt is returned by SubmitOrder. Acceptance at the transport layer
// does not imply acceptance at the exchange layer; Status carries the latter
// when known.
type SubmitReceipt struct {
	BrokerID string
	Status   domain.OrderStatus
	At       time.Time
}

// Brokerage defines the interface to the external brokerage execution
// boundary. Every call is fallible and potentially partially applied: a
// submission may succeed at the transport layer, be rejected at the exchange
// layer, or fill asynchronously later.
type Brokerage interface {
	// FetchAccountState retrieves equity, buying power, positions and open
	// orders as a single consistent snapshot.
	FetchAccountState(ctx context.Context) (*AccountState, error)

	// SubmitOrder places one leg order. The receipt reflects transport-layer
	// acceptance; fills are observed via GetOpenOrders.
	SubmitOrder(ctx context.Context, order *domain.Order) (*SubmitReceipt, error)

	// CancelOrder cancels a working order by its brokerage ID.
	CancelOrder(ctx context.Context, brokerID string) error

	// GetOpenOrders retrieves the current state of all non-terminal orders,
	// plus any order that reached a terminal state since the last call.
	GetOpenOrders(ctx context.Context) ([]*OrderState, error)
}
