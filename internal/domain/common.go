package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a given opening side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents how an order executes.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus represents the lifecycle state of an order at the brokerage.
type OrderStatus string

const (
	OrderSubmitted       OrderStatus = "SUBMITTED"
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled:
		return true
	}
	return false
}

// StrategyKind names a defined-risk multi-leg option strategy.
type StrategyKind string

const (
	IronCondor     StrategyKind = "iron_condor"
	VerticalSpread StrategyKind = "vertical_spread"
	Strangle       StrategyKind = "strangle"
)

// LegCount returns the arity of the strategy, or 0 for an unknown kind.
func (k StrategyKind) LegCount() int {
	switch k {
	case IronCondor:
		return 4
	case VerticalSpread, Strangle:
		return 2
	}
	return 0
}
