package domain

import "time"

// LegSpec describes one leg of a proposed structure, as produced by the
// strategy collaborator. The coordinator turns each spec into an Order.
type LegSpec struct {
	Symbol     string    // Full option symbol
	Side       OrderSide // BUY or SELL
	Quantity   int       // Contracts
	Type       OrderType // LIMIT or MARKET
	LimitPrice float64   // Per-contract limit, 0 for market
}

// TradeRequest is a proposed trade handed to the risk gateway. The gateway
// decides whether it may proceed; it never decides what to trade.
type TradeRequest struct {
	Kind               StrategyKind
	Underlying         string
	Legs               []LegSpec
	Expiry             time.Time
	Contracts          int     // Structure size in contracts
	MaxLossPerContract float64 // Defined-risk worst case per contract, in account currency
	ClosesSameDay      bool    // Whether execution would complete a same-day round trip
}

// WorstCaseLoss returns the maximum loss the proposed structure can realize.
func (r *TradeRequest) WorstCaseLoss() float64 {
	return r.MaxLossPerContract * float64(r.Contracts)
}
