package domain

import (
	"fmt"
	"time"
)

// Order is a single option leg order as tracked locally. Created by the
// execution coordinator at submission time; status mirrors the brokerage.
type Order struct {
	ID          string      // Local UUID, assigned at submission
	BrokerID    string      // Brokerage-assigned order ID, empty until accepted
	Symbol      string      // Full option symbol
	Underlying  string      // Underlying ticker
	Side        OrderSide   // BUY or SELL
	Quantity    int         // Contracts, always positive; Side carries direction
	Type        OrderType   // LIMIT or MARKET
	LimitPrice  float64     // Limit price per contract, 0 for market orders
	FillPrice   float64     // Average fill price, 0 until (partially) filled
	FilledQty   int         // Contracts filled so far
	Status      OrderStatus // Current status
	SubmittedAt time.Time   // Time of submission to the brokerage
	StructureID string      // Owning structure, empty for standalone orders
}

// SetStatus transitions the order status, rejecting any transition out of a
// terminal status (terminal states are immutable).
func (o *Order) SetStatus(next OrderStatus) error {
	if o.Status.IsTerminal() && o.Status != next {
		return fmt.Errorf("order %s: illegal transition %s -> %s: terminal status is immutable", o.ID, o.Status, next)
	}
	o.Status = next
	return nil
}

// SignedQuantity returns the position delta a full fill of this order produces.
func (o *Order) SignedQuantity() int {
	if o.Side == Sell {
		return -o.Quantity
	}
	return o.Quantity
}

// SignedFilled returns the position delta of the filled portion.
func (o *Order) SignedFilled() int {
	if o.Side == Sell {
		return -o.FilledQty
	}
	return o.FilledQty
}

// IsOpen reports whether the order may still fill at the brokerage.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}
