package paperbroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
	"tradegate/internal/ports"
)

// Broker is an in-process implementation of the brokerage boundary. It fills
// market orders immediately and holds limit orders as working until they are
// filled or cancelled through the test controls. Fault injection covers the
// failure modes the core must survive: fetch errors, exchange-layer
// rejections, and orders that never fill.
type Broker struct {
	mu sync.Mutex

	equity        float64
	buyingPower   float64
	dayTradeCount int
	restricted    bool
	positions     map[string]*domain.Position

	orders map[string]*ports.OrderState // keyed by broker ID

	fetchErr      error
	rejectSymbols map[string]string // symbol -> rejection note
	holdAll       bool              // when set, even market orders stay SUBMITTED
}

// New creates a paper broker with the given starting equity.
func New(equity float64) *Broker {
	return &Broker{
		equity:        equity,
		buyingPower:   equity,
		positions:     make(map[string]*domain.Position),
		orders:        make(map[string]*ports.OrderState),
		rejectSymbols: make(map[string]string),
	}
}

// FetchAccountState returns the account snapshot, or the injected fetch error.
func (b *Broker) FetchAccountState(ctx context.Context) (*ports.AccountState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}

	positions := make([]*domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		cp := *p
		positions = append(positions, &cp)
	}
	orders := make([]*ports.OrderState, 0, len(b.orders))
	for _, o := range b.orders {
		co := *o
		orders = append(orders, &co)
	}
	return &ports.AccountState{
		Equity:        b.equity,
		BuyingPower:   b.buyingPower,
		DayTradeCount: b.dayTradeCount,
		Restricted:    b.restricted,
		Positions:     positions,
		OpenOrders:    orders,
		AsOf:          time.Now().UTC(),
	}, nil
}

// SubmitOrder accepts the order at the transport layer unless its symbol is
// marked for exchange-layer rejection. Market orders fill immediately;
// limit orders stay working.
func (b *Broker) SubmitOrder(ctx context.Context, order *domain.Order) (*ports.SubmitReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if note, ok := b.rejectSymbols[order.Symbol]; ok {
		return nil, fmt.Errorf("submit %s: %s: %w", order.Symbol, note, ports.ErrOrderRejected)
	}

	brokerID := uuid.NewString()
	state := &ports.OrderState{
		BrokerID:    brokerID,
		ClientID:    order.ID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Status:      domain.OrderSubmitted,
		SubmittedAt: time.Now().UTC(),
	}
	b.orders[brokerID] = state

	if order.Type == domain.OrderTypeMarket && !b.holdAll {
		b.fillLocked(state, order.LimitPrice)
	}

	return &ports.SubmitReceipt{BrokerID: brokerID, Status: state.Status, At: state.SubmittedAt}, nil
}

// CancelOrder cancels a working order.
func (b *Broker) CancelOrder(ctx context.Context, brokerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.orders[brokerID]
	if !ok {
		return ports.ErrOrderNotFound
	}
	if state.Status == domain.OrderFilled {
		return fmt.Errorf("order %s already filled: %w", brokerID, ports.ErrOrderCancelFailed)
	}
	state.Status = domain.OrderCancelled
	return nil
}

// GetOpenOrders returns the state of every tracked order, terminal or not.
func (b *Broker) GetOpenOrders(ctx context.Context) ([]*ports.OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	out := make([]*ports.OrderState, 0, len(b.orders))
	for _, o := range b.orders {
		co := *o
		out = append(out, &co)
	}
	return out, nil
}

// --- Test / simulation controls ---

// SetEquity adjusts the reported account equity and buying power.
func (b *Broker) SetEquity(equity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.equity = equity
	b.buyingPower = equity
}

// SetRestricted flags the account as day-trade restricted with the given
// trailing 5-session round-trip count.
func (b *Broker) SetRestricted(restricted bool, dayTrades int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restricted = restricted
	b.dayTradeCount = dayTrades
}

// FailFetches makes FetchAccountState and GetOpenOrders return err until
// cleared with nil.
func (b *Broker) FailFetches(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchErr = err
}

// RejectSymbol makes submissions for symbol fail at the exchange layer.
func (b *Broker) RejectSymbol(symbol, note string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectSymbols[symbol] = note
}

// HoldFills keeps all orders, including market orders, in SUBMITTED until
// FillOrder or FillAll is called.
func (b *Broker) HoldFills(hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdAll = hold
}

// FillOrder fills one working order at the given price.
func (b *Broker) FillOrder(brokerID string, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.orders[brokerID]
	if !ok {
		return ports.ErrOrderNotFound
	}
	if state.Status.IsTerminal() {
		return fmt.Errorf("order %s is %s: %w", brokerID, state.Status, ports.ErrInvalidRequest)
	}
	b.fillLocked(state, price)
	return nil
}

// FillAll fills every working order at the given price.
func (b *Broker) FillAll(price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, state := range b.orders {
		if !state.Status.IsTerminal() {
			b.fillLocked(state, price)
		}
	}
}

// FillClient fills the working order with the given client (local) ID.
func (b *Broker) FillClient(clientID string, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, state := range b.orders {
		if state.ClientID == clientID && !state.Status.IsTerminal() {
			b.fillLocked(state, price)
			return nil
		}
	}
	return ports.ErrOrderNotFound
}

func (b *Broker) fillLocked(state *ports.OrderState, price float64) {
	state.Status = domain.OrderFilled
	state.FilledQty = state.Quantity
	state.AvgFillPrice = price

	qty := state.Quantity
	if state.Side == domain.Sell {
		qty = -qty
	}
	pos, ok := b.positions[state.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: state.Symbol, EntryPrice: price, OpenedAt: time.Now().UTC()}
		b.positions[state.Symbol] = pos
	}
	pos.Quantity += qty
	pos.CurrentPrice = price
	if pos.Quantity == 0 {
		delete(b.positions, state.Symbol)
	}
}
