package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
	"tradegate/internal/gateway"
	"tradegate/internal/journal"
	"tradegate/internal/ledger"
	"tradegate/internal/observability"
	"tradegate/internal/ports"
	"tradegate/internal/unwind"
)

const defaultPollInterval = 250 * time.Millisecond

// Result is the outcome of one execution attempt. A rejection by the
// post-lock re-validation is a Result with Decision.Approved == false and a
// nil Structure; it is not an error.
type Result struct {
	Decision  gateway.Decision
	Structure *domain.Structure
}

// Coordinator executes approved multi-leg structures against the brokerage
// and drives each structure's lifecycle state machine. All execution for one
// (strategy kind, underlying) scope is serialized by an exclusive lock held
// from before submission until the structure reaches COMPLETE, CLOSED or
// FAILED.
type Coordinator struct {
	gateway      *gateway.Gateway
	broker       ports.Brokerage
	ledger       *ledger.Ledger
	repo         ports.StructureRepository
	journal      ports.Journal
	unwinder     *unwind.Manager
	logger       ports.Logger
	metrics      *observability.Metrics
	locks        *scopeLocks
	admitMu      sync.Mutex // serializes re-validation + exposure reservation across all scopes
	fillDeadline time.Duration
	pollInterval time.Duration
}

// New creates a coordinator. metrics may be nil.
func New(gw *gateway.Gateway, broker ports.Brokerage, led *ledger.Ledger, repo ports.StructureRepository, jrnl ports.Journal, unwinder *unwind.Manager, logger ports.Logger, metrics *observability.Metrics, fillDeadline time.Duration) (*Coordinator, error) {
	if gw == nil || broker == nil || led == nil || repo == nil || jrnl == nil || unwinder == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for coordinator")
	}
	if fillDeadline <= 0 {
		return nil, fmt.Errorf("fill deadline must be positive")
	}
	return &Coordinator{
		gateway:      gw,
		broker:       broker,
		ledger:       led,
		repo:         repo,
		journal:      jrnl,
		unwinder:     unwinder,
		logger:       logger,
		metrics:      metrics,
		locks:        newScopeLocks(),
		fillDeadline: fillDeadline,
		pollInterval: defaultPollInterval,
	}, nil
}

// SetPollInterval overrides the fill polling cadence, for tests.
func (c *Coordinator) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

// Execute runs a trade request through the gateway and, if approved, submits
// the proposed structure and watches it to a terminal state. The gateway is
// consulted twice: once before the scope lock is taken, so a request that
// cannot pass on the current snapshot is answered with the gateway's decision
// rather than with lock contention, and again after lock acquisition, closing
// the race window between evaluation and execution.
//
// Caller cancellation via ctx is honored only before the lock is taken;
// once legs are submitted, cancellation is expressed as an unwind, never an
// abrupt abort.
func (c *Coordinator) Execute(ctx context.Context, req *domain.TradeRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execute: %w", ports.ErrContextCanceled)
	}

	if decision := c.gateway.Evaluate(req, c.ledger.Snapshot()); !decision.Approved {
		c.logger.Warn(ctx, "Gateway rejected trade", map[string]interface{}{
			"reason": decision.Reason, "underlying": req.Underlying, "kind": req.Kind,
		})
		return &Result{Decision: decision}, nil
	}

	key := scopeKey(req.Kind, req.Underlying)
	if !c.locks.tryAcquire(key) {
		if c.metrics != nil {
			c.metrics.LockContentions.Inc()
		}
		return nil, fmt.Errorf("execute %s: %w", key, ports.ErrResourceBusy)
	}
	defer c.locks.release(key)

	st, err := domain.NewStructure(uuid.NewString(), req.Kind, req.Underlying, req.Expiry)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	st.WorstCaseLoss = req.WorstCaseLoss()
	if len(req.Legs) != st.RequiredLegs {
		return nil, fmt.Errorf("execute: %s requires %d legs, request has %d: %w",
			req.Kind, st.RequiredLegs, len(req.Legs), ports.ErrInvalidRequest)
	}

	// Re-validate and reserve the exposure in one critical section. Booking
	// the worst case under the same lock as the evaluation means a concurrent
	// admission on any other scope either sees this structure's risk or has
	// already booked its own for this evaluation to see.
	c.admitMu.Lock()
	decision := c.gateway.Evaluate(req, c.ledger.Snapshot())
	if decision.Approved {
		c.ledger.StructureOpened(st.Kind, st.WorstCaseLoss)
	}
	c.admitMu.Unlock()
	if !decision.Approved {
		c.logger.Warn(ctx, "Post-lock re-validation rejected trade", map[string]interface{}{
			"reason": decision.Reason, "underlying": req.Underlying, "kind": req.Kind,
		})
		return &Result{Decision: decision}, nil
	}
	if c.metrics != nil {
		c.metrics.StructuresOpened.WithLabelValues(string(st.Kind)).Inc()
	}

	// Tracks fill quantity already pushed into the ledger, per leg, so a
	// repeated poll never double-applies a delta.
	applied := make(map[string]int)

	if err := c.submitLegs(ctx, st, req, applied); err != nil {
		return &Result{Decision: decision, Structure: st}, err
	}

	if err := c.watchFills(ctx, st, applied); err != nil {
		return &Result{Decision: decision, Structure: st}, err
	}
	return &Result{Decision: decision, Structure: st}, nil
}

// submitLegs places every leg of the structure as one logical unit. On a
// submission error the already-accepted sibling legs are cancelled; if any
// of them filled in the meantime the structure is unwound, otherwise it
// fails cleanly with no exposure.
func (c *Coordinator) submitLegs(ctx context.Context, st *domain.Structure, req *domain.TradeRequest, applied map[string]int) error {
	op := "submitLegs"
	// Journaled up front so the audit trail opens at PENDING even when a leg
	// submission fails partway through.
	if err := c.journal.Append(ctx, journal.NewEvent(st, "", domain.StructurePending, "leg submission started")); err != nil {
		c.logger.Error(ctx, err, op+": Failed to journal submission", map[string]interface{}{"structureID": st.ID})
	}
	for _, spec := range req.Legs {
		leg := &domain.Order{
			ID:          uuid.NewString(),
			Symbol:      spec.Symbol,
			Underlying:  req.Underlying,
			Side:        spec.Side,
			Quantity:    spec.Quantity,
			Type:        spec.Type,
			LimitPrice:  spec.LimitPrice,
			Status:      domain.OrderSubmitted,
			SubmittedAt: time.Now().UTC(),
			StructureID: st.ID,
		}
		receipt, err := c.broker.SubmitOrder(ctx, leg)
		if err != nil {
			c.logger.Error(ctx, err, op+": Leg submission failed", map[string]interface{}{
				"structureID": st.ID, "symbol": spec.Symbol,
			})
			st.Legs = append(st.Legs, leg) // keep the failed leg for the audit trail
			_ = leg.SetStatus(domain.OrderRejected)
			return c.failSubmission(ctx, st, err, applied)
		}
		leg.BrokerID = receipt.BrokerID
		st.Legs = append(st.Legs, leg)
	}

	if err := c.repo.Save(ctx, st); err != nil {
		c.logger.Error(ctx, err, op+": Failed to persist submitted structure", map[string]interface{}{"structureID": st.ID})
		return c.failSubmission(ctx, st, err, applied)
	}
	c.logger.Info(ctx, op+": Structure submitted", map[string]interface{}{
		"structureID": st.ID, "kind": st.Kind, "underlying": st.Underlying, "legs": len(st.Legs),
	})
	return nil
}

// failSubmission cleans up after an irrecoverable error during submission:
// cancel whatever was accepted, then either fail (no fills) or unwind (some
// leg filled before cancellation landed).
func (c *Coordinator) failSubmission(ctx context.Context, st *domain.Structure, cause error, applied map[string]int) error {
	op := "failSubmission"
	for _, leg := range st.Legs {
		if leg.BrokerID != "" && leg.IsOpen() {
			if err := c.broker.CancelOrder(ctx, leg.BrokerID); err != nil {
				c.logger.Warn(ctx, op+": Sibling leg cancel failed", map[string]interface{}{
					"legID": leg.ID, "error": err.Error(),
				})
			}
		}
	}

	// A market sibling may have filled before its cancel landed. Check once.
	if err := c.refreshLegs(ctx, st); err != nil {
		c.logger.Error(ctx, err, op+": Could not confirm sibling fills, unwinding defensively", map[string]interface{}{"structureID": st.ID})
	}
	filled := st.FilledLegs()

	if len(filled) == 0 {
		from := st.State
		if err := st.Transition(domain.StructureFailed); err != nil {
			return err
		}
		if err := c.repo.Save(ctx, st); err != nil {
			c.logger.Error(ctx, err, op+": Failed to persist failed structure", map[string]interface{}{"structureID": st.ID})
		}
		if err := c.journal.Append(ctx, journal.NewEvent(st, from, domain.StructureFailed, "submission error before any fill")); err != nil {
			c.logger.Error(ctx, err, op+": Failed to journal failure", map[string]interface{}{"structureID": st.ID})
		}
		c.ledger.StructureClosed(st.Kind, st.WorstCaseLoss)
		if c.metrics != nil {
			c.metrics.StructureTransitions.WithLabelValues(string(domain.StructureFailed)).Inc()
		}
		return fmt.Errorf("structure %s failed at submission: %w", st.ID, cause)
	}

	// Fills happened: register them, then close everything out.
	c.applyNewFills(st, filled, applied)
	c.transitionAndJournal(ctx, st, domain.StructurePartiallyFilled, "leg filled before cancel landed")
	if err := c.unwinder.Begin(ctx, st, "submission error after partial fill"); err != nil {
		return fmt.Errorf("structure %s: %v (unwind begin failed: %w)", st.ID, cause, err)
	}
	if err := c.unwinder.Flatten(ctx, st); err != nil {
		return fmt.Errorf("structure %s: %v (flatten failed: %w)", st.ID, cause, err)
	}
	return fmt.Errorf("structure %s unwound after submission error: %w", st.ID, cause)
}

// watchFills polls the brokerage until every leg is terminal or the fill
// deadline expires, driving the structure state machine as fills arrive.
func (c *Coordinator) watchFills(ctx context.Context, st *domain.Structure, applied map[string]int) error {
	op := "watchFills"
	deadline := time.Now().Add(c.fillDeadline)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if err := c.refreshLegs(ctx, st); err != nil {
			c.logger.Error(ctx, err, op+": Fill poll failed", map[string]interface{}{"structureID": st.ID})
		} else {
			c.applyNewFills(st, st.FilledLegs(), applied)

			if st.AllLegsFilled() {
				return c.complete(ctx, st)
			}
			if st.State == domain.StructurePending && st.NetLegExposure() != 0 {
				c.transitionAndJournal(ctx, st, domain.StructurePartiallyFilled, "first leg fill confirmed")
			}
			if c.remainingLegsRejected(st) {
				return c.unwindFromWatch(ctx, st, "remaining legs terminally rejected")
			}
		}

		if time.Now().After(deadline) {
			return c.unwindFromWatch(ctx, st, "fill deadline expired")
		}

		select {
		case <-ctx.Done():
			// Cancellation after submission becomes an unwind, never an abort.
			return c.unwindFromWatch(ctx, st, "execution cancelled by caller")
		case <-ticker.C:
		}
	}
}

// complete marks the structure COMPLETE, computing the realized net credit
// from the leg fills.
func (c *Coordinator) complete(ctx context.Context, st *domain.Structure) error {
	credit := 0.0
	for _, leg := range st.Legs {
		if leg.Side == domain.Sell {
			credit += leg.FillPrice * float64(leg.FilledQty)
		} else {
			credit -= leg.FillPrice * float64(leg.FilledQty)
		}
	}
	st.CreditReceived = credit

	c.transitionAndJournal(ctx, st, domain.StructureComplete, "all legs filled")
	if err := c.repo.Save(ctx, st); err != nil {
		return fmt.Errorf("persist complete structure %s: %w", st.ID, err)
	}
	c.logger.Info(ctx, "Structure complete", map[string]interface{}{
		"structureID": st.ID, "credit": credit,
	})
	return nil
}

func (c *Coordinator) unwindFromWatch(ctx context.Context, st *domain.Structure, reason string) error {
	// Nothing filled at all: cancel the working legs and fail cleanly.
	if st.NetLegExposure() == 0 && len(st.FilledLegs()) == 0 {
		for _, leg := range st.Legs {
			if leg.IsOpen() && leg.BrokerID != "" {
				if err := c.broker.CancelOrder(ctx, leg.BrokerID); err != nil {
					c.logger.Warn(ctx, "Leg cancel failed during abandon", map[string]interface{}{"legID": leg.ID, "error": err.Error()})
				}
			}
		}
		c.transitionAndJournal(ctx, st, domain.StructureFailed, reason)
		if err := c.repo.Save(ctx, st); err != nil {
			c.logger.Error(ctx, err, "Failed to persist failed structure", map[string]interface{}{"structureID": st.ID})
		}
		c.ledger.StructureClosed(st.Kind, st.WorstCaseLoss)
		return fmt.Errorf("structure %s failed: %s", st.ID, reason)
	}

	if err := c.unwinder.Begin(ctx, st, reason); err != nil {
		return err
	}
	if err := c.unwinder.Flatten(ctx, st); err != nil {
		// The structure stays UNWINDING; the periodic sweep retries until it
		// converges, and the gateway's structure-count check keeps the scope
		// blocked meanwhile.
		return fmt.Errorf("structure %s left unwinding: %w", st.ID, err)
	}
	return fmt.Errorf("structure %s unwound: %s", st.ID, reason)
}

// refreshLegs updates leg statuses from the brokerage's open-order view.
func (c *Coordinator) refreshLegs(ctx context.Context, st *domain.Structure) error {
	states, err := c.broker.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("refresh legs: %w", err)
	}
	byClient := make(map[string]*ports.OrderState, len(states))
	for _, s := range states {
		byClient[s.ClientID] = s
	}
	for _, leg := range st.Legs {
		s, ok := byClient[leg.ID]
		if !ok || leg.Status.IsTerminal() {
			continue
		}
		leg.FilledQty = s.FilledQty
		leg.FillPrice = s.AvgFillPrice
		if err := leg.SetStatus(s.Status); err != nil {
			return err
		}
	}
	return nil
}

// applyNewFills pushes not-yet-applied fill quantities into the ledger as
// position deltas.
func (c *Coordinator) applyNewFills(st *domain.Structure, filled []*domain.Order, applied map[string]int) {
	for _, leg := range filled {
		if leg.FilledQty == 0 || applied[leg.ID] == leg.FilledQty {
			continue
		}
		delta := leg.FilledQty - applied[leg.ID]
		signed := delta
		if leg.Side == domain.Sell {
			signed = -delta
		}
		c.ledger.ApplyFill(leg.Symbol, leg.Underlying, st.ID, signed, leg.FillPrice)
		applied[leg.ID] = leg.FilledQty
	}
}

func (c *Coordinator) remainingLegsRejected(st *domain.Structure) bool {
	sawRejected := false
	for _, leg := range st.Legs {
		switch {
		case leg.Status == domain.OrderRejected || leg.Status == domain.OrderCancelled:
			sawRejected = true
		case !leg.Status.IsTerminal():
			return false // something can still fill
		}
	}
	return sawRejected
}

func (c *Coordinator) transitionAndJournal(ctx context.Context, st *domain.Structure, to domain.StructureState, reason string) {
	from := st.State
	if err := st.Transition(to); err != nil {
		c.logger.Error(ctx, err, "State transition refused", map[string]interface{}{"structureID": st.ID})
		return
	}
	if c.metrics != nil {
		c.metrics.StructureTransitions.WithLabelValues(string(to)).Inc()
	}
	if err := c.repo.Save(ctx, st); err != nil {
		c.logger.Error(ctx, err, "Failed to persist transition", map[string]interface{}{"structureID": st.ID})
	}
	if err := c.journal.Append(ctx, journal.NewEvent(st, from, to, reason)); err != nil {
		c.logger.Error(ctx, err, "Failed to journal transition", map[string]interface{}{"structureID": st.ID})
	}
}
