package domain

import (
	"fmt"
	"time"
)

// StructureState is the lifecycle state of a multi-leg structure.
type StructureState string

const (
	StructurePending         StructureState = "PENDING"
	StructurePartiallyFilled StructureState = "PARTIALLY_FILLED"
	StructureComplete        StructureState = "COMPLETE"
	StructureUnwinding       StructureState = "UNWINDING"
	StructureClosed          StructureState = "CLOSED"
	StructureFailed          StructureState = "FAILED"
)

// IsTerminal reports whether the state admits no further transitions.
func (s StructureState) IsTerminal() bool {
	switch s {
	case StructureClosed, StructureFailed:
		return true
	}
	return false
}

// validStructureTransitions encodes the structure state machine. Any
// transition not listed here is a bug, not a recoverable condition.
var validStructureTransitions = map[StructureState][]StructureState{
	StructurePending:         {StructurePartiallyFilled, StructureComplete, StructureUnwinding, StructureFailed},
	StructurePartiallyFilled: {StructureComplete, StructureUnwinding},
	StructureComplete:        {StructureUnwinding, StructureClosed},
	StructureUnwinding:       {StructureClosed},
}

// Structure is one instance of a multi-leg option strategy (e.g. an iron
// condor) managed as a unit. The legs either all fill, or the structure is
// unwound back to flat; it is never left imbalanced past one sweep cycle.
type Structure struct {
	ID             string         // UUID
	Kind           StrategyKind   // Strategy this structure implements
	Underlying     string         // Underlying ticker
	RequiredLegs   int            // Arity of the strategy; must equal Kind.LegCount()
	Legs           []*Order       // Leg orders, len(Legs) <= RequiredLegs during submission
	State          StructureState // Current lifecycle state
	CreditReceived float64        // Net credit collected per contract across filled legs
	WorstCaseLoss  float64        // Defined-risk maximum loss, carried over from the approved request
	Expiry         time.Time      // Option expiry shared by all legs
	OpenedAt       time.Time      // Time of submission
	PartialSince   time.Time      // Time of entering PARTIALLY_FILLED, zero otherwise
	ClosedAt       time.Time      // Time of reaching CLOSED/FAILED, zero while open
}

// NewStructure creates a pending structure for the given strategy kind,
// validating the leg arity against the kind's defined arity.
func NewStructure(id string, kind StrategyKind, underlying string, expiry time.Time) (*Structure, error) {
	arity := kind.LegCount()
	if arity == 0 {
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
	return &Structure{
		ID:           id,
		Kind:         kind,
		Underlying:   underlying,
		RequiredLegs: arity,
		State:        StructurePending,
		Expiry:       expiry,
		OpenedAt:     time.Now().UTC(),
	}, nil
}

// Transition moves the structure to the next state, enforcing both the state
// machine and the completeness invariant: COMPLETE requires every leg FILLED
// and the leg count equal to the strategy arity.
func (st *Structure) Transition(next StructureState) error {
	allowed := false
	for _, s := range validStructureTransitions[st.State] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("structure %s: illegal transition %s -> %s", st.ID, st.State, next)
	}
	if next == StructureComplete {
		if len(st.Legs) != st.RequiredLegs {
			return fmt.Errorf("structure %s: cannot complete with %d/%d legs", st.ID, len(st.Legs), st.RequiredLegs)
		}
		for _, leg := range st.Legs {
			if leg.Status != OrderFilled {
				return fmt.Errorf("structure %s: cannot complete, leg %s is %s", st.ID, leg.ID, leg.Status)
			}
		}
	}
	st.State = next
	switch {
	case next == StructurePartiallyFilled:
		st.PartialSince = time.Now().UTC()
	case next.IsTerminal():
		st.ClosedAt = time.Now().UTC()
	}
	return nil
}

// FilledLegs returns the legs with a FILLED status.
func (st *Structure) FilledLegs() []*Order {
	filled := make([]*Order, 0, len(st.Legs))
	for _, leg := range st.Legs {
		if leg.Status == OrderFilled {
			filled = append(filled, leg)
		}
	}
	return filled
}

// NetLegExposure sums the signed filled quantity across all legs. Zero means
// the structure is flat (either nothing filled or fully offset).
func (st *Structure) NetLegExposure() int {
	net := 0
	for _, leg := range st.Legs {
		net += leg.SignedFilled()
	}
	return net
}

// AllLegsFilled reports whether every required leg has fully filled.
func (st *Structure) AllLegsFilled() bool {
	if len(st.Legs) != st.RequiredLegs {
		return false
	}
	for _, leg := range st.Legs {
		if leg.Status != OrderFilled {
			return false
		}
	}
	return true
}

// IsOpen reports whether the structure still needs lifecycle management.
func (st *Structure) IsOpen() bool {
	return !st.State.IsTerminal()
}
