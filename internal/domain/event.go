package domain

import "time"

// StructureEvent records one structure state transition in the audit journal.
// Events are append-only and ordered by their ULID, which sorts
// lexicographically by creation time, making the history replayable.
type StructureEvent struct {
	ID          string         // ULID
	StructureID string
	Underlying  string
	Kind        StrategyKind
	From        StructureState
	To          StructureState
	Reason      string // Free-form cause ("all legs filled", "fill deadline", ...)
	At          time.Time
}
