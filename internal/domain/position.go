package domain

import "time"

// Position represents current exposure in a single option or equity symbol.
// Positions are owned by the ledger: reconciliation replaces them wholesale
// and the execution coordinator applies confirmed fill deltas. Nothing else
// writes them.
type Position struct {
	Symbol       string    // Full option symbol (e.g. "SPY260116P00450000") or equity ticker
	Underlying   string    // Underlying ticker (e.g. "SPY")
	Quantity     int       // Signed contracts: positive = long, negative = short
	EntryPrice   float64   // Average entry price per contract
	CurrentPrice float64   // Last marked price per contract
	UnrealizedPL float64   // Mark-to-market P/L
	StructureID  string    // Back-reference to the owning structure, empty if standalone
	OpenedAt     time.Time // Timestamp of the first fill that opened the position
}

// IsFlat reports whether the position carries no exposure.
func (p *Position) IsFlat() bool {
	return p.Quantity == 0
}
