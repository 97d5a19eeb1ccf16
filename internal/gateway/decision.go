package gateway

// RejectionKind is the machine-readable reason a trade was rejected.
// Rejections are expected outcomes, not errors.
type RejectionKind string

const (
	StaleData             RejectionKind = "STALE_DATA"
	TickerNotAllowed      RejectionKind = "TICKER_NOT_ALLOWED"
	BlackoutWindow        RejectionKind = "BLACKOUT_WINDOW"
	MaxStructuresExceeded RejectionKind = "MAX_STRUCTURES_EXCEEDED"
	PositionSizeTooLarge  RejectionKind = "POSITION_SIZE_TOO_LARGE"
	CumulativeRiskTooHigh RejectionKind = "CUMULATIVE_RISK_TOO_HIGH"
	DayTradeRestricted    RejectionKind = "DAY_TRADE_RESTRICTED"
)

// Check names, in pipeline order. Decision.Checks records exactly the checks
// that ran before approval or the first failure.
const (
	CheckStaleness      = "staleness"
	CheckAllowlist      = "ticker_allowlist"
	CheckBlackout       = "blackout_window"
	CheckStructureCount = "structure_count"
	CheckPositionSize   = "position_size"
	CheckCumulativeRisk = "cumulative_risk"
	CheckDayTradeLimit  = "day_trade_limit"
)

// Decision is the immutable outcome of one gateway evaluation. It is
// produced once and never mutated after return, so it can be journaled and
// audited as-is.
type Decision struct {
	Approved bool
	Reason   RejectionKind // Empty when approved
	Detail   string        // Human-readable amplification of Reason
	Checks   []string      // Names of the checks that ran, in order

	// Figures computed during evaluation, recorded for audit.
	ProposedRiskPct   float64 // Worst-case loss of the proposal / equity
	CumulativeRiskPct float64 // (Existing open worst case + proposal) / equity
}

func reject(checks []string, reason RejectionKind, detail string) Decision {
	return Decision{Reason: reason, Detail: detail, Checks: checks}
}
