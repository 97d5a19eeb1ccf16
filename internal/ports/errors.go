package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Brokerage Specific Errors
	ErrBrokerUnavailable    = errors.New("brokerage API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the brokerage")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("brokerage authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient buying power for operation")
	ErrOrderNotFound        = errors.New("order not found at the brokerage")
	ErrOrderRejected        = errors.New("order rejected at the exchange layer")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrMalformedPayload     = errors.New("brokerage returned a malformed or implausible payload")

	// Coordination Errors
	ErrResourceBusy = errors.New("execution already in flight for this strategy/underlying")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
