package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors
// so the core packages can branch on errors.Is without vendor imports.
var (
	// Configuration and lookup errors
	ErrInvalidConfiguration = errors.New("invalid or missing configuration")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAgentNotFound        = errors.New("agent not found")

	// Order pipeline errors
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrInsufficientCash  = errors.New("insufficient cash to settle fill")
	ErrPriceUnavailable  = errors.New("no current price available for symbol")
	ErrEvaluationTimeout = errors.New("strategy evaluation timed out")
	ErrEngineStopped     = errors.New("engine is not running")

	// Feed, queue and mirror errors
	ErrFeedUnavailable   = errors.New("price feed unavailable")
	ErrConnectionFailed  = errors.New("failed to connect to upstream service")
	ErrQueueFull         = errors.New("queue is full")
	ErrMirrorUnavailable = errors.New("persistence mirror unavailable")
)
