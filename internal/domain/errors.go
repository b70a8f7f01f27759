package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents an upstream transport error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch positions", "create order")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ValidationError rejects a request field at the HTTP boundary (never retriable)
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return "invalid field [" + e.Field + "]: " + e.Err.Error()
}

func (e *ValidationError) IsRetriable() bool {
	return false
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var (
	// ErrPriceUnavailable is returned when no cached payload carries a mark
	// price for the requested market. The quote engine retries it next cycle.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrUpstreamUnavailable is returned when a passthrough fetch fails
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrBotRunning is returned when configuration is changed while the quote engine runs
	ErrBotRunning = errors.New("bot is running")

	// ErrConfigNotFound is returned when no persisted bot configuration exists
	ErrConfigNotFound = errors.New("configuration not found")
)
