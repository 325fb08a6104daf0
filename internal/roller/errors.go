package roller

import (
	"fmt"
)

// GatewayError reports a failed gateway call. The task is abandoned
// immediately: no partial result is returned and no retry is attempted
// here. Retry policy, if any, belongs to a wrapper around the task.
type GatewayError struct {
	Call int
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway call %d failed: %v", e.Call, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// LimitError reports that the configured maximum number of gateway calls
// was reached without the stop marker ever appearing.
type LimitError struct {
	MaxCalls int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("generation limit exceeded: no stop marker after %d calls", e.MaxCalls)
}

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}
