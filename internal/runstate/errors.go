package runstate

import (
	"errors"
	"fmt"
)

// InterruptedError is thrown at a suspension point once the dialog's abort
// signal has fired. The reason comes from the registry's stored stop request.
type InterruptedError struct {
	Reason StopReason
	Detail string
}

func (e *InterruptedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("interrupted: %s (%s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("interrupted: %s", e.Reason)
}

// AsInterrupted extracts an InterruptedError from err, if present.
func AsInterrupted(err error) (*InterruptedError, bool) {
	var ie *InterruptedError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
