package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons for sequence allocation.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted indicates the counter reached its configured max value.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError wraps counter failures with machine readable codes.
type CounterError struct {
	Op        string
	CounterID string
	Code      CounterErrorCode
	Message   string
	Err       error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.CounterID != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.CounterID)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *CounterError) IsNotFound() bool { return false }

// IsConflict reports exhaustion, which callers treat like any other state conflict.
func (e *CounterError) IsConflict() bool { return e != nil && e.Code == CounterErrorExhausted }

func (e *CounterError) IsUnavailable() bool { return false }

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, counterID, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{
		CounterID: counterID,
		Code:      code,
		Message:   message,
		Err:       err,
	}
}
