package repositories

import "fmt"

// OrderErrorCode enumerates order persistence error categories.
type OrderErrorCode string

const (
	// OrderErrorUnknown is the fallback category.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotPending signals that a transition required the order to
	// still be pending when the transaction re-read it.
	OrderErrorNotPending OrderErrorCode = "order_not_pending"
	// OrderErrorInvalidInput flags malformed requests before any write.
	OrderErrorInvalidInput OrderErrorCode = "order_invalid_input"
)

// OrderError carries a category alongside the underlying failure.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the wrapped error.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs an OrderError with the given category.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if code == "" {
		code = OrderErrorUnknown
	}
	return &OrderError{Code: code, Message: message, Err: err}
}
