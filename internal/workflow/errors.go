package workflow

import "errors"

var (
	// ErrInvalidTransition indicates the event is not legal in the current state.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrPaymentFailed indicates the payment processor declined or was abandoned.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrPaymentInProgress indicates another request is already paying for the draft.
	ErrPaymentInProgress = errors.New("payment already in progress")
	// ErrLocationUnavailable indicates the location provider could not produce a position.
	ErrLocationUnavailable = errors.New("location unavailable")
)
