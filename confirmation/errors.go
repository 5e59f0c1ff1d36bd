package confirmation

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("confirmation engine closed")
	ErrSubscriptionClosed = errors.New("header subscription closed")
)

// SubscriptionError is delivered to every request that was pending when the
// header subscription failed.
type SubscriptionError struct {
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("header subscription failed: %v", e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}
