package pactman

import (
	"errors"
	"fmt"
	"time"
)

// Business messages of the relay contract
const (
	MsgAlreadyActiveProposal = "Already active proposal"
	MsgDuplicateEndorse      = "Duplicate endorse"
	MsgNotAccepted           = "Not accepted"
)

var (
	ErrNoRequestKey = errors.New("send returned no request key")
	ErrNoResult     = errors.New("response carries no result")
)

// TransportError is a failure of the network or HTTP layer. The call may be
// retried.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pact %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("pact %s: status=%d, body=%s", e.Op, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BusinessError is a rejection reported by the ledger. It is terminal for
// the call.
type BusinessError struct {
	Message    string
	RequestKey string
	Detail     map[string]any
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("pact failure: %s", e.Message)
}

// TimeoutError means a submitted transaction did not produce a result in
// time. The outcome is unknown.
type TimeoutError struct {
	RequestKey string
	After      time.Duration
	Attempts   int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no result for request %s after %v (%d polls)", e.RequestKey, e.After, e.Attempts)
}

func IsTransport(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsBusiness reports whether err is a business failure. If msg is not empty
// the failure message must equal msg.
func IsBusiness(err error, msg string) bool {
	var e *BusinessError
	if !errors.As(err, &e) {
		return false
	}
	return msg == "" || e.Message == msg
}

func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}
