package pactman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
)

type Mode int

const (
	// Local is a read-only call that does not change the ledger.
	Local Mode = iota
	// Submit sends a transaction and waits for its result.
	Submit
)

func (m Mode) String() string {
	switch m {
	case Local:
		return "local"
	case Submit:
		return "submit"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// FailedAttemptFunc observes every failed transport attempt before it is
// retried.
type FailedAttemptFunc func(op string, attempt int, retriesLeft int, err error)

func logFailedAttempt(op string, attempt int, retriesLeft int, err error) {
	logger.WithFields(logger.Fields{
		"op":          op,
		"attempt":     attempt,
		"retriesLeft": retriesLeft,
	}).Warnf("pact call failed: err=%v", err)
}

// Caller runs commands against a Transport. Only transport failures are
// retried. A business failure is returned at once as a BusinessError since
// the ledger already rejected the command for cause.
type Caller struct {
	transport Transport

	retries      int
	retryDelay   time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration

	OnFailedAttempt FailedAttemptFunc

	sleep func(ctx context.Context, d time.Duration) error
}

func NewCaller(transport Transport, cfg *Config) *Caller {
	return &Caller{
		transport:       transport,
		retries:         cfg.Retries,
		retryDelay:      cfg.RetryDelay,
		pollInterval:    cfg.PollInterval,
		pollTimeout:     cfg.PollTimeout,
		OnFailedAttempt: logFailedAttempt,
		sleep:           sleepCtx,
	}
}

// Call runs cmd in the given mode and returns the result data.
func (c *Caller) Call(ctx context.Context, cmd *Command, mode Mode) (json.RawMessage, error) {
	switch mode {
	case Local:
		return c.Local(ctx, cmd)
	case Submit:
		reqKey, err := c.Send(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return c.AwaitTx(ctx, reqKey)
	default:
		return nil, fmt.Errorf("unknown call mode: %v", mode)
	}
}

func (c *Caller) Local(ctx context.Context, cmd *Command) (json.RawMessage, error) {
	var res *CommandResult
	err := c.retry(ctx, "local", func() error {
		var err error
		res, err = c.transport.Local(ctx, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res.Succeeded()
}

// Send submits cmd and returns its request key.
func (c *Caller) Send(ctx context.Context, cmd *Command) (string, error) {
	var keys []string
	err := c.retry(ctx, "send", func() error {
		var err error
		keys, err = c.transport.Send(ctx, cmd)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", ErrNoRequestKey
	}
	return keys[0], nil
}

// AwaitTx polls for the result of a submitted transaction every poll
// interval. It returns a TimeoutError if no result shows up within the poll
// timeout and stops polling on return.
func (c *Caller) AwaitTx(ctx context.Context, reqKey string) (json.RawMessage, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	start := time.Now()
	attempts := 0
	timedOut := func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithField("reqKey", reqKey).Debugf("poll canceled after %d attempts", attempts)
		return &TimeoutError{RequestKey: reqKey, After: time.Since(start), Attempts: attempts}
	}

	for {
		attempts++
		var results map[string]*CommandResult
		err := c.retry(pollCtx, "poll", func() error {
			var err error
			results, err = c.transport.Poll(pollCtx, reqKey)
			return err
		})
		if err != nil {
			if pollCtx.Err() != nil {
				return nil, timedOut()
			}
			return nil, err
		}

		if res, ok := results[reqKey]; ok && res != nil {
			return res.Succeeded()
		}

		if err := c.sleep(pollCtx, c.pollInterval); err != nil {
			return nil, timedOut()
		}
	}
}

func (c *Caller) retry(ctx context.Context, op string, fn func() error) error {
	delay := c.retryDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var te *TransportError
		if !errors.As(err, &te) || ctx.Err() != nil {
			return err
		}

		left := c.retries - attempt + 1
		if c.OnFailedAttempt != nil {
			c.OnFailedAttempt(op, attempt, left, err)
		}
		if left <= 0 {
			return err
		}

		if serr := c.sleep(ctx, delay); serr != nil {
			return err
		}
		delay *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
