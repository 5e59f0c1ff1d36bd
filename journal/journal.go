// Package journal records the decisions the relay takes for every source
// chain block it acts on, so that they can be reconstructed afterwards.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

type Topic string

const (
	TopicPropose Topic = "propose"
	TopicEndorse Topic = "endorse"
)

type Outcome string

const (
	SkippedRemoved   Outcome = "skipped-removed"
	SkippedStale     Outcome = "skipped-stale"
	SkippedExisting  Outcome = "skipped-existing"
	AlreadyValidated Outcome = "already-validated"
	Submitted        Outcome = "submitted"
	RaceLost         Outcome = "race-lost"
	Unknown          Outcome = "unknown"
	Failed           Outcome = "failed"
)

// Entry is one decision about a source chain block.
type Entry struct {
	Topic       Topic       `json:"topic"`
	BlockNumber uint64      `json:"blockNumber"`
	BlockHash   common.Hash `json:"blockHash"`
	Outcome     Outcome     `json:"outcome"`
	Message     string      `json:"message,omitempty"`
	Time        time.Time   `json:"time"`
}

func (e *Entry) String() string {
	return fmt.Sprintf("{%s %d %s: %s}", e.Topic, e.BlockNumber, e.BlockHash.Hex(), e.Outcome)
}

type Journal interface {
	Record(ctx context.Context, e *Entry) error
}

// Multi records an entry to all journals and joins their errors.
type Multi []Journal

func (m Multi) Record(ctx context.Context, e *Entry) error {
	var errs []error
	for _, j := range m {
		if err := j.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger writes entries to the standard logger. Failures are logged at
// error level, benign outcomes at info level.
type Logger struct{}

func (Logger) Record(_ context.Context, e *Entry) error {
	l := logger.WithFields(logger.Fields{
		"topic":       e.Topic,
		"blockNumber": e.BlockNumber,
		"blockHash":   e.BlockHash.Hex(),
		"outcome":     e.Outcome,
	})

	msg := e.Message
	if msg == "" {
		msg = string(e.Outcome)
	}
	switch e.Outcome {
	case Failed:
		l.Error(msg)
	case RaceLost, Unknown:
		l.Warn(msg)
	case SkippedRemoved, SkippedStale:
		l.Debug(msg)
	default:
		l.Info(msg)
	}
	return nil
}

type discard struct{}

func (discard) Record(context.Context, *Entry) error { return nil }

var Discard Journal = discard{}
