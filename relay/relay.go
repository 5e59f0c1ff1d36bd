// Package relay drives the propose and endorse protocol of a bonder.
//
// The propose task turns confirmed lockup events of the source chain into
// proposals of the corresponding block header. The endorse task endorses
// proposals that name this bonder once the block is confirmed deeper. Both
// rely on the duplicate detection of the relay contract for idempotence.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/journal"
	"github.com/TEENet-io/bonder-relay/pactman"
	"github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultRecordTimeout bounds a single journal write.
const DefaultRecordTimeout = 5 * time.Second

// Confirmer waits for source chain blocks to be confirmed.
type Confirmer interface {
	ConfirmedBlock(ctx context.Context, number, depth uint64, expected *common.Hash) (*agreement.BlockHeader, error)
}

// Contract is the relay contract on the destination chain.
type Contract interface {
	Propose(ctx context.Context, kp *pactman.KeyPair, bond string, p *agreement.Proposal, mode pactman.Mode) (json.RawMessage, error)
	Endorse(ctx context.Context, kp *pactman.KeyPair, bond string, p *agreement.Proposal, mode pactman.Mode) (json.RawMessage, error)
	Validate(ctx context.Context, kp *pactman.KeyPair, p *agreement.Proposal) (json.RawMessage, error)
	CheckBond(ctx context.Context, kp *pactman.KeyPair, bond string) (json.RawMessage, error)
}

// EventSource yields the events of the destination chain.
type EventSource interface {
	Recent(ctx context.Context, depth, blocks uint64) ([]*pactman.Event, error)
	Stream(ctx context.Context, depth uint64, fn func(*pactman.Event)) error
}

type Relay struct {
	cfg      *Config
	bonder   *Bonder
	confirm  Confirmer
	contract Contract
	events   EventSource
	journal  journal.Journal

	// block hashes currently being endorsed
	endorseLock sync.Map

	sleep         func(ctx context.Context, d time.Duration) error
	rand          func() float64
	recordTimeout time.Duration
}

func New(
	cfg *Config,
	bonder *Bonder,
	confirm Confirmer,
	contract Contract,
	events EventSource,
	j journal.Journal,
) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if j == nil {
		j = journal.Discard
	}
	return &Relay{
		cfg:      cfg,
		bonder:   bonder,
		confirm:  confirm,
		contract: contract,
		events:   events,
		journal:  j,
		sleep:    sleepCtx,
		rand:     rand.Float64,

		recordTimeout: DefaultRecordTimeout,
	}, nil
}

func (r *Relay) Bonder() *Bonder {
	return r.bonder
}

// CheckBond verifies that the bonder key satisfies the guard of its active
// bond. Nothing useful can be submitted if it fails.
func (r *Relay) CheckBond(ctx context.Context) error {
	if _, err := r.contract.CheckBond(ctx, r.bonder.KeyPair, r.bonder.Name); err != nil {
		return fmt.Errorf("bond check failed for %s: %w", r.bonder.Name, err)
	}
	logger.WithField("bond", r.bonder.Name).Info("bond is active")
	return nil
}

// pool tracks the goroutine of every event. Waiting for confirmations and
// backing off is not bounded; calls to the relay contract hold one of n
// slots.
type pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func newPool(n int64) *pool {
	return &pool{sem: semaphore.NewWeighted(n)}
}

func (p *pool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Acquire blocks until a slot is free or ctx is done.
func (p *pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *pool) Release() {
	p.sem.Release(1)
}

func (p *pool) Wait() {
	p.wg.Wait()
}

type decision struct {
	topic  journal.Topic
	number uint64
	hash   common.Hash
	logg   *logger.Entry
}

func (r *Relay) newDecision(topic journal.Topic, number uint64, hash common.Hash) *decision {
	return &decision{
		topic:  topic,
		number: number,
		hash:   hash,
		logg: logger.WithFields(logger.Fields{
			"topic":       topic,
			"blockNumber": number,
			"blockHash":   hash.Hex(),
		}),
	}
}

// record journals the outcome. Entries are written even if ctx is done, but
// a stuck journal sink is given up on after recordTimeout.
func (r *Relay) record(ctx context.Context, d *decision, outcome journal.Outcome, msg string) {
	e := &journal.Entry{
		Topic:       d.topic,
		BlockNumber: d.number,
		BlockHash:   d.hash,
		Outcome:     outcome,
		Message:     msg,
		Time:        time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.recordTimeout)
	defer cancel()
	if err := r.journal.Record(ctx, e); err != nil {
		d.logg.WithField("outcome", outcome).Errorf("failed to journal decision: err=%v", err)
	}
}

func (r *Relay) fail(ctx context.Context, d *decision, what string, err error) {
	r.record(ctx, d, journal.Failed, fmt.Sprintf("%s: %v", what, err))
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
