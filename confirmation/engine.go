// Package confirmation turns a best-effort header stream into an "await
// N-deep confirmation of block B" primitive for any number of concurrent
// callers.
//
// The engine keeps a lower bound on the chain height. While nobody waits for
// a confirmation it polls the height on demand, at most once per Config.Rate.
// Waiting callers are kept in a priority queue ordered by the height at which
// they become satisfiable; a header subscription is started for the first of
// them and torn down once the queue is empty.
package confirmation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/pqueue"
	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

// HeaderSource is the part of the source chain client the engine needs.
// HeaderByNumber must reject headers whose number does not match.
type HeaderSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number uint64) (*agreement.BlockHeader, error)
	SubscribeHeaders(ctx context.Context, ch chan<- *agreement.BlockHeader) (ethereum.Subscription, error)
}

type result struct {
	hdr *agreement.BlockHeader
	err error
}

type request struct {
	number uint64
	target uint64
	done   chan result // buffered, written exactly once
}

type refresh struct {
	done   chan struct{}
	height uint64
	err    error
}

type subscription struct {
	sub     ethereum.Subscription
	headers chan *agreement.BlockHeader
	quit    chan struct{}
}

type Engine struct {
	source HeaderSource
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	last     uint64
	updating *refresh
	sub      *subscription
	queue    *pqueue.Queue[*request]
	closed   bool

	// set while a subscription is being dialed without holding mu
	subscribing bool
}

func New(source HeaderSource, cfg *Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		source: source,
		cfg:    cfg.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
		queue:  pqueue.New[*request](),
	}
}

// Last returns the current lower bound on the chain height without I/O.
func (e *Engine) Last() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Recent returns the best known chain height. Concurrent callers share one
// in-flight query and its result is reused for Config.Rate. While a header
// subscription is live the height it tracks is returned directly.
func (e *Engine) Recent(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	if e.sub != nil {
		last := e.last
		e.mu.Unlock()
		return last, nil
	}
	r := e.updating
	if r == nil {
		r = &refresh{done: make(chan struct{})}
		e.updating = r
		go e.refresh(r)
	}
	e.mu.Unlock()

	select {
	case <-r.done:
		return r.height, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *Engine) refresh(r *refresh) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.FetchTimeout)
	n, err := e.source.BlockNumber(ctx)
	cancel()

	e.mu.Lock()
	if err != nil {
		r.err = err
		if e.updating == r {
			e.updating = nil
		}
	} else {
		if n > e.last {
			e.last = n
		}
		r.height = e.last
		// keep serving this result until the interval has passed
		e.afterRate(func() {
			e.mu.Lock()
			if e.updating == r {
				e.updating = nil
			}
			e.mu.Unlock()
		})
	}
	e.mu.Unlock()
	close(r.done)
}

func (e *Engine) afterRate(fn func()) {
	go func() {
		select {
		case <-e.ctx.Done():
		case <-time.After(e.cfg.Rate):
			fn()
		}
	}()
}

// IsConfirmed reports whether number has at least depth blocks on top of it.
// It refreshes the height at most once.
func (e *Engine) IsConfirmed(ctx context.Context, number, depth uint64) (bool, error) {
	target := targetHeight(number, depth)
	if target <= e.Last() {
		return true, nil
	}
	if _, err := e.Recent(ctx); err != nil {
		return false, err
	}
	return target <= e.Last(), nil
}

// ConfirmedBlock waits until number is depth deep and returns the header at
// number. If expected is given and the header at number has another hash a
// HeaderMismatchError is returned.
//
// Cancelling ctx abandons the wait; an already queued request still resolves
// once its height is reached and the result is dropped.
func (e *Engine) ConfirmedBlock(ctx context.Context, number, depth uint64, expected *ethcommon.Hash) (*agreement.BlockHeader, error) {
	confirmed, err := e.IsConfirmed(ctx, number, depth)
	if err != nil {
		return nil, err
	}

	var hdr *agreement.BlockHeader
	if confirmed {
		hdr, err = e.source.HeaderByNumber(ctx, number)
	} else {
		hdr, err = e.await(ctx, number, depth)
	}
	if err != nil {
		return nil, err
	}

	if expected != nil && *expected != hdr.Hash {
		return nil, &agreement.HeaderMismatchError{
			Number:   number,
			Expected: *expected,
			Actual:   hdr.Hash,
		}
	}
	return hdr, nil
}

func (e *Engine) await(ctx context.Context, number, depth uint64) (*agreement.BlockHeader, error) {
	req := &request{
		number: number,
		target: targetHeight(number, depth),
		done:   make(chan result, 1),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	subscribe := false
	if req.target <= e.last {
		// reached while we were deciding
		go e.resolve(req)
	} else {
		e.queue.Insert(req.target, req)
		if e.sub == nil && !e.subscribing {
			e.subscribing = true
			subscribe = true
		}
	}
	e.mu.Unlock()

	if subscribe {
		e.runSubscription()
	}

	select {
	case res := <-req.done:
		return res.hdr, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runSubscription dials the header stream without holding mu, so that a
// slow node does not stall Last, Recent or header delivery, and installs it
// if requests are still waiting.
func (e *Engine) runSubscription() {
	headers := make(chan *agreement.BlockHeader, 16)
	sub, err := e.source.SubscribeHeaders(e.ctx, headers)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribing = false

	if err != nil {
		logger.WithField("error", err).Warn("failed to subscribe to headers")
		e.failLocked(err)
		return
	}
	if e.closed || e.sub != nil || e.queue.Len() == 0 {
		sub.Unsubscribe()
		return
	}

	s := &subscription{
		sub:     sub,
		headers: headers,
		quit:    make(chan struct{}),
	}
	e.sub = s
	logger.WithField("pending", e.queue.Len()).Debug("started header subscription")

	go e.loop(s)
}

func (e *Engine) loop(s *subscription) {
	for {
		select {
		case <-s.quit:
			return
		case err := <-s.sub.Err():
			if err == nil {
				err = ErrSubscriptionClosed
			}
			e.mu.Lock()
			if e.sub == s {
				logger.WithField("error", err).Warn("header subscription failed")
				e.failLocked(err)
			}
			e.mu.Unlock()
			return
		case hdr := <-s.headers:
			e.onHeader(s, hdr)
		}
	}
}

func (e *Engine) onHeader(s *subscription, hdr *agreement.BlockHeader) {
	// ignore incomplete headers
	if hdr == nil || hdr.Hash == (ethcommon.Hash{}) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != s {
		return
	}
	if hdr.Number > e.last {
		e.last = hdr.Number
	}

	for {
		p, ok := e.queue.PeekPriority()
		if !ok {
			e.stopSubscriptionLocked()
			return
		}
		if hdr.Number < p {
			return
		}
		req, _ := e.queue.Remove()
		go e.resolve(req)
	}
}

// resolve answers a request with the header at its own height, not the
// header that confirmed it.
func (e *Engine) resolve(req *request) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.FetchTimeout)
	defer cancel()

	hdr, err := e.source.HeaderByNumber(ctx, req.number)
	req.done <- result{hdr: hdr, err: err}
}

// failLocked rejects every pending request and drops the subscription. A
// later request starts a new one.
func (e *Engine) failLocked(err error) {
	for {
		req, ok := e.queue.Remove()
		if !ok {
			break
		}
		req.done <- result{err: &SubscriptionError{Err: err}}
	}
	if e.sub != nil {
		e.stopSubscriptionLocked()
	}
}

func (e *Engine) stopSubscriptionLocked() {
	s := e.sub
	e.sub = nil
	e.updating = nil
	e.queue.Clear()

	close(s.quit)
	s.sub.Unsubscribe()
	logger.Debug("stopped header subscription")
}

// Close rejects all pending requests with ErrClosed and stops background
// work.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for {
		req, ok := e.queue.Remove()
		if !ok {
			break
		}
		req.done <- result{err: ErrClosed}
	}
	if e.sub != nil {
		e.stopSubscriptionLocked()
	}
	e.cancel()
}

func (e *Engine) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

func (e *Engine) subscribed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sub != nil
}

func targetHeight(number, depth uint64) uint64 {
	if number > math.MaxUint64-depth {
		return math.MaxUint64
	}
	return number + depth
}
