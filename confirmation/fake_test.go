package confirmation

import (
	"context"
	"errors"
	"sync"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/common"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/event"
)

var errNotFound = errors.New("header does not exist")

// fakeChain is an in-memory HeaderSource. Advance mines blocks and pushes
// them to live subscriptions.
type fakeChain struct {
	mu           sync.Mutex
	headers      []*agreement.BlockHeader
	numberCalls  int
	subscribes   int
	numberErr    error
	subscribeErr error
	numberGate   chan struct{}
	subGate      chan struct{}

	feed event.Feed
	fail chan error
}

func newFakeChain(height int) *fakeChain {
	c := &fakeChain{fail: make(chan error)}
	for i := 0; i <= height; i++ {
		c.headers = append(c.headers, randHeader(uint64(i)))
	}
	return c
}

func randHeader(n uint64) *agreement.BlockHeader {
	return &agreement.BlockHeader{
		Number:       n,
		Hash:         common.RandBytes32(),
		ReceiptsRoot: common.RandBytes32(),
	}
}

// Advance mines n blocks and returns how many subscriptions received the
// last one.
func (c *fakeChain) Advance(n int) int {
	sent := 0
	for i := 0; i < n; i++ {
		c.mu.Lock()
		hdr := randHeader(uint64(len(c.headers)))
		c.headers = append(c.headers, hdr)
		c.mu.Unlock()
		sent = c.feed.Send(hdr)
	}
	return sent
}

func (c *fakeChain) header(n uint64) *agreement.BlockHeader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[n]
}

func (c *fakeChain) height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.headers) - 1)
}

func (c *fakeChain) calls() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numberCalls, c.subscribes
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	c.numberCalls++
	gate := c.numberGate
	err := c.numberErr
	c.numberErr = nil
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return c.height(), nil
}

func (c *fakeChain) HeaderByNumber(ctx context.Context, number uint64) (*agreement.BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.headers)) {
		return nil, errNotFound
	}
	return c.headers[number], nil
}

func (c *fakeChain) SubscribeHeaders(ctx context.Context, ch chan<- *agreement.BlockHeader) (ethereum.Subscription, error) {
	c.mu.Lock()
	gate := c.subGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	c.subscribes++

	inner := c.feed.Subscribe(ch)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()
		select {
		case <-quit:
			return nil
		case err := <-c.fail:
			return err
		}
	}), nil
}
