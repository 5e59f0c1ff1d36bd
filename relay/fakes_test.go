package relay

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/journal"
	"github.com/TEENet-io/bonder-relay/pactman"
	"github.com/ethereum/go-ethereum/common"
)

type confirmCall struct {
	number uint64
	depth  uint64
}

// fakeConfirmer confirms every block at once and returns a header with the
// expected hash unless a mismatch is configured for the block.
type fakeConfirmer struct {
	mu       sync.Mutex
	calls    []confirmCall
	mismatch map[uint64]common.Hash
	wait     chan struct{}
}

func (c *fakeConfirmer) ConfirmedBlock(ctx context.Context, number, depth uint64, expected *common.Hash) (*agreement.BlockHeader, error) {
	c.mu.Lock()
	c.calls = append(c.calls, confirmCall{number, depth})
	actual, mismatch := c.mismatch[number]
	wait := c.wait
	c.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if mismatch {
		return nil, &agreement.HeaderMismatchError{Number: number, Expected: *expected, Actual: actual}
	}
	return &agreement.BlockHeader{
		Number:       number,
		Hash:         *expected,
		ReceiptsRoot: common.BigToHash(new(big.Int).SetUint64(number)),
	}, nil
}

func (c *fakeConfirmer) numbers() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []uint64{}
	for _, call := range c.calls {
		out = append(out, call.number)
	}
	return out
}

type contractCall struct {
	op     string
	mode   pactman.Mode
	bond   string
	number uint64
}

type response func(p *agreement.Proposal) error

// fakeContract answers each (op, mode) pair with a configured response.
// Unconfigured calls succeed.
type fakeContract struct {
	mu        sync.Mutex
	calls     []contractCall
	responses map[string]response
}

func newFakeContract() *fakeContract {
	return &fakeContract{responses: map[string]response{}}
}

func key(op string, mode pactman.Mode) string {
	return op + "/" + mode.String()
}

func (c *fakeContract) on(op string, mode pactman.Mode, err error) {
	c.onFunc(op, mode, func(*agreement.Proposal) error { return err })
}

func (c *fakeContract) onFunc(op string, mode pactman.Mode, fn response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[key(op, mode)] = fn
}

func (c *fakeContract) call(op string, mode pactman.Mode, bond string, p *agreement.Proposal) (json.RawMessage, error) {
	c.mu.Lock()
	number := uint64(0)
	if p != nil {
		number = p.Number
	}
	c.calls = append(c.calls, contractCall{op, mode, bond, number})
	fn := c.responses[key(op, mode)]
	c.mu.Unlock()

	if fn != nil {
		if err := fn(p); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`"ok"`), nil
}

func (c *fakeContract) ops(number uint64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []string{}
	for _, call := range c.calls {
		if call.number == number {
			out = append(out, key(call.op, call.mode))
		}
	}
	return out
}

func (c *fakeContract) Propose(_ context.Context, _ *pactman.KeyPair, bond string, p *agreement.Proposal, mode pactman.Mode) (json.RawMessage, error) {
	return c.call("propose", mode, bond, p)
}

func (c *fakeContract) Endorse(_ context.Context, _ *pactman.KeyPair, bond string, p *agreement.Proposal, mode pactman.Mode) (json.RawMessage, error) {
	return c.call("endorse", mode, bond, p)
}

func (c *fakeContract) Validate(_ context.Context, _ *pactman.KeyPair, p *agreement.Proposal) (json.RawMessage, error) {
	return c.call("validate", pactman.Local, "", p)
}

func (c *fakeContract) CheckBond(_ context.Context, _ *pactman.KeyPair, bond string) (json.RawMessage, error) {
	return c.call("checkBond", pactman.Local, bond, nil)
}

// fakeEvents serves fixed recent events and streams the events sent on
// live.
type fakeEvents struct {
	recent    []*pactman.Event
	recentErr error
	live      chan *pactman.Event
}

func (f *fakeEvents) Recent(ctx context.Context, depth, blocks uint64) ([]*pactman.Event, error) {
	return f.recent, f.recentErr
}

func (f *fakeEvents) Stream(ctx context.Context, depth uint64, fn func(*pactman.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.live:
			fn(ev)
		}
	}
}

type memJournal struct {
	mu      sync.Mutex
	entries []*journal.Entry
	changed chan struct{}
}

func newMemJournal() *memJournal {
	return &memJournal{changed: make(chan struct{}, 1024)}
}

func (m *memJournal) Record(_ context.Context, e *journal.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	m.changed <- struct{}{}
	return nil
}

func (m *memJournal) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// outcomes maps block numbers to their recorded outcomes.
func (m *memJournal) outcomes(topic journal.Topic) map[uint64][]journal.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uint64][]journal.Outcome{}
	for _, e := range m.entries {
		if e.Topic == topic {
			out[e.BlockNumber] = append(out[e.BlockNumber], e.Outcome)
		}
	}
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// stuckJournal blocks every write until ctx is done.
type stuckJournal struct{}

func (stuckJournal) Record(ctx context.Context, _ *journal.Entry) error {
	<-ctx.Done()
	return ctx.Err()
}

// inFlight counts concurrent calls and remembers the peak.
type inFlight struct {
	mu       sync.Mutex
	cur, max int
}

func (f *inFlight) enter() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur++
	if f.cur > f.max {
		f.max = f.cur
	}
}

func (f *inFlight) leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur--
}

func (f *inFlight) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max
}
