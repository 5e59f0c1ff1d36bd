package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/common"
	"github.com/TEENet-io/bonder-relay/journal"
	"github.com/TEENet-io/bonder-relay/pactman"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

type testEnv struct {
	relay    *Relay
	confirm  *fakeConfirmer
	contract *fakeContract
	events   *fakeEvents
	journal  *memJournal
	sleeper  *sleepRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	bonder, err := NewBonder(testSecret, "bond-a")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.EndorseDepth = 20

	env := &testEnv{
		confirm:  &fakeConfirmer{mismatch: map[uint64]ethcommon.Hash{}},
		contract: newFakeContract(),
		events:   &fakeEvents{live: make(chan *pactman.Event)},
		journal:  newMemJournal(),
		sleeper:  &sleepRecorder{},
	}
	env.relay, err = New(cfg, bonder, env.confirm, env.contract, env.events, env.journal)
	require.NoError(t, err)
	env.relay.sleep = env.sleeper.sleep
	env.relay.rand = func() float64 { return 0.5 }
	return env
}

func lockup(number uint64, removed bool) *agreement.LockupEvent {
	return &agreement.LockupEvent{
		BlockNumber: number,
		BlockHash:   common.RandBytes32(),
		TxHash:      common.RandBytes32(),
		Removed:     removed,
	}
}

func businessErr(msg string) error {
	return &pactman.BusinessError{Message: msg}
}

func onlyFor(number uint64, err error) response {
	return func(p *agreement.Proposal) error {
		if p.Number == number {
			return err
		}
		return nil
	}
}

func runProposer(t *testing.T, env *testEnv, events ...*agreement.LockupEvent) {
	ch := make(chan *agreement.LockupEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	require.NoError(t, env.relay.RunProposer(context.Background(), ch))
}

func TestNewBonder(t *testing.T) {
	b, err := NewBonder(testSecret, "bond-a")
	require.NoError(t, err)
	assert.Equal(t, "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a", b.PublicKey())

	_, err = NewBonder(testSecret, "")
	assert.Error(t, err)
	_, err = NewBonder("1234", "bond-a")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.EndorseDepth = cfg.ProposeDepth - 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backoff.RelevantBits = 40
	assert.Error(t, cfg.Validate())

	_, err := New(cfg, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestCheckBond(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.relay.CheckBond(context.Background()))

	env.contract.on("checkBond", pactman.Local, businessErr("Keyset failure"))
	err := env.relay.CheckBond(context.Background())
	assert.ErrorContains(t, err, "bond-a")
	assert.True(t, pactman.IsBusiness(err, "Keyset failure"))
}

func TestProposerFilters(t *testing.T) {
	env := newTestEnv(t)

	runProposer(t, env,
		lockup(10, false),
		lockup(20, true), // retracted by a reorg
		lockup(9, false),
		lockup(10, false), // second transfer in the same block
		lockup(15, false),
		lockup(20, true),
		lockup(18, false), // removed events do not raise the low-water mark
	)

	assert.ElementsMatch(t, []uint64{10, 15, 18}, env.confirm.numbers())
	for _, call := range env.confirm.calls {
		assert.Equal(t, uint64(DefaultProposeDepth), call.depth)
	}

	outcomes := env.journal.outcomes(journal.TopicPropose)
	assert.ElementsMatch(t, []journal.Outcome{journal.Submitted, journal.SkippedStale}, outcomes[10])
	assert.Equal(t, []journal.Outcome{journal.SkippedRemoved, journal.SkippedRemoved}, outcomes[20])
	assert.Equal(t, []journal.Outcome{journal.SkippedStale}, outcomes[9])
	assert.Equal(t, []journal.Outcome{journal.Submitted}, outcomes[15])
	assert.Equal(t, []journal.Outcome{journal.Submitted}, outcomes[18])

	assert.Equal(t, []string{"propose/local", "propose/submit"}, env.contract.ops(10))
	assert.Empty(t, env.contract.ops(20))
}

func TestProposeOutcomes(t *testing.T) {
	timeout := &pactman.TimeoutError{RequestKey: "req-1", After: time.Minute}

	cases := []struct {
		name    string
		local   error
		submit  error
		outcome journal.Outcome
		ops     []string
	}{
		{"submitted", nil, nil, journal.Submitted, []string{"propose/local", "propose/submit"}},
		{"existing", businessErr(pactman.MsgAlreadyActiveProposal), nil, journal.SkippedExisting, []string{"propose/local"}},
		{"race lost", nil, businessErr(pactman.MsgAlreadyActiveProposal), journal.RaceLost, []string{"propose/local", "propose/submit"}},
		{"timeout", nil, timeout, journal.Unknown, []string{"propose/local", "propose/submit"}},
		{"local failure", businessErr("Bond not active"), nil, journal.Failed, []string{"propose/local"}},
		{"submit failure", nil, &pactman.TransportError{Op: "send", StatusCode: 502}, journal.Failed, []string{"propose/local", "propose/submit"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.contract.on("propose", pactman.Local, c.local)
			env.contract.on("propose", pactman.Submit, c.submit)

			runProposer(t, env, lockup(7, false))

			assert.Equal(t, []journal.Outcome{c.outcome}, env.journal.outcomes(journal.TopicPropose)[7])
			assert.Equal(t, c.ops, env.contract.ops(7))
		})
	}
}

func TestProposeFailureDoesNotStopTask(t *testing.T) {
	env := newTestEnv(t)
	env.contract.onFunc("propose", pactman.Local, onlyFor(10, errors.New("connection reset")))

	runProposer(t, env, lockup(10, false), lockup(11, false))

	outcomes := env.journal.outcomes(journal.TopicPropose)
	assert.Equal(t, []journal.Outcome{journal.Failed}, outcomes[10])
	assert.Equal(t, []journal.Outcome{journal.Submitted}, outcomes[11])

	env.journal.mu.Lock()
	defer env.journal.mu.Unlock()
	for _, e := range env.journal.entries {
		if e.BlockNumber == 10 {
			assert.Contains(t, e.Message, "connection reset")
		}
	}
}

func TestProposeHeaderMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.confirm.mismatch[12] = common.RandBytes32()

	runProposer(t, env, lockup(12, false))

	assert.Equal(t, []journal.Outcome{journal.Failed}, env.journal.outcomes(journal.TopicPropose)[12])
	assert.Empty(t, env.contract.ops(12))
}

func TestProposeBackoff(t *testing.T) {
	env := newTestEnv(t)
	ev := lockup(12, false)

	runProposer(t, env, ev)

	want := Delay(env.relay.bonder.KeyPair.PublicKeyBytes(), ev.BlockHash, env.relay.cfg.Backoff, func() float64 { return 0.5 })
	assert.Equal(t, []time.Duration{want}, env.sleeper.delays)
}

func TestProposedProposal(t *testing.T) {
	env := newTestEnv(t)
	ev := lockup(12, false)

	var got *agreement.Proposal
	env.contract.onFunc("propose", pactman.Submit, func(p *agreement.Proposal) error {
		got = p
		return nil
	})
	runProposer(t, env, ev)

	require.NotNil(t, got)
	assert.Equal(t, ev.BlockHash, got.Hash)
	assert.Equal(t, uint64(12), got.Number)
}

func TestProposerCancel(t *testing.T) {
	env := newTestEnv(t)
	env.confirm.wait = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *agreement.LockupEvent, 1)
	ch <- lockup(10, false)

	done := make(chan error, 1)
	go func() { done <- env.relay.RunProposer(ctx, ch) }()

	require.Eventually(t, func() bool { return len(env.confirm.numbers()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, env.journal.len())
}

func proposeEvent(number uint64, hash ethcommon.Hash, bonders ...string) *pactman.Event {
	b, _ := json.Marshal(bonders)
	return &pactman.Event{
		Name:       pactman.ProposeEventName,
		Module:     pactman.ModuleRef{Name: "relay"},
		RequestKey: fmt.Sprintf("req-%d", number),
		Params: []json.RawMessage{
			json.RawMessage(fmt.Sprintf(`{"int":%d}`, number)),
			json.RawMessage(`"` + hash.Hex() + `"`),
			json.RawMessage(`"proposer"`),
			b,
		},
	}
}

func waitEntries(t *testing.T, j *memJournal, n int) {
	require.Eventually(t, func() bool { return j.len() >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestEndorser(t *testing.T) {
	env := newTestEnv(t)

	malformed := proposeEvent(104, common.RandBytes32(), "bond-a")
	malformed.Params = malformed.Params[:2]
	env.events.recent = []*pactman.Event{
		proposeEvent(100, common.RandBytes32(), "bond-a", "bond-c"),
		proposeEvent(101, common.RandBytes32(), "bond-b"),
		{Name: "TRANSFER", Module: pactman.ModuleRef{Name: "coin"}},
		malformed,
	}
	env.contract.onFunc("validate", pactman.Local, func(p *agreement.Proposal) error {
		if p.Number == 100 {
			return nil
		}
		return businessErr(pactman.MsgNotAccepted)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.relay.RunEndorser(ctx) }()

	waitEntries(t, env.journal, 1)
	env.events.live <- proposeEvent(103, common.RandBytes32(), "bond-b")
	env.events.live <- proposeEvent(102, common.RandBytes32(), "bond-a")
	waitEntries(t, env.journal, 2)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	outcomes := env.journal.outcomes(journal.TopicEndorse)
	assert.Equal(t, map[uint64][]journal.Outcome{
		100: {journal.AlreadyValidated},
		102: {journal.Submitted},
	}, outcomes)

	assert.Equal(t, []string{"validate/local"}, env.contract.ops(100))
	assert.Equal(t, []string{"validate/local", "endorse/local", "endorse/submit"}, env.contract.ops(102))
	assert.Empty(t, env.contract.ops(101))
	assert.Empty(t, env.contract.ops(103))

	for _, call := range env.confirm.calls {
		assert.Equal(t, uint64(20), call.depth)
	}
}

func TestEndorserRecentFails(t *testing.T) {
	env := newTestEnv(t)
	env.events.recentErr = errors.New("cut unavailable")
	env.contract.on("validate", pactman.Local, businessErr(pactman.MsgNotAccepted))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.relay.RunEndorser(ctx) }()

	env.events.live <- proposeEvent(5, common.RandBytes32(), "bond-a")
	waitEntries(t, env.journal, 1)
	assert.Equal(t, []journal.Outcome{journal.Submitted}, env.journal.outcomes(journal.TopicEndorse)[5])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEndorseOutcomes(t *testing.T) {
	notAccepted := businessErr(pactman.MsgNotAccepted)
	dup := businessErr(pactman.MsgDuplicateEndorse)

	cases := []struct {
		name     string
		validate error
		local    error
		submit   error
		outcome  journal.Outcome
		ops      []string
	}{
		{"validated", nil, nil, nil, journal.AlreadyValidated, []string{"validate/local"}},
		{"submitted", notAccepted, nil, nil, journal.Submitted, []string{"validate/local", "endorse/local", "endorse/submit"}},
		{"existing", notAccepted, dup, nil, journal.SkippedExisting, []string{"validate/local", "endorse/local"}},
		{"race lost", notAccepted, nil, dup, journal.RaceLost, []string{"validate/local", "endorse/local", "endorse/submit"}},
		{"timeout", notAccepted, nil, &pactman.TimeoutError{RequestKey: "k"}, journal.Unknown, []string{"validate/local", "endorse/local", "endorse/submit"}},
		{"validate failure", businessErr("Unknown header"), nil, nil, journal.Failed, []string{"validate/local"}},
		{"local failure", notAccepted, &pactman.TransportError{Op: "local"}, nil, journal.Failed, []string{"validate/local", "endorse/local"}},
		{"submit failure", notAccepted, nil, businessErr("Bond not active"), journal.Failed, []string{"validate/local", "endorse/local", "endorse/submit"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.contract.on("validate", pactman.Local, c.validate)
			env.contract.on("endorse", pactman.Local, c.local)
			env.contract.on("endorse", pactman.Submit, c.submit)

			pe := &agreement.ProposeEvent{BlockNumber: 42, BlockHash: common.RandBytes32(), Bonders: []string{"bond-a"}}
			env.relay.endorseFunc(context.Background(), newPool(1), pe)()

			assert.Equal(t, []journal.Outcome{c.outcome}, env.journal.outcomes(journal.TopicEndorse)[42])
			assert.Equal(t, c.ops, env.contract.ops(42))
		})
	}
}

func TestEndorseDeduplicatesInFlight(t *testing.T) {
	env := newTestEnv(t)
	env.confirm.wait = make(chan struct{})
	env.contract.on("validate", pactman.Local, nil)

	pe := &agreement.ProposeEvent{BlockNumber: 42, BlockHash: common.RandBytes32(), Bonders: []string{"bond-a"}}
	first := make(chan struct{})
	go func() {
		env.relay.endorseFunc(context.Background(), newPool(1), pe)()
		close(first)
	}()
	require.Eventually(t, func() bool { return len(env.confirm.numbers()) == 1 }, time.Second, 5*time.Millisecond)

	// a second delivery of the same proposal returns at once
	env.relay.endorseFunc(context.Background(), newPool(1), pe)()
	assert.Len(t, env.confirm.numbers(), 1)

	close(env.confirm.wait)
	<-first
	assert.Equal(t, []journal.Outcome{journal.AlreadyValidated}, env.journal.outcomes(journal.TopicEndorse)[42])
}

func TestProposerConfirmsBeyondWorkers(t *testing.T) {
	env := newTestEnv(t)
	env.relay.cfg.Workers = 2
	env.confirm.wait = make(chan struct{})

	var calls inFlight
	env.contract.onFunc("propose", pactman.Submit, func(*agreement.Proposal) error {
		calls.enter()
		defer calls.leave()
		time.Sleep(time.Millisecond)
		return nil
	})

	const n = 20
	ch := make(chan *agreement.LockupEvent, n)
	for i := uint64(1); i <= n; i++ {
		ch <- lockup(i, false)
	}
	done := make(chan error, 1)
	go func() { done <- env.relay.RunProposer(context.Background(), ch) }()

	// every lockup waits for its confirmation while no slot is taken
	require.Eventually(t, func() bool { return len(env.confirm.numbers()) == n }, 2*time.Second, 5*time.Millisecond)

	close(env.confirm.wait)
	close(ch)
	require.NoError(t, <-done)

	outcomes := env.journal.outcomes(journal.TopicPropose)
	for i := uint64(1); i <= n; i++ {
		assert.Equal(t, []journal.Outcome{journal.Submitted}, outcomes[i])
	}
	assert.LessOrEqual(t, calls.peak(), 2)
}

func TestEndorserConfirmsBeyondWorkers(t *testing.T) {
	env := newTestEnv(t)
	env.relay.cfg.Workers = 2
	env.confirm.wait = make(chan struct{})
	env.contract.on("validate", pactman.Local, businessErr(pactman.MsgNotAccepted))

	const n = 6
	for i := uint64(1); i <= n; i++ {
		env.events.recent = append(env.events.recent, proposeEvent(100+i, common.RandBytes32(), "bond-a"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.relay.RunEndorser(ctx) }()

	require.Eventually(t, func() bool { return len(env.confirm.numbers()) == n }, 2*time.Second, 5*time.Millisecond)

	// the stream keeps being served while confirmations are pending
	env.events.live <- proposeEvent(200, common.RandBytes32(), "bond-a")
	require.Eventually(t, func() bool { return len(env.confirm.numbers()) == n+1 }, 2*time.Second, 5*time.Millisecond)

	close(env.confirm.wait)
	waitEntries(t, env.journal, n+1)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	outcomes := env.journal.outcomes(journal.TopicEndorse)
	assert.Len(t, outcomes, n+1)
	assert.Equal(t, []journal.Outcome{journal.Submitted}, outcomes[200])
}

func TestRecordGivesUpOnStuckJournal(t *testing.T) {
	env := newTestEnv(t)
	env.relay.journal = stuckJournal{}
	env.relay.recordTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := env.relay.newDecision(journal.TopicPropose, 7, common.RandBytes32())
	returned := make(chan struct{})
	go func() {
		env.relay.record(ctx, d, journal.Submitted, "")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("record did not give up on a stuck journal")
	}
}
