package relay

import (
	"context"
	"errors"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/journal"
	"github.com/TEENet-io/bonder-relay/pactman"
	logger "github.com/sirupsen/logrus"
)

// RunProposer proposes the blocks of the lockup events read from events
// until the channel is closed or ctx is done. Only events above the highest
// block seen so far are acted on. Removed events are ignored and do not
// count as seen.
func (r *Relay) RunProposer(ctx context.Context, events <-chan *agreement.LockupEvent) error {
	logger.Info("Starting propose...")
	defer logger.Info("Stopping propose...")

	workers := newPool(r.cfg.Workers)
	defer workers.Wait()

	var current uint64
	seen := false
	for {
		var ev *agreement.LockupEvent
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok = <-events:
			if !ok {
				return nil
			}
		}

		d := r.newDecision(journal.TopicPropose, ev.BlockNumber, ev.BlockHash)
		if ev.Removed {
			r.record(ctx, d, journal.SkippedRemoved, "skip removed event")
			continue
		}
		if seen && ev.BlockNumber <= current {
			d.logg.WithField("current", current).Debug("skip non-current event")
			r.record(ctx, d, journal.SkippedStale, "skip non-current event")
			continue
		}
		current, seen = ev.BlockNumber, true

		workers.Go(func() { r.propose(ctx, workers, d) })
	}
}

func (r *Relay) propose(ctx context.Context, workers *pool, d *decision) {
	d.logg.Debugf("awaiting confirmation depth %d for lockup event", r.cfg.ProposeDepth)
	hdr, err := r.confirm.ConfirmedBlock(ctx, d.number, r.cfg.ProposeDepth, &d.hash)
	if err != nil {
		if ctx.Err() == nil {
			r.fail(ctx, d, "unable to obtain confirmed block", err)
		}
		return
	}
	p := agreement.NewProposal(hdr)

	delay := Delay(r.bonder.KeyPair.PublicKeyBytes(), d.hash, r.cfg.Backoff, r.rand)
	d.logg.Debugf("waiting %v", delay)
	if err := r.sleep(ctx, delay); err != nil {
		return
	}

	if err := workers.Acquire(ctx); err != nil {
		return
	}
	d.logg.Info("new proposal")
	outcome, msg, err := r.submitPropose(ctx, d, p)
	workers.Release()
	if err != nil {
		if ctx.Err() == nil {
			r.fail(ctx, d, "proposal failed", err)
		}
		return
	}
	r.record(ctx, d, outcome, msg)
}

func (r *Relay) submitPropose(ctx context.Context, d *decision, p *agreement.Proposal) (journal.Outcome, string, error) {
	kp, bond := r.bonder.KeyPair, r.bonder.Name

	// check that the proposal hasn't been submitted yet
	res, err := r.contract.Propose(ctx, kp, bond, p, pactman.Local)
	if pactman.IsBusiness(err, pactman.MsgAlreadyActiveProposal) {
		return journal.SkippedExisting, "skip existing proposal", nil
	}
	if err != nil {
		d.logg.Errorf("local propose failed: err=%v", err)
		return "", "", err
	}
	d.logg.WithField("result", string(res)).Debug("local succeeded")

	d.logg.WithField("proposal", p.String()).Info("submitting proposal")
	res, err = r.contract.Propose(ctx, kp, bond, p, pactman.Submit)
	switch {
	case err == nil:
		d.logg.WithField("result", string(res)).Debug("proposal succeeded")
		return journal.Submitted, "", nil
	case pactman.IsBusiness(err, pactman.MsgAlreadyActiveProposal):
		return journal.RaceLost, pactman.MsgAlreadyActiveProposal, nil
	case pactman.IsTimeout(err):
		var te *pactman.TimeoutError
		errors.As(err, &te)
		return journal.Unknown, "outcome unknown, request " + te.RequestKey, nil
	default:
		return "", "", err
	}
}
