package relay

import (
	"context"
	"errors"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/journal"
	"github.com/TEENet-io/bonder-relay/pactman"
	logger "github.com/sirupsen/logrus"
)

// RunEndorser endorses the proposals naming this bonder. It first processes
// the PROPOSE events of the recent destination blocks and then follows the
// event stream until ctx is done.
func (r *Relay) RunEndorser(ctx context.Context) error {
	logger.Info("Starting endorse...")
	defer logger.Info("Stopping endorse...")

	workers := newPool(r.cfg.Workers)
	defer workers.Wait()

	recent, err := r.events.Recent(ctx, r.cfg.EventDepth, r.cfg.RecentBlocks)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Errorf("failed to get recent events: err=%v", err)
	}

	own := []*agreement.ProposeEvent{}
	for _, ev := range recent {
		if pe := r.ownProposal(ev); pe != nil {
			own = append(own, pe)
		}
	}
	logger.WithField("count", len(own)).Infof("events to endorse in the last %d blocks", r.cfg.RecentBlocks)
	for _, pe := range own {
		workers.Go(r.endorseFunc(ctx, workers, pe))
	}

	return r.events.Stream(ctx, r.cfg.EventDepth, func(ev *pactman.Event) {
		if pe := r.ownProposal(ev); pe != nil {
			logger.WithField("requestKey", pe.RequestKey).Debug("got PROPOSE event")
			workers.Go(r.endorseFunc(ctx, workers, pe))
		}
	})
}

// ownProposal returns the PROPOSE event if it names this bonder.
func (r *Relay) ownProposal(ev *pactman.Event) *agreement.ProposeEvent {
	if ev.Name != pactman.ProposeEventName {
		return nil
	}
	pe, err := pactman.ParseProposeEvent(ev)
	if err != nil {
		logger.WithField("requestKey", ev.RequestKey).Warnf("invalid PROPOSE event: err=%v", err)
		return nil
	}
	if !pe.Names(r.bonder.Name) {
		return nil
	}
	return pe
}

func (r *Relay) endorseFunc(ctx context.Context, workers *pool, pe *agreement.ProposeEvent) func() {
	return func() {
		// the same proposal may show up in the recent events and the stream
		key := pe.BlockHash
		if _, loaded := r.endorseLock.LoadOrStore(key, struct{}{}); loaded {
			return
		}
		defer r.endorseLock.Delete(key)

		r.endorse(ctx, workers, r.newDecision(journal.TopicEndorse, pe.BlockNumber, pe.BlockHash))
	}
}

func (r *Relay) endorse(ctx context.Context, workers *pool, d *decision) {
	d.logg.Debugf("awaiting confirmation depth %d for proposal", r.cfg.EndorseDepth)
	hdr, err := r.confirm.ConfirmedBlock(ctx, d.number, r.cfg.EndorseDepth, &d.hash)
	if err != nil {
		if ctx.Err() == nil {
			r.fail(ctx, d, "unable to obtain confirmed block", err)
		}
		return
	}

	if err := workers.Acquire(ctx); err != nil {
		return
	}
	d.logg.Info("new endorsement")
	outcome, msg, err := r.submitEndorse(ctx, d, agreement.NewProposal(hdr))
	workers.Release()
	if err != nil {
		if ctx.Err() == nil {
			r.fail(ctx, d, "endorsement failed", err)
		}
		return
	}
	r.record(ctx, d, outcome, msg)
}

func (r *Relay) submitEndorse(ctx context.Context, d *decision, p *agreement.Proposal) (journal.Outcome, string, error) {
	kp, bond := r.bonder.KeyPair, r.bonder.Name

	// check that the proposal hasn't been validated yet
	_, err := r.contract.Validate(ctx, kp, p)
	if err == nil {
		return journal.AlreadyValidated, "skip validated proposal", nil
	}
	if !pactman.IsBusiness(err, pactman.MsgNotAccepted) {
		d.logg.Errorf("validation failed: err=%v", err)
		return "", "", err
	}
	d.logg.Debug("not yet validated")

	// check if the header is already endorsed
	res, err := r.contract.Endorse(ctx, kp, bond, p, pactman.Local)
	if pactman.IsBusiness(err, pactman.MsgDuplicateEndorse) {
		return journal.SkippedExisting, "skip existing endorsement", nil
	}
	if err != nil {
		d.logg.Errorf("local endorse failed: err=%v", err)
		return "", "", err
	}
	d.logg.WithField("result", string(res)).Debug("local succeeded")

	d.logg.WithField("proposal", p.String()).Info("submitting endorsement")
	res, err = r.contract.Endorse(ctx, kp, bond, p, pactman.Submit)
	switch {
	case err == nil:
		d.logg.WithField("result", string(res)).Debug("endorsement succeeded")
		return journal.Submitted, "", nil
	case pactman.IsBusiness(err, pactman.MsgDuplicateEndorse):
		return journal.RaceLost, pactman.MsgDuplicateEndorse, nil
	case pactman.IsTimeout(err):
		var te *pactman.TimeoutError
		errors.As(err, &te)
		return journal.Unknown, "outcome unknown, request " + te.RequestKey, nil
	default:
		return "", "", err
	}
}
