package pactman

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TEENet-io/bonder-relay/agreement"
)

// Relay is the client of the relay and pool contracts.
type Relay struct {
	cfg     *Config
	builder *CommandBuilder
	caller  *Caller
}

func NewRelay(cfg *Config, caller *Caller) *Relay {
	return &Relay{
		cfg:     cfg,
		builder: NewCommandBuilder(cfg),
		caller:  caller,
	}
}

func (r *Relay) Caller() *Caller {
	return r.caller
}

func headerData(p *agreement.Proposal) map[string]any {
	return map[string]any{
		"hash":          p.Hash.Hex(),
		"number":        Int{Int: p.Number},
		"receipts-root": p.ReceiptsRoot.Hex(),
	}
}

func (r *Relay) run(ctx context.Context, ex *Exec, mode Mode) (json.RawMessage, error) {
	cmd, err := r.builder.Build(ex)
	if err != nil {
		return nil, err
	}
	return r.caller.Call(ctx, cmd, mode)
}

func (r *Relay) bonderExec(kp *KeyPair, bond string, gasLimit uint64) *Exec {
	return &Exec{
		KeyPair:  kp,
		Sender:   RelayGasStationAccount,
		GasLimit: gasLimit,
		Caps: []Cap{
			GasPayerCap(r.cfg.RelayGasStation),
			BonderCap(r.cfg.Module, bond),
		},
	}
}

// Propose proposes a header to the relay. A business failure with
// MsgAlreadyActiveProposal means the header is already proposed.
func (r *Relay) Propose(ctx context.Context, kp *KeyPair, bond string, p *agreement.Proposal, mode Mode) (json.RawMessage, error) {
	ex := r.bonderExec(kp, bond, r.cfg.ProposeGasLimit)
	ex.Code = fmt.Sprintf("(%s.propose (read-msg 'header) (read-msg 'bond))", r.cfg.Module)
	ex.Data = map[string]any{
		"header": headerData(p),
		"bond":   bond,
	}
	return r.run(ctx, ex, mode)
}

// Endorse endorses a proposed header. A business failure with
// MsgDuplicateEndorse means the bond already endorsed it.
func (r *Relay) Endorse(ctx context.Context, kp *KeyPair, bond string, p *agreement.Proposal, mode Mode) (json.RawMessage, error) {
	ex := r.bonderExec(kp, bond, r.cfg.EndorseGasLimit)
	ex.Code = fmt.Sprintf("(%s.endorse (read-msg 'header) (read-msg 'bond))", r.cfg.Module)
	ex.Data = map[string]any{
		"header": headerData(p),
		"bond":   bond,
	}
	return r.run(ctx, ex, mode)
}

// Validate succeeds if the header has been accepted. It fails with
// MsgNotAccepted otherwise.
func (r *Relay) Validate(ctx context.Context, kp *KeyPair, p *agreement.Proposal) (json.RawMessage, error) {
	return r.run(ctx, &Exec{
		KeyPair: kp,
		Sender:  RelayGasStationAccount,
		Code:    fmt.Sprintf("(%s.validate (read-msg 'header))", r.cfg.Module),
		Data:    map[string]any{"header": headerData(p)},
	}, Local)
}

// CheckBond checks that kp satisfies the guard of the active bond.
func (r *Relay) CheckBond(ctx context.Context, kp *KeyPair, bond string) (json.RawMessage, error) {
	return r.run(ctx, &Exec{
		KeyPair: kp,
		Sender:  RelayGasStationAccount,
		Code:    fmt.Sprintf("(enforce-guard (at 'guard (%s.get-active-bond (read-msg 'bond))))", r.cfg.PoolModule),
		Data:    map[string]any{"bond": bond},
	}, Local)
}

func (r *Relay) RenewBond(ctx context.Context, kp *KeyPair, bond string, mode Mode) (json.RawMessage, error) {
	return r.run(ctx, &Exec{
		KeyPair: kp,
		Sender:  RelayGasStationAccount,
		Caps: []Cap{
			GasPayerCap(r.cfg.RelayGasStation),
			BonderCap(r.cfg.PoolModule, bond),
		},
		Code: fmt.Sprintf("(%s.renew (read-msg 'bond))", r.cfg.PoolModule),
		Data: map[string]any{"bond": bond},
	}, mode)
}

// NewBond funds a new bond from account. The amount is fixed by the pool and
// passed so that the transfer is explicitly acknowledged. The result data is
// the name of the bond.
func (r *Relay) NewBond(ctx context.Context, kp *KeyPair, account string, amount float64, mode Mode) (json.RawMessage, error) {
	return r.run(ctx, &Exec{
		KeyPair: kp,
		Sender:  RelayGasStationAccount,
		Caps: []Cap{
			GasPayerCap(r.cfg.RelayGasStation),
			TransferCap(account, RelayBank, amount),
		},
		Code: fmt.Sprintf("(%s.new-bond %s.POOL (read-msg 'account) (read-keyset 'ks))", r.cfg.PoolModule, r.cfg.Module),
		Data: map[string]any{
			"account": account,
			"ks": map[string]any{
				"pred": "keys-any",
				"keys": []string{kp.PublicKey()},
			},
		},
	}, mode)
}

// GetPool returns the state of the relay pool.
func (r *Relay) GetPool(ctx context.Context) (json.RawMessage, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return r.run(ctx, &Exec{
		KeyPair: kp,
		Code:    fmt.Sprintf("(%s.get-pool %s.POOL)", r.cfg.PoolModule, r.cfg.Module),
	}, Local)
}
