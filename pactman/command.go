package pactman

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Exec describes an exec command before it is serialized and signed.
type Exec struct {
	// signing key; nil for unsigned local queries
	KeyPair *KeyPair

	// gas payer, may be empty for local calls
	Sender string

	// zero means Config.GasLimit
	GasLimit uint64

	Caps []Cap
	Code string
	Data map[string]any
}

type CommandBuilder struct {
	cfg *Config
	now func() time.Time
}

func NewCommandBuilder(cfg *Config) *CommandBuilder {
	return &CommandBuilder{cfg: cfg, now: time.Now}
}

// Build serializes, hashes and signs an exec command.
func (b *CommandBuilder) Build(ex *Exec) (*Command, error) {
	if ex.Code == "" {
		return nil, errors.New("empty pact code")
	}

	gasLimit := ex.GasLimit
	if gasLimit == 0 {
		gasLimit = b.cfg.GasLimit
	}

	now := b.now()
	data := ex.Data
	if data == nil {
		data = map[string]any{}
	}
	body := &CommandBody{
		NetworkID: b.cfg.NetworkID,
		Payload:   Payload{Exec: &ExecPayload{Data: data, Code: ex.Code}},
		Signers:   []Signer{},
		Meta: Meta{
			CreationTime: now.Add(-creationTimeOffset).Unix(),
			TTL:          b.cfg.TTL,
			GasLimit:     gasLimit,
			ChainID:      b.cfg.ChainID,
			GasPrice:     b.cfg.GasPrice,
			Sender:       ex.Sender,
		},
		Nonce: now.UTC().Format(time.RFC3339Nano),
	}
	if ex.KeyPair != nil {
		body.Signers = append(body.Signers, Signer{PubKey: ex.KeyPair.PublicKey(), Clist: ex.Caps})
	}

	cmd, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	hash := blake2b.Sum256(cmd)
	out := &Command{
		Hash: base64.RawURLEncoding.EncodeToString(hash[:]),
		Sigs: []Sig{},
		Cmd:  string(cmd),
	}
	if ex.KeyPair != nil {
		out.Sigs = append(out.Sigs, Sig{Sig: ex.KeyPair.Sign(hash[:])})
	}
	return out, nil
}

// VerifyHash checks that the hash of a command matches its content.
func VerifyHash(cmd *Command) bool {
	hash := blake2b.Sum256([]byte(cmd.Cmd))
	return base64.RawURLEncoding.EncodeToString(hash[:]) == cmd.Hash
}

// Capabilities

func GasPayerCap(gasStation string) Cap {
	return Cap{
		Name: gasStation + ".GAS_PAYER",
		Args: []any{"free-gas", Int{Int: 1}, 1.0},
	}
}

func BonderCap(module, bond string) Cap {
	return Cap{Name: module + ".BONDER", Args: []any{bond}}
}

func TransferCap(from, to string, amount float64) Cap {
	return Cap{Name: "coin.TRANSFER", Args: []any{from, to, amount}}
}

func GasCap() Cap {
	return Cap{Name: "coin.GAS", Args: []any{}}
}
