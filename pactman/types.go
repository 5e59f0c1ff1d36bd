package pactman

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Command is a signed command in the format accepted by the Pact API.
type Command struct {
	Hash string `json:"hash"`
	Sigs []Sig  `json:"sigs"`
	Cmd  string `json:"cmd"`
}

type Sig struct {
	Sig string `json:"sig"`
}

// Cap is a capability a signer scopes its signature to.
type Cap struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

type Signer struct {
	PubKey string `json:"pubKey"`
	Clist  []Cap  `json:"clist,omitempty"`
}

type Meta struct {
	CreationTime int64   `json:"creationTime"`
	TTL          uint64  `json:"ttl"`
	GasLimit     uint64  `json:"gasLimit"`
	ChainID      string  `json:"chainId"`
	GasPrice     float64 `json:"gasPrice"`
	Sender       string  `json:"sender"`
}

type ExecPayload struct {
	Data map[string]any `json:"data"`
	Code string         `json:"code"`
}

type Payload struct {
	Exec *ExecPayload `json:"exec"`
}

// CommandBody is the content of Command.Cmd before serialization.
type CommandBody struct {
	NetworkID string   `json:"networkId"`
	Payload   Payload  `json:"payload"`
	Signers   []Signer `json:"signers"`
	Meta      Meta     `json:"meta"`
	Nonce     string   `json:"nonce"`
}

// Int is a Pact integer literal.
type Int struct {
	Int uint64 `json:"int"`
}

type PactError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Info    string `json:"info,omitempty"`
}

type Result struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *PactError      `json:"error,omitempty"`
}

// CommandResult is the outcome of a local call or of a polled transaction.
type CommandResult struct {
	ReqKey string  `json:"reqKey"`
	TxID   *int64  `json:"txId"`
	Result Result  `json:"result"`
	Gas    int64   `json:"gas"`
	Logs   string  `json:"logs,omitempty"`
	Events []Event `json:"events,omitempty"`
}

// Succeeded returns the result data or a BusinessError for a failure
// status.
func (r *CommandResult) Succeeded() (json.RawMessage, error) {
	if r.Result.Status == "success" {
		return r.Result.Data, nil
	}

	be := &BusinessError{RequestKey: r.ReqKey}
	if r.Result.Error != nil {
		be.Message = r.Result.Error.Message
		be.Detail = map[string]any{"type": r.Result.Error.Type, "info": r.Result.Error.Info}
	} else {
		be.Message = fmt.Sprintf("unexpected status %q", r.Result.Status)
	}
	return nil, be
}

type ModuleRef struct {
	Name      string  `json:"name"`
	Namespace *string `json:"namespace"`
}

func (m ModuleRef) String() string {
	if m.Namespace == nil || *m.Namespace == "" {
		return m.Name
	}
	return *m.Namespace + "." + m.Name
}

// Event is a Pact event. Height, BlockHash and RequestKey locate it on the
// destination chain and are filled in by the EventIndex.
type Event struct {
	Name       string            `json:"name"`
	Module     ModuleRef         `json:"module"`
	Params     []json.RawMessage `json:"params"`
	ModuleHash string            `json:"moduleHash"`

	Height     uint64 `json:"-"`
	BlockHash  string `json:"-"`
	RequestKey string `json:"-"`
}

type sendRequest struct {
	Cmds []*Command `json:"cmds"`
}

type sendResponse struct {
	RequestKeys []string `json:"requestKeys"`
}

type pollRequest struct {
	RequestKeys []string `json:"requestKeys"`
}

// parseInt reads a Pact integer that is either a plain number or an
// {"int": n} object.
func parseInt(raw json.RawMessage) (uint64, error) {
	var obj struct {
		Int json.RawMessage `json:"int"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Int != nil {
		raw = obj.Int
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("not an integer: %s", string(raw))
		}
		n = json.Number(s)
	}
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f < 0 || f != float64(uint64(f)) {
			return 0, fmt.Errorf("not an integer: %s", string(raw))
		}
		return uint64(f), nil
	}
	return v, nil
}
