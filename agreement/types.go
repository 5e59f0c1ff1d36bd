// Golbal agreement on the types exchanged between the source chain side,
// the confirmation engine and the relay.

package agreement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// BlockHeader is the part of a source chain header that the relay needs.
// Once obtained it never changes.
type BlockHeader struct {
	Number       uint64
	Hash         common.Hash
	ReceiptsRoot common.Hash
	ParentHash   common.Hash
}

func (h *BlockHeader) String() string {
	return fmt.Sprintf("{number: %d, hash: %s}", h.Number, h.Hash.Hex())
}

// Proposal is the header payload submitted to the relay contract.
type Proposal struct {
	Hash         common.Hash
	Number       uint64
	ReceiptsRoot common.Hash
}

// NewProposal derives a proposal from a header that passed number/hash
// validation.
func NewProposal(h *BlockHeader) *Proposal {
	return &Proposal{
		Hash:         h.Hash,
		Number:       h.Number,
		ReceiptsRoot: h.ReceiptsRoot,
	}
}

func (p *Proposal) String() string {
	return fmt.Sprintf("%+v", *p)
}

// LockupEvent is a token transfer into the lockup account as reported by the
// filtered source chain log stream. Removed is set when a reorg retracts the
// log.
type LockupEvent struct {
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	From        common.Address
	To          common.Address
	Value       string
	Removed     bool
}

func (ev *LockupEvent) String() string {
	return fmt.Sprintf("%+v", *ev)
}

// ProposeEvent is a PROPOSE event emitted by the relay contract on the
// destination chain.
type ProposeEvent struct {
	BlockNumber uint64
	BlockHash   common.Hash
	Bonders     []string

	// where the event was found on the destination chain
	Height     uint64
	RequestKey string
}

// Names reports whether bond is one of the bonders named by the event.
func (ev *ProposeEvent) Names(bond string) bool {
	for _, b := range ev.Bonders {
		if b == bond {
			return true
		}
	}
	return false
}
