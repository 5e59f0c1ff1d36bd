package etherman

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Transfer(address indexed _from, address indexed _to, uint256 _value)
const erc20TransferABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "_from", "type": "address"},
		{"indexed": true, "name": "_to", "type": "address"},
		{"indexed": false, "name": "_value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

var (
	TransferSignatureHash = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	transferABI abi.ABI
)

func init() {
	var err error
	transferABI, err = abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(err)
	}
}

var (
	ErrHeaderNotFound = errors.New("header does not exist")
	ErrNotTransferLog = errors.New("log is not an ERC-20 Transfer")
)

// HeaderError reports a header that could not be used for the requested key:
// it does not exist, or the node answered with a different number or hash.
type HeaderError struct {
	Msg string

	// requested key
	Number *uint64
	Hash   *common.Hash

	// what the node returned, if anything
	ActualNumber uint64
	ActualHash   common.Hash
}

func (e *HeaderError) Error() string {
	key := ""
	if e.Number != nil {
		key += fmt.Sprintf(" number=%d", *e.Number)
	}
	if e.Hash != nil {
		key += fmt.Sprintf(" hash=%s", e.Hash.Hex())
	}
	if e.ActualHash != (common.Hash{}) {
		return fmt.Sprintf("%s:%s, actual number=%d hash=%s", e.Msg, key, e.ActualNumber, e.ActualHash.Hex())
	}
	return fmt.Sprintf("%s:%s", e.Msg, key)
}

func (e *HeaderError) Unwrap() error {
	if e.ActualHash == (common.Hash{}) {
		return ErrHeaderNotFound
	}
	return nil
}
