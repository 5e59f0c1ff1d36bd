package etherman

import (
	"context"
	"errors"
	"math/big"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	logger "github.com/sirupsen/logrus"
)

type ethereumClient interface {
	ethereum.BlockNumberReader
	ethereum.ChainIDReader
	ethereum.ChainReader
	ethereum.LogFilterer
}

// Etherman is the relay's view of the source chain.
type Etherman struct {
	ethClient     ethereumClient
	tokenAddress  ethcommon.Address
	lockupAccount ethcommon.Address
	closeFn       func()
}

func NewEtherman(cfg *Config) (*Etherman, error) {
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	etherman := NewEthermanWithClient(ethClient, cfg)
	etherman.closeFn = ethClient.Close
	return etherman, nil
}

// NewEthermanWithClient wraps an already connected client, e.g. the client of
// a simulated backend.
func NewEthermanWithClient(client ethereumClient, cfg *Config) *Etherman {
	return &Etherman{
		ethClient:     client,
		tokenAddress:  cfg.TokenContractAddress,
		lockupAccount: cfg.LockupAccount,
	}
}

func (etherman *Etherman) Client() ethereumClient {
	return etherman.ethClient
}

func (etherman *Etherman) Close() {
	if etherman.closeFn != nil {
		etherman.closeFn()
	}
}

func (etherman *Etherman) ChainID(ctx context.Context) (*big.Int, error) {
	return etherman.ethClient.ChainID(ctx)
}

func (etherman *Etherman) BlockNumber(ctx context.Context) (uint64, error) {
	return etherman.ethClient.BlockNumber(ctx)
}

// HeaderByNumber fetches the header at number. It fails when the header does
// not exist or the node answers with a header of another height.
func (etherman *Etherman) HeaderByNumber(ctx context.Context, number uint64) (*agreement.BlockHeader, error) {
	hdr, err := etherman.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if errors.Is(err, ethereum.NotFound) || (err == nil && hdr == nil) {
		return nil, &HeaderError{Msg: "header does not exist", Number: &number}
	}
	if err != nil {
		return nil, err
	}

	h := toBlockHeader(hdr)
	if h.Number != number {
		return nil, &HeaderError{
			Msg:          "got header with wrong number",
			Number:       &number,
			ActualNumber: h.Number,
			ActualHash:   h.Hash,
		}
	}
	return h, nil
}

// HeaderByHash fetches the header with the given hash. It fails when the
// header does not exist or the node answers with a different hash.
func (etherman *Etherman) HeaderByHash(ctx context.Context, hash ethcommon.Hash) (*agreement.BlockHeader, error) {
	hdr, err := etherman.ethClient.HeaderByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) || (err == nil && hdr == nil) {
		return nil, &HeaderError{Msg: "header does not exist", Hash: &hash}
	}
	if err != nil {
		return nil, err
	}

	h := toBlockHeader(hdr)
	if h.Hash != hash {
		return nil, &HeaderError{
			Msg:          "got header with wrong hash",
			Hash:         &hash,
			ActualNumber: h.Number,
			ActualHash:   h.Hash,
		}
	}
	return h, nil
}

// SubscribeHeaders streams new chain heads into ch until the subscription is
// unsubscribed or fails.
func (etherman *Etherman) SubscribeHeaders(ctx context.Context, ch chan<- *agreement.BlockHeader) (ethereum.Subscription, error) {
	heads := make(chan *types.Header, 16)
	sub, err := etherman.ethClient.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				return err
			case hdr := <-heads:
				if hdr == nil || hdr.Number == nil {
					continue
				}
				select {
				case ch <- toBlockHeader(hdr):
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (etherman *Etherman) lockupQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []ethcommon.Address{etherman.tokenAddress},
		Topics: [][]ethcommon.Hash{
			{TransferSignatureHash},
			nil,
			{ethcommon.BytesToHash(etherman.lockupAccount.Bytes())},
		},
	}
}

// SubscribeLockupEvents streams Transfer events into the lockup account.
// Logs retracted by a reorg are delivered again with Removed set.
func (etherman *Etherman) SubscribeLockupEvents(ctx context.Context, ch chan<- *agreement.LockupEvent) (ethereum.Subscription, error) {
	logs := make(chan types.Log, 16)
	sub, err := etherman.ethClient.SubscribeFilterLogs(ctx, etherman.lockupQuery(), logs)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				return err
			case vlog := <-logs:
				ev, err := ParseTransferLog(vlog)
				if err != nil {
					logger.WithFields(logger.Fields{
						"txHash": vlog.TxHash.Hex(),
						"error":  err,
					}).Warn("skip undecodable log")
					continue
				}
				select {
				case ch <- ev:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

// GetLockupEvents returns the lockup transfers in [from, to].
func (etherman *Etherman) GetLockupEvents(ctx context.Context, from, to uint64) ([]*agreement.LockupEvent, error) {
	q := etherman.lockupQuery()
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)

	logs, err := etherman.ethClient.FilterLogs(ctx, q)
	if err != nil {
		return nil, err
	}

	evs := make([]*agreement.LockupEvent, 0, len(logs))
	for _, vlog := range logs {
		ev, err := ParseTransferLog(vlog)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// ParseTransferLog decodes an ERC-20 Transfer log.
func ParseTransferLog(vlog types.Log) (*agreement.LockupEvent, error) {
	if len(vlog.Topics) != 3 || vlog.Topics[0] != TransferSignatureHash {
		return nil, ErrNotTransferLog
	}

	values, err := transferABI.Unpack("Transfer", vlog.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, ErrNotTransferLog
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, ErrNotTransferLog
	}

	return &agreement.LockupEvent{
		BlockNumber: vlog.BlockNumber,
		BlockHash:   vlog.BlockHash,
		TxHash:      vlog.TxHash,
		From:        ethcommon.BytesToAddress(vlog.Topics[1].Bytes()),
		To:          ethcommon.BytesToAddress(vlog.Topics[2].Bytes()),
		Value:       value.String(),
		Removed:     vlog.Removed,
	}, nil
}

func toBlockHeader(hdr *types.Header) *agreement.BlockHeader {
	return &agreement.BlockHeader{
		Number:       hdr.Number.Uint64(),
		Hash:         hdr.Hash(),
		ReceiptsRoot: hdr.ReceiptHash,
		ParentHash:   hdr.ParentHash,
	}
}
