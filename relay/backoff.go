package relay

import (
	"encoding/binary"
	"errors"
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BackoffConfig tunes the delay before a bonder proposes a block. Out of
// 2^RelevantBits bonders one proposes at once on average. Each leading bit
// in which the bonder key and the block hash differ before that adds one
// Increment.
type BackoffConfig struct {
	RelevantBits int
	Increment    time.Duration

	// fraction of Increment added at random
	Jitter float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		RelevantBits: DefaultRelevantBits,
		Increment:    DefaultIncrement,
		Jitter:       DefaultJitter,
	}
}

func (cfg BackoffConfig) Validate() error {
	if cfg.RelevantBits < 0 || cfg.RelevantBits > 32 {
		return errors.New("relevant bits must be in [0, 32]")
	}
	if cfg.Increment < 0 {
		return errors.New("negative backoff increment")
	}
	if cfg.Jitter < 0 {
		return errors.New("negative backoff jitter")
	}
	return nil
}

func prefix32(b []byte) uint32 {
	var buf [4]byte
	copy(buf[:], b)
	return binary.BigEndian.Uint32(buf[:])
}

// LeadingZeros counts the leading zero bits of the XOR of the first four
// bytes of pub and blockHash.
func LeadingZeros(pub []byte, blockHash common.Hash) int {
	return bits.LeadingZeros32(prefix32(pub) ^ prefix32(blockHash[:]))
}

// BaseDelay is the deterministic part of Delay. It never increases with the
// leading zero count.
func BaseDelay(pub []byte, blockHash common.Hash, cfg BackoffConfig) time.Duration {
	slots := cfg.RelevantBits - LeadingZeros(pub, blockHash)
	if slots <= 0 {
		return 0
	}
	return time.Duration(slots) * cfg.Increment
}

// Delay returns how long the bonder with public key pub waits before it
// proposes the block. rnd returns a uniform value in [0, 1).
func Delay(pub []byte, blockHash common.Hash, cfg BackoffConfig, rnd func() float64) time.Duration {
	d := BaseDelay(pub, blockHash, cfg)
	if rnd != nil && cfg.Jitter > 0 {
		d += time.Duration(rnd() * cfg.Jitter * float64(cfg.Increment))
	}
	return d
}
