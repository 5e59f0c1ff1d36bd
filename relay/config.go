package relay

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultProposeDepth = 15
	DefaultWorkers      = 16

	DefaultRelevantBits = 4
	DefaultIncrement    = 30 * time.Second
	DefaultJitter       = 0.25
)

type Config struct {
	// Confirmation depth on the source chain before a block is proposed
	ProposeDepth uint64

	// Confirmation depth on the source chain before a proposal is
	// endorsed. Must not be lower than ProposeDepth.
	EndorseDepth uint64

	// Depth of PROPOSE events on the destination chain and the number of
	// past blocks searched for them at startup
	EventDepth   uint64
	RecentBlocks uint64

	// Maximum number of events processed concurrently per task
	Workers int64

	Backoff BackoffConfig
}

func DefaultConfig() *Config {
	return &Config{
		ProposeDepth: DefaultProposeDepth,
		EndorseDepth: DefaultProposeDepth,
		EventDepth:   2,
		RecentBlocks: 30,
		Workers:      DefaultWorkers,
		Backoff:      DefaultBackoffConfig(),
	}
}

func (cfg *Config) Validate() error {
	if cfg.EndorseDepth < cfg.ProposeDepth {
		return fmt.Errorf("endorse depth %d lower than propose depth %d", cfg.EndorseDepth, cfg.ProposeDepth)
	}
	if cfg.Workers <= 0 {
		return errors.New("number of workers must be positive")
	}
	return cfg.Backoff.Validate()
}
