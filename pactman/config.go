package pactman

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultNetworkID         = "testnet04"
	DefaultChainID           = "1"
	DefaultModule            = "relay.relay"
	DefaultPoolModule        = "relay.pool"
	DefaultRelayGasStation   = "relay.gas-station"
	DefaultTTL               = 1200
	DefaultGasPrice          = 1e-12
	DefaultGasLimit          = 4000
	DefaultProposeGasLimit   = 10000
	DefaultEndorseGasLimit   = 700
	DefaultRetries           = 4
	DefaultRetryDelay        = time.Second
	DefaultPollInterval      = 5 * time.Second
	DefaultPollTimeout       = 300 * time.Second
	DefaultRecentBlocks      = 30
	DefaultConfirmationDepth = 2

	// gas payer account of the relay gas station
	RelayGasStationAccount = "relay-free-gas"
	RelayBank              = "relay-bank"

	// creation time is set back so that nodes with a lagging clock accept
	// the command
	creationTimeOffset = 180 * time.Second
)

type Config struct {
	// Chainweb node, e.g. https://api.testnet.chainweb.com
	Server string

	NetworkID string
	ChainID   string

	// Pact API endpoint. Derived from Server, NetworkID and ChainID if
	// empty.
	URL string

	Module          string
	PoolModule      string
	RelayGasStation string

	TTL             uint64
	GasPrice        float64
	GasLimit        uint64
	ProposeGasLimit uint64
	EndorseGasLimit uint64

	// Number of retries of a transport call and the delay before the first
	// retry. The delay doubles with every retry.
	Retries    int
	RetryDelay time.Duration

	PollInterval time.Duration
	PollTimeout  time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		NetworkID:       DefaultNetworkID,
		ChainID:         DefaultChainID,
		Module:          DefaultModule,
		PoolModule:      DefaultPoolModule,
		RelayGasStation: DefaultRelayGasStation,
		TTL:             DefaultTTL,
		GasPrice:        DefaultGasPrice,
		GasLimit:        DefaultGasLimit,
		ProposeGasLimit: DefaultProposeGasLimit,
		EndorseGasLimit: DefaultEndorseGasLimit,
		Retries:         DefaultRetries,
		RetryDelay:      DefaultRetryDelay,
		PollInterval:    DefaultPollInterval,
		PollTimeout:     DefaultPollTimeout,
	}
}

// ServerURL returns the node base url with a scheme.
func (cfg *Config) ServerURL() string {
	s := strings.TrimSuffix(cfg.Server, "/")
	if s == "" || strings.Contains(s, "://") {
		return s
	}
	return "https://" + s
}

// PactURL returns the Pact API base of the configured chain.
func (cfg *Config) PactURL() string {
	if cfg.URL != "" {
		return strings.TrimSuffix(cfg.URL, "/")
	}
	return fmt.Sprintf("%s/chainweb/0.0/%s/chain/%s/pact", cfg.ServerURL(), cfg.NetworkID, cfg.ChainID)
}

func (cfg *Config) Validate() error {
	if cfg.URL == "" && cfg.Server == "" {
		return errors.New("either the pact url or the chainweb server must be set")
	}
	if cfg.NetworkID == "" {
		return errors.New("network id not set")
	}
	if cfg.ChainID == "" {
		return errors.New("chain id not set")
	}
	if cfg.Module == "" || cfg.PoolModule == "" || cfg.RelayGasStation == "" {
		return errors.New("relay modules not set")
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("invalid number of retries: %d", cfg.Retries)
	}
	if cfg.PollInterval <= 0 || cfg.PollTimeout <= 0 {
		return errors.New("poll interval and timeout must be positive")
	}
	return nil
}
