package cmd

import (
	"github.com/spf13/viper"

	"github.com/TEENet-io/bonder-relay/pactman"
	"github.com/TEENet-io/bonder-relay/relay"
)

// SetDefaults registers the defaults of every configuration key. Values
// come from the environment or the config file.
func SetDefaults() {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	viper.SetDefault("ETH_CONFIRMATION_DEPTH", relay.DefaultProposeDepth)
	viper.SetDefault("ETH_RECENT_RATE", "1s")
	viper.SetDefault("ETH_CATCHUP_BLOCKS", 0)

	viper.SetDefault("PACT_NETWORK_ID", pactman.DefaultNetworkID)
	viper.SetDefault("PACT_CHAIN_ID", pactman.DefaultChainID)
	viper.SetDefault("PACT_MODULE", pactman.DefaultModule)
	viper.SetDefault("PACT_POOL_MODULE", pactman.DefaultPoolModule)
	viper.SetDefault("PACT_RELAY_GAS_STATION", pactman.DefaultRelayGasStation)
	viper.SetDefault("PACT_TTL", pactman.DefaultTTL)
	viper.SetDefault("PACT_GAS_PRICE", pactman.DefaultGasPrice)
	viper.SetDefault("PACT_GAS_LIMIT", pactman.DefaultGasLimit)
	viper.SetDefault("PACT_PROPOSE_GAS_LIMIT", pactman.DefaultProposeGasLimit)
	viper.SetDefault("PACT_ENDORSE_GAS_LIMIT", pactman.DefaultEndorseGasLimit)
	viper.SetDefault("PACT_RECENT_BLOCKS", pactman.DefaultRecentBlocks)
	viper.SetDefault("PACT_CONFIRM_DEPTH", pactman.DefaultConfirmationDepth)
	viper.SetDefault("PACT_RETRIES", pactman.DefaultRetries)
	viper.SetDefault("PACT_RETRY_DELAY", pactman.DefaultRetryDelay.String())
	viper.SetDefault("PACT_POLL_INTERVAL", pactman.DefaultPollInterval.String())
	viper.SetDefault("PACT_POLL_TIMEOUT", pactman.DefaultPollTimeout.String())

	viper.SetDefault("BACKOFF_RELEVANT_BITS", relay.DefaultRelevantBits)
	viper.SetDefault("BACKOFF_INCREMENT", relay.DefaultIncrement.String())
	viper.SetDefault("BACKOFF_JITTER", relay.DefaultJitter)

	viper.SetDefault("RELAY_WORKERS", relay.DefaultWorkers)
	viper.SetDefault("DB_FILE_PATH", "relay.db")
}

// PactConfigFromViper reads the destination chain settings.
func PactConfigFromViper() *pactman.Config {
	return &pactman.Config{
		Server:          viper.GetString("PACT_SERVER"),
		NetworkID:       viper.GetString("PACT_NETWORK_ID"),
		ChainID:         viper.GetString("PACT_CHAIN_ID"),
		URL:             viper.GetString("PACT_URL"),
		Module:          viper.GetString("PACT_MODULE"),
		PoolModule:      viper.GetString("PACT_POOL_MODULE"),
		RelayGasStation: viper.GetString("PACT_RELAY_GAS_STATION"),
		TTL:             viper.GetUint64("PACT_TTL"),
		GasPrice:        viper.GetFloat64("PACT_GAS_PRICE"),
		GasLimit:        viper.GetUint64("PACT_GAS_LIMIT"),
		ProposeGasLimit: viper.GetUint64("PACT_PROPOSE_GAS_LIMIT"),
		EndorseGasLimit: viper.GetUint64("PACT_ENDORSE_GAS_LIMIT"),
		Retries:         viper.GetInt("PACT_RETRIES"),
		RetryDelay:      viper.GetDuration("PACT_RETRY_DELAY"),
		PollInterval:    viper.GetDuration("PACT_POLL_INTERVAL"),
		PollTimeout:     viper.GetDuration("PACT_POLL_TIMEOUT"),
	}
}
