package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/TEENet-io/bonder-relay/cmd"
	"github.com/TEENet-io/bonder-relay/journal"
	"github.com/TEENet-io/bonder-relay/logconfig"
	"github.com/TEENet-io/bonder-relay/relay"
)

const (
	ENV_CONFIG_FILE_PATH = "RELAY_CONFIG"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()
	cmd.SetDefaults()

	// The configuration file is optional, env vars alone are enough.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	if _config_file != "" {
		fmt.Printf("Relay configuration file = %s\n", _config_file)
		if !cmd.FileExists(_config_file) {
			fmt.Printf("Relay configuration file not found: %s\n", _config_file)
			return
		}
		if !initializeViper(_config_file) {
			return
		}
	}

	if err := logconfig.ConfigLogger(viper.GetString("LOG_LEVEL"), viper.GetString("LOG_FORMAT")); err != nil {
		fmt.Printf("Error configuring logger: %s\n", err)
		return
	}

	rsc, err := PrepareRelayServerConfig()
	if err != nil {
		fmt.Printf("Error loading relay configuration: %s\n", err)
		return
	}

	fmt.Println("Starting relay... press Ctrl+C to kill the relay")
	// Start server and block.
	cmd.StartRelayServerAndWait(rsc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s\n", err)
		return false
	}
	return true
}

// PrepareRelayServerConfig reads configuration variables and returns a
// RelayServerConfig.
func PrepareRelayServerConfig() (*cmd.RelayServerConfig, error) {
	ethUrl, err := cmd.EthUrl(
		viper.GetString("ETH_URL"),
		viper.GetString("ETH_NETWORK_ID"),
		viper.GetString("INFURA_API_TOKEN"),
	)
	if err != nil {
		return nil, err
	}

	tokenContract, err := cmd.ParseAddress(viper.GetString("ETH_CONTRACT_ADDR"))
	if err != nil {
		return nil, fmt.Errorf("ETH_CONTRACT_ADDR: %w", err)
	}
	lockupAccount, err := cmd.ParseLockupAccount(viper.GetString("ETH_LOCKUP_PUBLIC_KEY"))
	if err != nil {
		return nil, fmt.Errorf("ETH_LOCKUP_PUBLIC_KEY: %w", err)
	}

	priv := viper.GetString("PACT_PRIVATE_KEY")
	if priv == "" {
		return nil, fmt.Errorf("PACT_PRIVATE_KEY not set")
	}

	pactCfg := cmd.PactConfigFromViper()

	relayCfg := relay.DefaultConfig()
	relayCfg.ProposeDepth = viper.GetUint64("ETH_CONFIRMATION_DEPTH")
	relayCfg.EndorseDepth = relayCfg.ProposeDepth
	if viper.IsSet("ETH_ENDORSE_DEPTH") {
		relayCfg.EndorseDepth = viper.GetUint64("ETH_ENDORSE_DEPTH")
	}
	relayCfg.EventDepth = viper.GetUint64("PACT_CONFIRM_DEPTH")
	relayCfg.RecentBlocks = viper.GetUint64("PACT_RECENT_BLOCKS")
	relayCfg.Workers = viper.GetInt64("RELAY_WORKERS")
	relayCfg.Backoff = relay.BackoffConfig{
		RelevantBits: viper.GetInt("BACKOFF_RELEVANT_BITS"),
		Increment:    viper.GetDuration("BACKOFF_INCREMENT"),
		Jitter:       viper.GetFloat64("BACKOFF_JITTER"),
	}
	if err := relayCfg.Validate(); err != nil {
		return nil, err
	}

	return &cmd.RelayServerConfig{
		// source chain side
		EthUrl:           ethUrl,
		EthTokenContract: tokenContract,
		EthLockupAccount: lockupAccount,
		EthRecentRate:    viper.GetDuration("ETH_RECENT_RATE"),
		EthCatchUpBlocks: viper.GetUint64("ETH_CATCHUP_BLOCKS"),
		// destination chain side
		Pact:       pactCfg,
		BondName:   viper.GetString("BOND_NAME"),
		BonderPriv: priv,
		Relay:      relayCfg,
		// journal side
		DbFilePath:   viper.GetString("DB_FILE_PATH"),
		KafkaBrokers: journal.SplitBrokers(viper.GetString("KAFKA_BROKERS")),
		KafkaTopic:   viper.GetString("KAFKA_TOPIC"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}, nil
}
