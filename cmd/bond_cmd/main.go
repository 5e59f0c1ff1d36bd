// Operator tool for the bond of a relay bonder.
//
//	bond_cmd [--local] check
//	bond_cmd [--local] renew
//	bond_cmd [--local] new <account> <amount>
//	bond_cmd pool
//
// Settings are read like the relay does, from the environment or the file
// named by RELAY_CONFIG.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TEENet-io/bonder-relay/cmd"
	"github.com/TEENet-io/bonder-relay/logconfig"
	"github.com/TEENet-io/bonder-relay/pactman"
)

const (
	ENV_CONFIG_FILE_PATH = "RELAY_CONFIG"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [--local] check | renew | new <account> <amount> | pool\n", os.Args[0])
	pflag.PrintDefaults()
}

func main() {
	pflag.Bool("local", false, "dry run against the local endpoint, nothing is submitted")
	pflag.Usage = usage
	pflag.Parse()

	viper.AutomaticEnv()
	cmd.SetDefaults()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Printf("Error binding flags: %s\n", err)
		os.Exit(1)
	}

	if _config_file := viper.GetString(ENV_CONFIG_FILE_PATH); _config_file != "" {
		viper.SetConfigFile(_config_file)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Printf("Error reading configuration file, %s\n", err)
			os.Exit(1)
		}
	}
	if err := logconfig.ConfigLogger(viper.GetString("LOG_LEVEL"), viper.GetString("LOG_FORMAT")); err != nil {
		fmt.Printf("Error configuring logger: %s\n", err)
		os.Exit(1)
	}

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := run(ctx, args)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	fmt.Println(string(res))
}

func run(ctx context.Context, args []string) (json.RawMessage, error) {
	cfg := cmd.PactConfigFromViper()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := pactman.NewClient(cfg.PactURL())
	if err != nil {
		return nil, err
	}
	pact := pactman.NewRelay(cfg, pactman.NewCaller(client, cfg))

	mode := pactman.Submit
	if viper.GetBool("local") {
		mode = pactman.Local
	}

	if args[0] == "pool" {
		return pact.GetPool(ctx)
	}

	kp, err := pactman.NewKeyPairFromSecret(viper.GetString("PACT_PRIVATE_KEY"))
	if err != nil {
		return nil, fmt.Errorf("PACT_PRIVATE_KEY: %w", err)
	}
	bond := viper.GetString("BOND_NAME")

	switch args[0] {
	case "check":
		return pact.CheckBond(ctx, kp, bond)
	case "renew":
		return pact.RenewBond(ctx, kp, bond, mode)
	case "new":
		if len(args) != 3 {
			return nil, fmt.Errorf("usage: new <account> <amount>")
		}
		amount, err := strconv.ParseFloat(args[2], 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("invalid amount %q", args[2])
		}
		fmt.Printf("Creating bond for %s with public key %s\n", args[1], kp.PublicKey())
		return pact.NewBond(ctx, kp, args[1], amount, mode)
	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}
