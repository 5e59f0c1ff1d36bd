// Relay server = source chain components + destination chain components +
// decision journal + http reporter.
// All components are configured via environment variables or a config file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/confirmation"
	"github.com/TEENet-io/bonder-relay/etherman"
	"github.com/TEENet-io/bonder-relay/journal"
	"github.com/TEENet-io/bonder-relay/pactman"
	"github.com/TEENet-io/bonder-relay/relay"
	"github.com/TEENet-io/bonder-relay/relaydb"
	"github.com/TEENet-io/bonder-relay/reporter"
)

// Buffer between the lockup log subscription and the propose task.
const CHANNEL_BUFFER_SIZE = 64

type RelayServerConfig struct {
	// source chain side, EthUrl must be a websocket url
	EthUrl           string
	EthTokenContract ethcommon.Address
	EthLockupAccount ethcommon.Address
	EthRecentRate    time.Duration
	EthCatchUpBlocks uint64

	// destination chain side
	Pact       *pactman.Config
	BondName   string
	BonderPriv string

	// relay tasks
	Relay *relay.Config

	// journal side, no brokers disables the kafka journal
	DbFilePath   string
	KafkaBrokers []string
	KafkaTopic   string

	// Http side, empty port disables the reporter
	HttpIp   string
	HttpPort string
}

// RelayServer holds the objects that make up the relay server.
type RelayServer struct {
	MyEtherman *etherman.Etherman
	MyEngine   *confirmation.Engine
	MyPact     *pactman.Relay
	MyEvents   *pactman.EventIndex
	MyRelayDb  *relaydb.SQLiteRelayDB
	MyKafka    *journal.Kafka
	MyRelay    *relay.Relay
	MyReporter *reporter.HttpReporter

	catchUp uint64
}

// NewRelayServer creates the components of the relay server. Nothing runs
// until Run is called.
func NewRelayServer(rsc *RelayServerConfig) (*RelayServer, error) {
	if err := rsc.Pact.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pact config: %w", err)
	}

	bonder, err := relay.NewBonder(rsc.BonderPriv, rsc.BondName)
	if err != nil {
		return nil, fmt.Errorf("failed to load bonder key: %w", err)
	}

	// destination chain
	client, err := pactman.NewClient(rsc.Pact.PactURL())
	if err != nil {
		return nil, err
	}
	myPact := pactman.NewRelay(rsc.Pact, pactman.NewCaller(client, rsc.Pact))
	myEvents := pactman.NewEventIndex(rsc.Pact, nil)

	// journal
	myRelayDb, err := relaydb.NewSQLiteRelayDB(rsc.DbFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay db: %w", err)
	}
	journals := journal.Multi{journal.Logger{}, myRelayDb}

	var myKafka *journal.Kafka
	if len(rsc.KafkaBrokers) > 0 {
		myKafka, err = journal.NewKafka(&journal.KafkaConfig{
			Brokers: rsc.KafkaBrokers,
			Topic:   rsc.KafkaTopic,
		})
		if err != nil {
			myRelayDb.Close()
			return nil, fmt.Errorf("failed to create kafka journal: %w", err)
		}
		journals = append(journals, myKafka)
	}

	// source chain
	myEtherman, err := etherman.NewEtherman(&etherman.Config{
		URL:                  rsc.EthUrl,
		TokenContractAddress: rsc.EthTokenContract,
		LockupAccount:        rsc.EthLockupAccount,
	})
	if err != nil {
		myRelayDb.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", rsc.EthUrl, err)
	}
	myEngine := confirmation.New(myEtherman, &confirmation.Config{Rate: rsc.EthRecentRate})

	myRelay, err := relay.New(rsc.Relay, bonder, myEngine, myPact, myEvents, journals)
	if err != nil {
		myEngine.Close()
		myEtherman.Close()
		myRelayDb.Close()
		return nil, err
	}

	s := &RelayServer{
		MyEtherman: myEtherman,
		MyEngine:   myEngine,
		MyPact:     myPact,
		MyEvents:   myEvents,
		MyRelayDb:  myRelayDb,
		MyKafka:    myKafka,
		MyRelay:    myRelay,
		catchUp:    rsc.EthCatchUpBlocks,
	}

	if rsc.HttpPort != "" {
		s.MyReporter = reporter.NewHttpReporter(rsc.HttpIp, rsc.HttpPort, s.status(rsc), myRelayDb)
	}
	return s, nil
}

func (s *RelayServer) status(rsc *RelayServerConfig) reporter.StatusFunc {
	return func() *reporter.Status {
		return &reporter.Status{
			PublicKey:    s.MyRelay.Bonder().PublicKey(),
			Bond:         s.MyRelay.Bonder().Name,
			SourceHeight: s.MyEngine.Last(),
			ProposeDepth: rsc.Relay.ProposeDepth,
			EndorseDepth: rsc.Relay.EndorseDepth,
		}
	}
}

// Run checks the bond and then runs the propose and endorse tasks and the
// reporter until ctx is done or one of them fails.
func (s *RelayServer) Run(ctx context.Context) error {
	if err := s.MyRelay.CheckBond(ctx); err != nil {
		logger.Error("Check your key or the bond name")
		return err
	}

	live := make(chan *agreement.LockupEvent, CHANNEL_BUFFER_SIZE)
	sub, err := s.MyEtherman.SubscribeLockupEvents(ctx, live)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lockup events: %w", err)
	}
	defer sub.Unsubscribe()

	lockups := make(chan *agreement.LockupEvent)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feedLockups(ctx, s.MyEtherman, s.catchUp, live, lockups)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return fmt.Errorf("lockup event subscription failed: %w", err)
		}
	})
	g.Go(func() error {
		return s.MyRelay.RunProposer(ctx, lockups)
	})
	g.Go(func() error {
		return s.MyRelay.RunEndorser(ctx)
	})
	if s.MyReporter != nil {
		g.Go(func() error {
			return s.MyReporter.Run(ctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type lockupSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLockupEvents(ctx context.Context, from, to uint64) ([]*agreement.LockupEvent, error)
}

// feedLockups sends the lockup events of the last catchUp blocks to out and
// then forwards the live ones. Live events that repeat replayed ones are
// dropped as stale by the proposer.
func feedLockups(
	ctx context.Context,
	src lockupSource,
	catchUp uint64,
	live <-chan *agreement.LockupEvent,
	out chan<- *agreement.LockupEvent,
) error {
	send := func(ev *agreement.LockupEvent) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if catchUp > 0 {
		head, err := src.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		from := uint64(0)
		if head >= catchUp {
			from = head - catchUp + 1
		}
		past, err := src.GetLockupEvents(ctx, from, head)
		if err != nil {
			return fmt.Errorf("failed to get past lockup events: %w", err)
		}
		logger.WithFields(logger.Fields{
			"from":  from,
			"to":    head,
			"count": len(past),
		}).Info("replaying past lockup events")
		for _, ev := range past {
			if err := send(ev); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-live:
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}

func (s *RelayServer) Close() {
	s.MyEngine.Close()
	s.MyEtherman.Close()
	if s.MyKafka != nil {
		if err := s.MyKafka.Close(); err != nil {
			logger.Errorf("failed to close kafka journal: err=%v", err)
		}
	}
	if err := s.MyRelayDb.Close(); err != nil {
		logger.Errorf("failed to close relay db: err=%v", err)
	}
}

// PrintAppInfo logs the settings an operator needs to identify the relay.
func PrintAppInfo(rsc *RelayServerConfig, bonderPub string) {
	logger.WithFields(logger.Fields{
		"ethUrl":        rsc.EthUrl,
		"tokenContract": rsc.EthTokenContract.Hex(),
		"lockupAccount": rsc.EthLockupAccount.Hex(),
		"pactUrl":       rsc.Pact.PactURL(),
		"network":       rsc.Pact.NetworkID,
		"chainId":       rsc.Pact.ChainID,
		"module":        rsc.Pact.Module,
		"bond":          rsc.BondName,
		"publicKey":     bonderPub,
	}).Info("Bonder relay")
}

// Create, then start the relay server and wait.
// Press Ctrl-C to kill the server.
func StartRelayServerAndWait(rsc *RelayServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	s, err := NewRelayServer(rsc)
	if err != nil {
		logger.Fatalf("failed to create relay server: %v", err)
		return
	}

	PrintAppInfo(rsc, s.MyRelay.Bonder().PublicKey())

	err = s.Run(ctx)
	s.Close()
	if err != nil {
		logger.Fatalf("relay server stopped: %v", err)
	}
	logger.Info("relay server stopped")
}
