package etherman

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

var (
	simulatedChainID = big.NewInt(1337)
	blockGasLimit    = uint64(999999999999999999)
)

// SimulatedChain is an in-process source chain used by tests. Commit mines a
// block, which is all the relay needs to observe the chain advancing.
type SimulatedChain struct {
	Backend  *simulated.Backend
	Accounts []*bind.TransactOpts
}

func NewSimulatedChain() *SimulatedChain {
	// create accounts
	nAccount := 4
	accounts := make([]*bind.TransactOpts, nAccount)
	for i := 0; i < nAccount; i++ {
		accounts[i] = newAuth()
	}

	// allocate funds to accounts
	genesisAlloc := map[common.Address]types.Account{}
	for _, account := range accounts {
		balance, _ := new(big.Int).SetString("100000000000000000000", 10)
		genesisAlloc[account.From] = types.Account{
			Balance: balance,
		}
	}

	backend := simulated.NewBackend(genesisAlloc, simulated.WithBlockGasLimit(blockGasLimit))

	return &SimulatedChain{
		Backend:  backend,
		Accounts: accounts,
	}
}

// Advance mines n empty blocks.
func (sim *SimulatedChain) Advance(n int) {
	for i := 0; i < n; i++ {
		sim.Backend.Commit()
	}
}

func (sim *SimulatedChain) Close() error {
	return sim.Backend.Close()
}

// NewSimEtherman returns an Etherman on top of a fresh simulated chain.
func NewSimEtherman(cfg *Config) (*SimulatedChain, *Etherman) {
	sim := NewSimulatedChain()
	if cfg == nil {
		cfg = &Config{}
	}
	return sim, NewEthermanWithClient(sim.Backend.Client(), cfg)
}

func newAuth() *bind.TransactOpts {
	sk, _ := crypto.GenerateKey()
	auth, _ := bind.NewKeyedTransactorWithChainID(sk, simulatedChainID)
	return auth
}
