package etherman

import "github.com/ethereum/go-ethereum/common"

type Config struct {
	// URL is the URL of the Ethereum node. Header and log streams need a
	// websocket (or ipc) endpoint.
	URL string

	// TokenContractAddress is the ERC-20 contract whose Transfer events are
	// watched.
	TokenContractAddress common.Address

	// LockupAccount is the recipient that marks a transfer as a lockup.
	LockupAccount common.Address
}
