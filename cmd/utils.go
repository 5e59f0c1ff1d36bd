package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/TEENet-io/bonder-relay/common"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// ParseAddress parses a hex encoded address.
func ParseAddress(s string) (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(s) {
		return ethcommon.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return ethcommon.HexToAddress(s), nil
}

// ParseLockupAccount accepts either the lockup address or the public key
// that controls it, compressed or not.
func ParseLockupAccount(s string) (ethcommon.Address, error) {
	if s == "" {
		return ethcommon.Address{}, errors.New("lockup account not set")
	}
	b, err := common.DecodeHex(s)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("invalid lockup account %q: %w", s, err)
	}

	switch len(b) {
	case ethcommon.AddressLength:
		return ethcommon.BytesToAddress(b), nil
	case 33:
		pub, err := crypto.DecompressPubkey(b)
		if err != nil {
			return ethcommon.Address{}, err
		}
		return crypto.PubkeyToAddress(*pub), nil
	case 64, 65:
		if len(b) == 64 {
			b = append([]byte{0x04}, b...)
		}
		pub, err := crypto.UnmarshalPubkey(b)
		if err != nil {
			return ethcommon.Address{}, err
		}
		return crypto.PubkeyToAddress(*pub), nil
	default:
		return ethcommon.Address{}, fmt.Errorf("invalid lockup account %q: %d bytes", s, len(b))
	}
}

// EthUrl returns url if set, otherwise the infura websocket endpoint of the
// network.
func EthUrl(url, network, infuraToken string) (string, error) {
	if url != "" {
		return url, nil
	}
	if network == "" || infuraToken == "" {
		return "", errors.New("either the eth url or the eth network and infura token must be set")
	}
	return fmt.Sprintf("wss://%s.infura.io/ws/v3/%s", network, infuraToken), nil
}
