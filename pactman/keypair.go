package pactman

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/TEENet-io/bonder-relay/common"
)

// KeyPair is an ed25519 key pair as used by Pact signers.
type KeyPair struct {
	priv ed25519.PrivateKey
}

// NewKeyPairFromSecret restores a key pair from a hex encoded secret key,
// either the 32 byte seed or the 64 byte private key.
func NewKeyPairFromSecret(secretHex string) (*KeyPair, error) {
	b, err := common.DecodeHex(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}

	switch len(b) {
	case ed25519.SeedSize:
		return &KeyPair{priv: ed25519.NewKeyFromSeed(b)}, nil
	case ed25519.PrivateKeySize:
		return &KeyPair{priv: ed25519.PrivateKey(b)}, nil
	default:
		return nil, fmt.Errorf("invalid secret key length: %d", len(b))
	}
}

func GenerateKeyPair() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{priv: priv}, nil
}

// PublicKey returns the hex encoded public key.
func (kp *KeyPair) PublicKey() string {
	return hex.EncodeToString(kp.PublicKeyBytes())
}

func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.priv.Public().(ed25519.PublicKey)
}

// Sign signs a command hash and returns the hex encoded signature.
func (kp *KeyPair) Sign(hash []byte) string {
	return hex.EncodeToString(ed25519.Sign(kp.priv, hash))
}
