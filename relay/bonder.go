package relay

import (
	"errors"

	"github.com/TEENet-io/bonder-relay/pactman"
)

// Bonder is the identity that signs every submission. Its name ties the
// submissions to a bond on the destination chain.
type Bonder struct {
	KeyPair *pactman.KeyPair
	Name    string
}

func NewBonder(secretHex string, name string) (*Bonder, error) {
	if name == "" {
		return nil, errors.New("empty bond name")
	}
	kp, err := pactman.NewKeyPairFromSecret(secretHex)
	if err != nil {
		return nil, err
	}
	return &Bonder{KeyPair: kp, Name: name}, nil
}

func (b *Bonder) PublicKey() string {
	return b.KeyPair.PublicKey()
}
