package agreement

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// HeaderMismatchError is returned when the header found at a height does not
// carry the expected hash: the chain has a competing history at that height.
type HeaderMismatchError struct {
	Number   uint64
	Expected common.Hash
	Actual   common.Hash
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("header mismatch at %d: expected=%s, actual=%s", e.Number, e.Expected.Hex(), e.Actual.Hex())
}

func IsHeaderMismatch(err error) (*HeaderMismatchError, bool) {
	var e *HeaderMismatchError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
