package relaydb

import (
	"github.com/TEENet-io/bonder-relay/journal"
)

// Decision is a journal entry as stored in the database.
type Decision struct {
	ID int64
	journal.Entry
}

// Defines what the DB should do
// Regardless of the underlying implementation
type RelayDB interface {
	journal.Journal

	// Release the resource that db occupies.
	Close() error

	// All decisions about a block, oldest first.
	Decisions(blockHash []byte) ([]*Decision, error)

	// The latest limit decisions, newest first.
	Recent(limit int) ([]*Decision, error)
}
