/*
SQLiteRelayDB implements RelayDB.
Table is relay_decisions

Block hashes are stored as 32 byte BLOBs and times as unix nanoseconds.
*/
package relaydb

import (
	"context"
	"database/sql"
	"time"

	"github.com/TEENet-io/bonder-relay/journal"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRelayDB struct {
	db *sql.DB
}

var _ RelayDB = (*SQLiteRelayDB)(nil)

func NewSQLiteRelayDB(dbPath string) (*SQLiteRelayDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases alive and serializes
	// writers
	db.SetMaxOpenConns(1)

	storage := &SQLiteRelayDB{db: db}
	if err := storage.init(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// Table's row structure is according to journal.Entry
func (s *SQLiteRelayDB) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS relay_decisions (
		ID INTEGER PRIMARY KEY AUTOINCREMENT,
		Topic TEXT,
		BlockNumber INTEGER,
		BlockHash BLOB,
		Outcome TEXT,
		Message TEXT,
		RecordedAt INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_block_hash ON relay_decisions (BlockHash);
	CREATE INDEX IF NOT EXISTS idx_outcome ON relay_decisions (Outcome);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteRelayDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteRelayDB) Record(ctx context.Context, e *journal.Entry) error {
	query := `
	INSERT INTO relay_decisions (Topic, BlockNumber, BlockHash, Outcome, Message, RecordedAt)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query, string(e.Topic), int64(e.BlockNumber), e.BlockHash.Bytes(), string(e.Outcome), e.Message, t.UnixNano())
	return err
}

func (s *SQLiteRelayDB) Decisions(blockHash []byte) ([]*Decision, error) {
	query := `
	SELECT ID, Topic, BlockNumber, BlockHash, Outcome, Message, RecordedAt
	FROM relay_decisions WHERE BlockHash = ? ORDER BY ID ASC;
	`
	rows, err := s.db.Query(query, blockHash)
	if err != nil {
		return nil, err
	}
	return scanDecisions(rows)
}

func (s *SQLiteRelayDB) Recent(limit int) ([]*Decision, error) {
	query := `
	SELECT ID, Topic, BlockNumber, BlockHash, Outcome, Message, RecordedAt
	FROM relay_decisions ORDER BY ID DESC LIMIT ?;
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]*Decision, error) {
	defer rows.Close()

	decisions := []*Decision{}
	for rows.Next() {
		d := &Decision{}

		var topic, outcome string
		var number, recordedAt int64
		var hash []byte
		if err := rows.Scan(&d.ID, &topic, &number, &hash, &outcome, &d.Message, &recordedAt); err != nil {
			return nil, err
		}
		d.Topic = journal.Topic(topic)
		d.BlockNumber = uint64(number)
		d.BlockHash.SetBytes(hash)
		d.Outcome = journal.Outcome(outcome)
		d.Time = time.Unix(0, recordedAt)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
