// Package badgerstore persists contact records in a BadgerDB database.
//
// Records are append-only. Each saved record is stored under a key ordered by its timestamp, so
// that records can be listed chronologically without a secondary index.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/contact"
)

var (
	recordPrefix = []byte("contact/")
	sequenceKey  = []byte("meta/sequence")
)

// ErrMissingTimestamp is returned when saving a record that has no timestamp.
var ErrMissingTimestamp = errors.New("badgerstore: record has no timestamp")

const sequenceBandwidth = 128

// Options configures a Store.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps all data in memory. Intended for tests and dry runs.
	InMemory bool
	// SyncWrites makes every Save durable before returning.
	SyncWrites bool
}

// Store is a contact.Store backed by BadgerDB. It is safe for concurrent use.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

type entry struct {
	Peer   contact.PeerID `json:"peer"`
	Record contact.Record `json:"record"`
}

// Open creates or opens the database described by opts.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLogger{})
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: failed to open database: %w", err)
	}
	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badgerstore: failed to open sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

func recordKey(ts time.Time, n uint64) []byte {
	key := make([]byte, 0, len(recordPrefix)+16)
	key = append(key, recordPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
	return binary.BigEndian.AppendUint64(key, n)
}

// Save appends record to the database.
func (s *Store) Save(ctx context.Context, peer contact.PeerID, record contact.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.Timestamp == nil {
		return ErrMissingTimestamp
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("badgerstore: %w", err)
	}
	value, err := json.Marshal(entry{Peer: peer, Record: record})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(*record.Timestamp, n), value)
	})
	if err != nil {
		return fmt.Errorf("badgerstore: failed to save record for %s: %w", peer, err)
	}
	log.Debug("[%s] Stored %s", peer, record)
	return nil
}

// List returns every record whose timestamp is not before since, oldest first.
func (s *Store) List(ctx context.Context, since time.Time) ([]contact.SavedRecord, error) {
	var out []contact.SavedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := recordPrefix
		if !since.IsZero() {
			start = recordKey(since, 0)
		}
		for it.Seek(start); it.ValidForPrefix(recordPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("badgerstore: corrupt record %x: %w", it.Item().Key(), err)
			}
			out = append(out, contact.SavedRecord{Peer: e.Peer, Record: e.Record})
		}
		return nil
	})
	return out, err
}

// Close releases the sequence and closes the database.
func (s *Store) Close() error {
	err := s.seq.Release()
	if closeErr := s.db.Close(); closeErr != nil {
		return closeErr
	}
	return err
}

// badgerLogger routes BadgerDB's own logging into the process logger, one level quieter so that
// compaction chatter only shows at debug level.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warning("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Debug("badger: "+format, args...)
}
