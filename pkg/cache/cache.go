package cache

import (
	"encoding/json"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opencontact/proximity/pkg/contact"
)

// DefaultMaxEntries is used when a RecordCache is created without a positive size.
const DefaultMaxEntries = 4096

// RecordCache is a bounded contact.LiveRecords. It is safe for concurrent use.
type RecordCache struct {
	MaxEntries int
	records    *lru.Cache[contact.PeerID, contact.Record]
}

type exportedEntry struct {
	Peer   contact.PeerID `json:"peer"`
	Record contact.Record `json:"record"`
}

type exportedCache struct {
	MaxEntries int             `json:"max_entries"`
	Peers      []exportedEntry `json:"peers"`
}

// New returns a RecordCache that holds records for up to maxEntries peers, evicting the least
// recently used peer when full. A peer is "used" whenever its record is read or written.
//
// A non-positive maxEntries selects DefaultMaxEntries.
func New(maxEntries int) *RecordCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	records, err := lru.New[contact.PeerID, contact.Record](maxEntries)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &RecordCache{MaxEntries: maxEntries, records: records}
}

// Import a RecordCache using data in r.
// The data should previously have been generated using [RecordCache.Export].
func Import(r io.Reader) (*RecordCache, error) {
	var exported exportedCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&exported); err != nil {
		return nil, err
	}
	c := New(exported.MaxEntries)
	for _, entry := range exported.Peers {
		c.records.Add(entry.Peer, entry.Record)
	}
	return c, nil
}

// ImportFromFile reads a RecordCache from disk.
func ImportFromFile(filename string) (*RecordCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized RecordCache to w. Peers are written from least to most recently
// used so that Import restores the eviction order.
func (c *RecordCache) Export(w io.Writer) error {
	exported := exportedCache{MaxEntries: c.MaxEntries}
	for _, peer := range c.records.Keys() {
		if record, ok := c.records.Peek(peer); ok {
			exported.Peers = append(exported.Peers, exportedEntry{Peer: peer, Record: record})
		}
	}
	return json.NewEncoder(w).Encode(&exported)
}

// ExportToFile writes a RecordCache to disk.
func (c *RecordCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Export(file)
}

// Get returns the last record stored for peer.
func (c *RecordCache) Get(peer contact.PeerID) (contact.Record, bool) {
	return c.records.Get(peer)
}

// Put replaces the record stored for peer.
func (c *RecordCache) Put(peer contact.PeerID, record contact.Record) {
	c.records.Add(peer, record)
}

// Len returns the number of peers in the cache.
func (c *RecordCache) Len() int {
	return c.records.Len()
}

// Purge removes every record.
func (c *RecordCache) Purge() {
	c.records.Purge()
}
