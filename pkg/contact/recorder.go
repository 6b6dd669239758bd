package contact

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Recorder applies the throttle gate to candidate records, persists the ones it allows and keeps
// the live per-peer record current.
type Recorder struct {
	gate  *Gate
	live  LiveRecords
	store Store
}

func NewRecorder(gate *Gate, live LiveRecords, store Store) *Recorder {
	return &Recorder{gate: gate, live: live, store: store}
}

// Record persists candidate if the gate allows it. It returns true if the record was saved. The
// live record only advances after the store accepted the record.
func (r *Recorder) Record(ctx context.Context, peer PeerID, candidate Record) (bool, error) {
	if !r.gate.ShouldSave(candidate, peer) {
		return false, nil
	}
	if err := r.store.Save(ctx, peer, candidate); err != nil {
		return false, err
	}
	r.live.Put(peer, candidate)
	return true, nil
}

// Live returns the last persisted record for peer.
func (r *Recorder) Live(peer PeerID) (Record, bool) {
	return r.live.Get(peer)
}

// SavedRecord is an entry of a MemoryStore.
type SavedRecord struct {
	Peer   PeerID
	Record Record
}

// MemoryStore is a Store that keeps records in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records []SavedRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, peer PeerID, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, SavedRecord{Peer: peer, Record: record})
	return nil
}

// Records returns a copy of everything saved so far.
func (m *MemoryStore) Records() []SavedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SavedRecord, len(m.records))
	copy(out, m.records)
	return out
}

// List returns the stamped records not older than since, ordered by timestamp.
func (m *MemoryStore) List(_ context.Context, since time.Time) ([]SavedRecord, error) {
	var out []SavedRecord
	for _, r := range m.Records() {
		if r.Record.Timestamp != nil && !r.Record.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Record.Timestamp.Before(*out[j].Record.Timestamp)
	})
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// MapRecords is an unbounded LiveRecords backed by a map. It is not safe for concurrent use.
type MapRecords map[PeerID]Record

func (m MapRecords) Get(peer PeerID) (Record, bool) {
	r, ok := m[peer]
	return r, ok
}

func (m MapRecords) Put(peer PeerID, record Record) {
	m[peer] = record
}
