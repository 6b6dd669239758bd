// Package contact holds the contact record model and the policies applied to observations before
// they are persisted: signal aggregation and record throttling.
package contact

import (
	"context"
	"fmt"
	"time"
)

// PeerID identifies a peer for aggregation and throttling purposes.
//
// For centrals it is the transport's connection handle, or a fingerprint of the advertised
// manufacturer data when the handle is not stable across rediscoveries.
type PeerID string

// Record is one contact observation. All fields are optional; a Record only becomes eligible for
// persistence once Timestamp is set.
type Record struct {
	PeerTempID *string    `json:"peer_temp_id,omitempty"`
	RSSI       *float64   `json:"rssi,omitempty"`
	TxPower    *float64   `json:"tx_power,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Stamped reports whether r carries a timestamp.
func (r Record) Stamped() bool {
	return r.Timestamp != nil
}

// WithTimestamp returns a copy of r with Timestamp set to t.
func (r Record) WithTimestamp(t time.Time) Record {
	r.Timestamp = &t
	return r
}

// WithPeerTempID returns a copy of r with PeerTempID set to id.
func (r Record) WithPeerTempID(id string) Record {
	r.PeerTempID = &id
	return r
}

func (r Record) String() string {
	id, rssi, tx, ts := "-", "-", "-", "-"
	if r.PeerTempID != nil {
		id = *r.PeerTempID
	}
	if r.RSSI != nil {
		rssi = fmt.Sprintf("%.0f", *r.RSSI)
	}
	if r.TxPower != nil {
		tx = fmt.Sprintf("%.0f", *r.TxPower)
	}
	if r.Timestamp != nil {
		ts = r.Timestamp.Format(time.RFC3339)
	}
	return fmt.Sprintf("id=%s rssi=%s tx=%s at=%s", id, rssi, tx, ts)
}

// Store persists contact records. Implementations receive every record the throttle gate allows,
// in the order they were allowed.
type Store interface {
	Save(ctx context.Context, peer PeerID, record Record) error
}

// Archive is a Store that can also list what it saved. Durable stores implement it.
type Archive interface {
	Store
	// List returns the records whose timestamp is not before since, oldest first.
	List(ctx context.Context, since time.Time) ([]SavedRecord, error)
	Close() error
}

// LiveRecords holds the most recently persisted record for each peer. The throttle gate consults
// it, and the Recorder advances it after a successful save.
type LiveRecords interface {
	Get(peer PeerID) (Record, bool)
	Put(peer PeerID, record Record)
}

func float64Ptr(v float64) *float64 {
	return &v
}
