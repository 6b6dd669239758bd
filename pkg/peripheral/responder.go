// Package peripheral implements the advertising half of the proximity exchange: it answers reads
// of the contact characteristic with our identifier and records the identifiers centrals write to
// it.
package peripheral

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/identity"
	"github.com/opencontact/proximity/pkg/metrics"
	"github.com/opencontact/proximity/pkg/protocol"
)

// Config holds a Responder's collaborators.
type Config struct {
	// Characteristic is the only characteristic served. Defaults to
	// protocol.ContactCharacteristicUUID.
	Characteristic string
	Identity       identity.Source
	Signals        *contact.Aggregator
	Recorder       *contact.Recorder
	// Clock stamps contact records. Defaults to the wall clock.
	Clock clock.Clock
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Responder is a connector.PeripheralHandler. It is not safe for concurrent use; the owner
// serializes calls with the rest of the engine.
type Responder struct {
	cfg Config
	ctx context.Context
}

var _ connector.PeripheralHandler = (*Responder)(nil)

func New(cfg Config) *Responder {
	if cfg.Characteristic == "" {
		cfg.Characteristic = protocol.ContactCharacteristicUUID
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Signals == nil {
		cfg.Signals = contact.NewAggregator()
	}
	return &Responder{cfg: cfg, ctx: context.Background()}
}

// OnRead returns our encoded identifier. It has no side effects. If no identifier is available the
// response is empty, which centrals reject as malformed.
func (r *Responder) OnRead(central connector.PeerHandle, characteristic string) []byte {
	if characteristic != r.cfg.Characteristic {
		log.Debug("[%s] Read of unknown characteristic %s", central, characteristic)
		return nil
	}
	id, err := r.cfg.Identity.Current()
	if err != nil {
		log.Warning("[%s] Answering read without identifier: %s", central, err)
		return nil
	}
	payload := protocol.Payload{EphemeralID: id}
	encoded, err := payload.Marshal()
	if err != nil {
		log.Error("[%s] Failed to encode identifier: %s", central, err)
		return nil
	}
	return encoded
}

// OnWrite records the identifier a central wrote. It returns false only if the write is
// malformed or addressed to another characteristic; throttled and unsaved records are still
// accepted.
func (r *Responder) OnWrite(central connector.PeerHandle, characteristic string, value []byte) bool {
	if characteristic != r.cfg.Characteristic {
		log.Warning("[%s] Rejecting write: %s %s", central, protocol.ErrUnknownCharacteristic, characteristic)
		r.cfg.Metrics.WriteRejected()
		return false
	}
	payload, err := protocol.DecodePayload(value)
	if err != nil {
		log.Warning("[%s] Rejecting write: %s", central, err)
		r.cfg.Metrics.WriteRejected()
		return false
	}

	peer := contact.PeerID(central)
	candidate := contact.Record{
		RSSI:    payload.RSSI,
		TxPower: r.cfg.Signals.Latest(peer).TxPower,
	}.WithPeerTempID(payload.EphemeralID).WithTimestamp(r.cfg.Clock.Now())

	saved, err := r.cfg.Recorder.Record(r.ctx, peer, candidate)
	switch {
	case err != nil:
		log.Error("[%s] Failed to save contact record: %s", central, err)
		r.cfg.Metrics.Record(metrics.RecordFailed, "peripheral")
	case saved:
		log.Info("[%s] Saved contact %s", central, candidate)
		r.cfg.Metrics.Record(metrics.RecordSaved, "peripheral")
	default:
		log.Debug("[%s] Contact throttled", central)
		r.cfg.Metrics.Record(metrics.RecordThrottled, "peripheral")
	}
	return true
}
