package central

import (
	"fmt"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/internal/sequencer"
	"github.com/opencontact/proximity/pkg/background"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/metrics"
	"github.com/opencontact/proximity/pkg/protocol"
)

// State is the lifecycle stage of a tracked peer. Disconnected peers are not tracked.
type State int

const (
	StateDiscovered State = iota
	StateConnecting
	StateConnected
	StateServicesDiscovered
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateServicesDiscovered:
		return "services-discovered"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type peer struct {
	handle      connector.PeerHandle
	id          contact.PeerID
	fingerprint string
	state       State
	seq         *sequencer.Sequencer

	// continuation is inherited from the long session this peer was reconnected from. It is
	// released when the peer is dropped.
	continuation    background.Token
	hasContinuation bool
}

func (p *peer) String() string {
	if string(p.id) == string(p.handle) {
		return string(p.handle)
	}
	return fmt.Sprintf("%s/%s", p.handle, p.id)
}

func (o *Orchestrator) connect(p *peer) {
	p.state = StateConnecting
	o.peers[p.handle] = p
	log.Debug("[%s] Connecting", p)
	o.deps.Transport.Connect(p.handle)
}

// dropPeer forgets p, aborting its exchange without running the exchange's Cancel step. If
// disconnect is set the transport connection is cancelled too.
func (o *Orchestrator) dropPeer(p *peer, disconnect bool) {
	if o.peers[p.handle] != p {
		return
	}
	delete(o.peers, p.handle)
	if p.seq != nil {
		p.seq.Stop()
	}
	if p.hasContinuation {
		p.hasContinuation = false
		o.deps.Host.EndContinuation(p.continuation)
	}
	if disconnect {
		log.Debug("[%s] Disconnecting", p)
		o.deps.Transport.Disconnect(p.handle)
	}
}

// DidDiscover handles an advertisement of the contact service.
func (o *Orchestrator) DidDiscover(adv connector.Advertisement) {
	o.deps.Metrics.Discovered()
	id, fingerprint := peerIDFor(adv)

	if adv.TxPower != nil {
		o.deps.Signals.ObserveTxPower(id, *adv.TxPower)
	}
	if p, tracked := o.peers[adv.Handle]; tracked {
		if p.state >= StateConnected {
			o.deps.Signals.Observe(p.id, adv.RSSI)
		}
		return
	}
	if !o.started || !o.scanning {
		return
	}
	if fingerprint != "" {
		if o.dedup.Contains(fingerprint) {
			o.deps.Metrics.DedupHit()
			return
		}
		o.dedup.Add(fingerprint, struct{}{})
	}
	if s, pending := o.sessions[adv.Handle]; pending {
		log.Debug("[%s] Rediscovered, superseding long session", adv.Handle)
		o.releaseSession(s)
		o.deps.Metrics.LongSession(metrics.SessionSuperseded)
	}
	log.Info("[%s] Discovered peer %s (rssi %.0f)", adv.Handle, id, adv.RSSI)
	o.connect(&peer{handle: adv.Handle, id: id, fingerprint: fingerprint, state: StateDiscovered})
}

func (o *Orchestrator) DidConnect(h connector.PeerHandle) {
	p, ok := o.peers[h]
	if !ok || p.state != StateConnecting {
		log.Warning("[%s] Dropping untracked connection", h)
		o.deps.Transport.Disconnect(h)
		return
	}
	o.deps.Metrics.Connect(true)
	p.state = StateConnected
	log.Debug("[%s] Connected, discovering characteristics", p)
	o.deps.Transport.DiscoverCharacteristics(h, o.cfg.Service, []string{o.cfg.Characteristic})
}

func (o *Orchestrator) DidFailToConnect(h connector.PeerHandle, err error) {
	p, ok := o.peers[h]
	if !ok {
		return
	}
	o.deps.Metrics.Connect(false)
	log.Warning("[%s] Failed to connect: %s", p, err)
	o.dropPeer(p, false)
}

// DidDisconnect handles the end of a connection. A nil error means this Orchestrator asked for the
// disconnect. Any other disconnect of a peer still being tracked starts a long session.
func (o *Orchestrator) DidDisconnect(h connector.PeerHandle, err error) {
	p, ok := o.peers[h]
	if !ok {
		return
	}
	if err == nil {
		if p.state == StateConnecting {
			// The transport cannot tell whether this ends an earlier connection to the same
			// handle or the pending attempt. Abandon the attempt and let the next
			// advertisement start over.
			log.Debug("[%s] Disconnected while connecting, retrying on next discovery", p)
			o.dropPeer(p, true)
			if p.fingerprint != "" {
				o.dedup.Remove(p.fingerprint)
			}
			return
		}
		o.dropPeer(p, false)
		return
	}
	log.Info("[%s] Disconnected unexpectedly: %s", p, err)
	o.dropPeer(p, false)
	o.startSession(p.handle, p.id)
}

func (o *Orchestrator) DidDiscoverCharacteristics(h connector.PeerHandle, err error) {
	p, ok := o.peers[h]
	if !ok || p.state != StateConnected {
		return
	}
	if err != nil {
		log.Warning("[%s] Characteristic discovery failed: %s", p, err)
		o.dropPeer(p, true)
		return
	}
	p.state = StateServicesDiscovered
	p.seq = sequencer.New(o.exchange(p))
	p.seq.Start()
}

func (o *Orchestrator) DidReadCharacteristic(h connector.PeerHandle, characteristic string, value []byte, err error) {
	if p, ok := o.peers[h]; ok && p.seq != nil {
		p.seq.DidRead(characteristic, value, err)
	}
}

func (o *Orchestrator) DidWriteCharacteristic(h connector.PeerHandle, characteristic string, err error) {
	if p, ok := o.peers[h]; ok && p.seq != nil {
		p.seq.DidWrite(characteristic, err)
	}
}

func (o *Orchestrator) DidReadSignalStrength(h connector.PeerHandle, rssi float64, err error) {
	if p, ok := o.peers[h]; ok && p.seq != nil {
		p.seq.DidReadSignalStrength(rssi, err)
	}
}

// exchange builds the sequence run against every connected peer. The signal is measured before
// our identifier is written, and the peer's identifier is read only after the write.
func (o *Orchestrator) exchange(p *peer) sequencer.Config {
	return sequencer.Config{
		Peer:   p.id,
		Handle: p.handle,
		Commands: []sequencer.Command{
			sequencer.MeasureSignal{},
			sequencer.Write{Characteristic: o.cfg.Characteristic, Value: o.outboundPayload},
			sequencer.Read{Characteristic: o.cfg.Characteristic},
			sequencer.Cancel{Callback: func() { o.dropPeer(p, true) }},
		},
		Transport: o.deps.Transport,
		Signals:   o.deps.Signals,
		Scheduler: o.deps.Host,
		Post:      o.deps.Post,
		OnRead: func(_ string, value []byte) error {
			return o.record(p, value)
		},
		OnAbort: func(sequencer.Command, error) {
			o.deps.Metrics.SequenceAborted()
		},
	}
}

// outboundPayload carries our identifier and the best signal strength measured for the peer.
func (o *Orchestrator) outboundPayload(latest contact.Record) ([]byte, error) {
	id, err := o.deps.Identity.Current()
	if err != nil {
		return nil, err
	}
	payload := protocol.Payload{EphemeralID: id, RSSI: latest.RSSI}
	return payload.Marshal()
}

// record completes the contact record with the peer's identifier and offers it to the recorder.
// Only a malformed payload is an error; storage failures are logged.
func (o *Orchestrator) record(p *peer, value []byte) error {
	payload, err := protocol.DecodePayload(value)
	if err != nil {
		return err
	}
	latest := o.deps.Signals.Latest(p.id)
	candidate := contact.Record{
		RSSI:    latest.RSSI,
		TxPower: latest.TxPower,
	}.WithPeerTempID(payload.EphemeralID).WithTimestamp(o.deps.Clock.Now())

	saved, err := o.deps.Recorder.Record(o.ctx, p.id, candidate)
	switch {
	case err != nil:
		log.Error("[%s] Failed to save contact record: %s", p, err)
		o.deps.Metrics.Record(metrics.RecordFailed, "central")
	case saved:
		log.Info("[%s] Saved contact %s", p, candidate)
		o.deps.Metrics.Record(metrics.RecordSaved, "central")
	default:
		log.Debug("[%s] Contact throttled", p)
		o.deps.Metrics.Record(metrics.RecordThrottled, "central")
	}
	return nil
}
