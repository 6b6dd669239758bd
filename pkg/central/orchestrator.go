// Package central implements the scanning and connecting half of the proximity exchange.
//
// An Orchestrator discovers peers advertising the contact service, connects to each of them,
// runs the exchange sequence (measure signal, write our identifier, read theirs) and hands the
// result to a contact.Recorder. When a connection drops in the middle of an exchange, the
// Orchestrator keeps the process alive for a bounded time and reconnects once.
//
// Orchestrator methods and the connector.CentralDelegate methods it implements are not safe for
// concurrent use. The owner must call all of them from one serialized context, such as an
// internal dispatcher, and must provide a Post function that moves timer callbacks back onto that
// context.
package central

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/background"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/identity"
	"github.com/opencontact/proximity/pkg/metrics"
	"github.com/opencontact/proximity/pkg/protocol"
)

const (
	DefaultReconnectDelay       = 5 * time.Second
	DefaultContinuationDuration = 25 * time.Second
	DefaultDedupCapacity        = 4096
	// DefaultScanRestartInterval is how long a fingerprint stays in the dedup window when the
	// engine runs with its default configuration.
	DefaultScanRestartInterval = 5 * time.Minute
)

// Config controls the Orchestrator's timing and the GATT layout it looks for.
type Config struct {
	Service        string
	Characteristic string

	// ReconnectDelay is how long to wait after an unexpected disconnect before reconnecting.
	ReconnectDelay time.Duration
	// ContinuationDuration bounds how long a dropped peer is kept alive waiting for a reconnect.
	ContinuationDuration time.Duration
	// ScanRestartInterval periodically restarts scanning, which also clears the dedup window.
	// Zero disables periodic restarts.
	ScanRestartInterval time.Duration
	// DedupCapacity bounds the number of fingerprints remembered per scan window.
	DedupCapacity int
}

func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = protocol.ServiceUUID
	}
	if c.Characteristic == "" {
		c.Characteristic = protocol.ContactCharacteristicUUID
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ContinuationDuration <= 0 {
		c.ContinuationDuration = DefaultContinuationDuration
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = DefaultDedupCapacity
	}
}

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Transport connector.Central
	Host      background.Host
	Signals   *contact.Aggregator
	Recorder  *contact.Recorder
	Identity  identity.Source

	// Post moves callbacks from host goroutines back onto the serialized context. If nil,
	// callbacks run directly on the host goroutine.
	Post func(func()) error
	// Clock stamps contact records. Defaults to the wall clock.
	Clock clock.Clock
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Status is a snapshot of the Orchestrator's activity.
type Status struct {
	Started      bool
	Radio        connector.RadioState
	Scanning     bool
	Peers        int
	LongSessions int
}

// Orchestrator owns scanning, connections and long sessions for the central role.
type Orchestrator struct {
	cfg  Config
	deps Dependencies
	ctx  context.Context

	started  bool
	radio    connector.RadioState
	scanning bool

	dedup    *lru.Cache[string, struct{}]
	peers    map[connector.PeerHandle]*peer
	sessions map[connector.PeerHandle]*longSession

	restartTimer background.Timer
	restartArmed bool
	// restartGeneration invalidates restart callbacks posted before the timer was cancelled.
	restartGeneration uint64
}

// New returns an idle Orchestrator. Call Start to begin scanning once the radio is powered on.
func New(cfg Config, deps Dependencies) *Orchestrator {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Signals == nil {
		deps.Signals = contact.NewAggregator()
	}
	dedup, err := lru.New[string, struct{}](cfg.DedupCapacity)
	if err != nil {
		// Unreachable: applyDefaults guarantees a positive capacity.
		panic(err)
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		ctx:      context.Background(),
		dedup:    dedup,
		peers:    make(map[connector.PeerHandle]*peer),
		sessions: make(map[connector.PeerHandle]*longSession),
	}
}

// Fingerprint derives a stable peer identifier from advertised manufacturer data: the hex encoding
// of the first 16 bytes of its SHA-256 digest.
func Fingerprint(manufacturerData []byte) string {
	digest := sha256.Sum256(manufacturerData)
	return hex.EncodeToString(digest[:16])
}

func peerIDFor(adv connector.Advertisement) (id contact.PeerID, fingerprint string) {
	if len(adv.ManufacturerData) > 0 {
		fingerprint = Fingerprint(adv.ManufacturerData)
		return contact.PeerID(fingerprint), fingerprint
	}
	return contact.PeerID(adv.Handle), ""
}

func (o *Orchestrator) post(fn func()) {
	if o.deps.Post == nil {
		fn()
		return
	}
	if err := o.deps.Post(fn); err != nil {
		log.Debug("Dropping central callback: %s", err)
	}
}

// Start enables scanning. Scanning begins immediately if the radio is powered on, or as soon as it
// is. Calling Start while started has no effect.
func (o *Orchestrator) Start() {
	if o.started {
		return
	}
	o.started = true
	log.Info("Central role started")
	if o.radio.On() {
		o.restartScan()
	}
}

// Stop stops scanning. Peers in the middle of an exchange and pending long sessions are left
// alone.
func (o *Orchestrator) Stop() {
	if !o.started {
		return
	}
	o.started = false
	o.cancelRestart()
	if o.scanning {
		o.deps.Transport.StopScanning()
		o.scanning = false
	}
	log.Info("Central role stopped")
}

// Close stops scanning, disconnects every peer and releases every long session.
func (o *Orchestrator) Close() {
	o.Stop()
	o.dropAll(true)
}

// Status returns a snapshot of the Orchestrator's state.
func (o *Orchestrator) Status() Status {
	return Status{
		Started:      o.started,
		Radio:        o.radio,
		Scanning:     o.scanning,
		Peers:        len(o.peers),
		LongSessions: len(o.sessions),
	}
}

// restartScan (re)starts scanning with a clean slate: a new dedup and aggregation window and no
// peers or long sessions carried over from the previous window.
func (o *Orchestrator) restartScan() {
	if o.scanning {
		o.deps.Transport.StopScanning()
		o.scanning = false
	}
	o.dedup.Purge()
	o.deps.Signals.Reset()
	o.dropAll(true)

	log.Info("Scanning for %s", o.cfg.Service)
	o.deps.Transport.StartScanning([]string{o.cfg.Service})
	o.scanning = true
	o.armRestart()
}

func (o *Orchestrator) dropAll(disconnect bool) {
	for _, p := range o.peers {
		o.dropPeer(p, disconnect)
	}
	for _, s := range o.sessions {
		o.releaseSession(s)
	}
}

func (o *Orchestrator) armRestart() {
	o.cancelRestart()
	if o.cfg.ScanRestartInterval <= 0 {
		return
	}
	generation := o.restartGeneration
	o.restartArmed = true
	o.restartTimer = o.deps.Host.ScheduleOnce(o.cfg.ScanRestartInterval, func() {
		o.post(func() { o.restartFired(generation) })
	})
}

func (o *Orchestrator) cancelRestart() {
	o.restartGeneration++
	if o.restartArmed {
		o.restartArmed = false
		o.deps.Host.CancelTimer(o.restartTimer)
	}
}

func (o *Orchestrator) restartFired(generation uint64) {
	if generation != o.restartGeneration {
		return
	}
	o.restartArmed = false
	if o.started && o.radio.On() {
		log.Debug("Periodic scan restart")
		o.restartScan()
	}
}

// DidUpdateState starts scanning when the radio becomes available and forgets all connection
// state when it goes away.
func (o *Orchestrator) DidUpdateState(state connector.RadioState) {
	previous := o.radio
	o.radio = state
	if previous == state {
		return
	}
	log.Info("Radio state changed from %s to %s", previous, state)
	if state.On() {
		if o.started {
			o.restartScan()
		}
		return
	}
	o.cancelRestart()
	o.scanning = false
	// Connections do not survive the radio going away, so there is nothing to disconnect.
	o.dropAll(false)
}
