// Package engine assembles the proximity exchange: the central orchestrator, the peripheral
// responder and the record pipeline they share, all running on one serialized dispatcher.
//
// Transports call into the engine from their own goroutines. Every callback is moved onto the
// dispatcher before it touches engine state, so the components underneath never need locks.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/opencontact/proximity/internal/dispatcher"
	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/background"
	"github.com/opencontact/proximity/pkg/cache"
	"github.com/opencontact/proximity/pkg/central"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/identity"
	"github.com/opencontact/proximity/pkg/metrics"
	"github.com/opencontact/proximity/pkg/peripheral"
)

var (
	// ErrNoCentral indicates Dependencies did not include a central transport.
	ErrNoCentral = errors.New("engine requires a central transport")
	// ErrNoStore indicates Dependencies did not include a record store.
	ErrNoStore = errors.New("engine requires a record store")
	// ErrNoIdentity indicates Dependencies did not include an identifier source.
	ErrNoIdentity = errors.New("engine requires an identifier source")
)

// Dependencies are the external collaborators of an Engine.
type Dependencies struct {
	Central connector.Central
	// Peripheral is optional. Without it the engine only acts as a central.
	Peripheral connector.Peripheral
	Store      contact.Store
	Identity   identity.Source

	// Host defaults to a background.ClockHost driven by Clock.
	Host background.Host
	// Records holds the last saved record per peer. Defaults to an empty cache of
	// Config.RecordCacheSize entries.
	Records *cache.RecordCache
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Status is a snapshot of the engine.
type Status struct {
	On          bool
	Advertising bool
	Central     central.Status
	// KnownPeers is the number of peers with a remembered record.
	KnownPeers int
}

// An Engine runs the proximity exchange in both roles.
type Engine struct {
	cfg  Config
	deps Dependencies

	dispatcher   *dispatcher.Dispatcher
	orchestrator *central.Orchestrator
	responder    *peripheral.Responder
	signals      *contact.Aggregator
	records      *cache.RecordCache

	// Only accessed from the dispatcher.
	on          bool
	advertising bool

	lock      sync.Mutex
	radio     connector.RadioState
	listeners []func(connector.RadioState)
}

// New assembles an Engine. The engine stays idle until Start is called.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	if deps.Central == nil {
		return nil, ErrNoCentral
	}
	if deps.Store == nil {
		return nil, ErrNoStore
	}
	if deps.Identity == nil {
		return nil, ErrNoIdentity
	}
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Host == nil {
		deps.Host = background.NewClockHost(deps.Clock)
	}
	if deps.Records == nil {
		deps.Records = cache.New(cfg.RecordCacheSize)
	}

	e := &Engine{
		cfg:        cfg,
		deps:       deps,
		dispatcher: dispatcher.New(),
		signals:    contact.NewAggregator(),
		records:    deps.Records,
	}
	recorder := contact.NewRecorder(contact.NewGate(e.records, cfg.ThrottleWindow), e.records, deps.Store)

	e.orchestrator = central.New(central.Config{
		Service:              cfg.Service,
		Characteristic:       cfg.Characteristic,
		ReconnectDelay:       cfg.ReconnectDelay,
		ContinuationDuration: cfg.ContinuationDuration,
		ScanRestartInterval:  cfg.ScanRestartInterval,
	}, central.Dependencies{
		Transport: deps.Central,
		Host:      deps.Host,
		Signals:   e.signals,
		Recorder:  recorder,
		Identity:  deps.Identity,
		Post:      e.dispatcher.Post,
		Clock:     deps.Clock,
		Metrics:   deps.Metrics,
	})
	e.responder = peripheral.New(peripheral.Config{
		Characteristic: cfg.Characteristic,
		Identity:       deps.Identity,
		Signals:        e.signals,
		Recorder:       recorder,
		Clock:          deps.Clock,
		Metrics:        deps.Metrics,
	})
	return e, nil
}

// Start launches the dispatcher and subscribes to the central transport. Radio callbacks are
// processed from this point on, but the engine neither scans nor advertises until TurnOn.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.dispatcher.Start(ctx); err != nil {
		return err
	}
	e.deps.Central.SetDelegate(&delegate{engine: e})
	return nil
}

// Close stops both roles, disconnects every peer and stops the dispatcher. The store and the
// transports are left open for the caller to close.
func (e *Engine) Close() {
	err := e.dispatcher.Call(context.Background(), func() {
		e.on = false
		e.stopAdvertising()
		e.orchestrator.Close()
	})
	if err != nil {
		log.Debug("Engine already stopped: %s", err)
	}
	e.dispatcher.Stop()
}

// TurnOn starts scanning and advertising, immediately if the radio is powered on or as soon as it
// is. Turning on a running engine has no effect.
func (e *Engine) TurnOn() error {
	return e.dispatcher.Call(context.Background(), func() {
		if e.on {
			return
		}
		e.on = true
		e.orchestrator.Start()
		e.startAdvertising()
	})
}

// TurnOff stops scanning and advertising. Exchanges in progress and pending reconnects are
// allowed to finish.
func (e *Engine) TurnOff() error {
	return e.dispatcher.Call(context.Background(), func() {
		if !e.on {
			return
		}
		e.on = false
		e.orchestrator.Stop()
		e.stopAdvertising()
	})
}

// IsRadioAuthorized returns false if the host denied access to the radio or has none.
func (e *Engine) IsRadioAuthorized() bool {
	return e.Radio().Authorized()
}

// IsRadioOn returns true if the radio is powered on.
func (e *Engine) IsRadioOn() bool {
	return e.Radio().On()
}

// Radio returns the last radio state reported by the central transport.
func (e *Engine) Radio() connector.RadioState {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.radio
}

// OnRadioStateChange registers fn to be called with the new state whenever the radio state
// changes. fn runs on the transport's goroutine and may call back into the Engine.
func (e *Engine) OnRadioStateChange(fn func(connector.RadioState)) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Status returns a snapshot of the engine's state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var status Status
	err := e.dispatcher.Call(ctx, func() {
		status = Status{
			On:          e.on,
			Advertising: e.advertising,
			Central:     e.orchestrator.Status(),
			KnownPeers:  e.records.Len(),
		}
	})
	return status, err
}

// Records returns the cache of last saved records, e.g. to export it on shutdown.
func (e *Engine) Records() *cache.RecordCache {
	return e.records
}

func (e *Engine) updateRadio(state connector.RadioState) {
	e.lock.Lock()
	previous := e.radio
	e.radio = state
	listeners := make([]func(connector.RadioState), len(e.listeners))
	copy(listeners, e.listeners)
	e.lock.Unlock()

	if previous == state {
		return
	}
	e.deps.Metrics.RadioOn(state.On())
	for _, fn := range listeners {
		fn(state)
	}
}

func (e *Engine) radioChanged(state connector.RadioState) {
	e.orchestrator.DidUpdateState(state)
	if !state.On() {
		// Advertising does not survive the radio going away.
		e.advertising = false
		return
	}
	e.startAdvertising()
}

func (e *Engine) startAdvertising() {
	if e.deps.Peripheral == nil || e.advertising || !e.on || !e.Radio().On() {
		return
	}
	err := e.deps.Peripheral.StartAdvertising(e.cfg.Service, []string{e.cfg.Characteristic}, &handler{engine: e})
	if err != nil {
		log.Error("Failed to start advertising: %s", err)
		return
	}
	e.advertising = true
	log.Info("Advertising %s", e.cfg.Service)
}

func (e *Engine) stopAdvertising() {
	if !e.advertising {
		return
	}
	e.deps.Peripheral.StopAdvertising()
	e.advertising = false
	log.Info("Advertising stopped")
}
