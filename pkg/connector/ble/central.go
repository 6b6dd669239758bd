// Package ble adapts github.com/go-ble/ble devices to the connector.Central and
// connector.Peripheral contracts.
//
// go-ble operations block, so every request runs on its own goroutine and reports its outcome
// through the CentralDelegate. One Device may back both a Central and a Peripheral.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/protocol"
)

var (
	// ErrAdapterInvalidID indicates the adapter name could not be mapped to an HCI device.
	ErrAdapterInvalidID = protocol.NewError("the bluetooth adapter ID is invalid", false)
	// ErrLinkLost indicates the remote device or the controller closed the connection.
	ErrLinkLost = protocol.NewError("connection lost", true)
	// ErrMissingService indicates the peer does not expose the requested service or
	// characteristics.
	ErrMissingService = protocol.NewError("peer does not expose the contact service", false)
	// ErrClosed indicates the adapter was closed.
	ErrClosed = protocol.NewError("adapter closed", false)
)

// DefaultDialInterval spaces connection attempts. Most controllers handle a single pending LE
// connection at a time.
const DefaultDialInterval = 250 * time.Millisecond

// RadioMonitor reports the host's radio state. bluez.Monitor implements it.
type RadioMonitor interface {
	// Watch calls fn with the current state and then with every change until ctx is done.
	Watch(ctx context.Context, fn func(connector.RadioState)) error
}

// CentralOptions configures a Central.
type CentralOptions struct {
	// DialInterval is the minimum spacing between connection attempts. Defaults to
	// DefaultDialInterval.
	DialInterval time.Duration
	// Monitor supplies radio state changes. Without one the radio is reported as powered on as
	// soon as a delegate is set, because the device was opened successfully.
	Monitor RadioMonitor
}

type link struct {
	handle    connector.PeerHandle
	cancel    context.CancelFunc
	client    ble.Client
	chars     map[string]*ble.Characteristic
	requested bool
}

// Central implements connector.Central on top of a go-ble Device.
type Central struct {
	device  ble.Device
	limiter *rate.Limiter
	monitor RadioMonitor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lock       sync.Mutex
	delegate   connector.CentralDelegate
	scanCancel context.CancelFunc
	links      map[connector.PeerHandle]*link
	closed     bool
}

var _ connector.Central = (*Central)(nil)

func NewCentral(device ble.Device, opts CentralOptions) *Central {
	if opts.DialInterval <= 0 {
		opts.DialInterval = DefaultDialInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Central{
		device:  device,
		limiter: rate.NewLimiter(rate.Every(opts.DialInterval), 1),
		monitor: opts.Monitor,
		ctx:     ctx,
		cancel:  cancel,
		links:   make(map[connector.PeerHandle]*link),
	}
}

// spawn runs fn on a new goroutine unless the Central is closed.
func (c *Central) spawn(fn func()) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Central) getDelegate() connector.CentralDelegate {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.delegate
}

// SetDelegate installs d and starts reporting the radio state to it.
func (c *Central) SetDelegate(d connector.CentralDelegate) {
	c.lock.Lock()
	first := c.delegate == nil
	c.delegate = d
	c.lock.Unlock()
	if !first {
		return
	}
	if c.monitor == nil {
		d.DidUpdateState(connector.RadioStatePoweredOn)
		return
	}
	c.spawn(func() {
		err := c.monitor.Watch(c.ctx, func(state connector.RadioState) {
			if state != connector.RadioStatePoweredOn {
				c.dropLinks()
			}
			c.getDelegate().DidUpdateState(state)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Radio monitor stopped: %s", err)
			c.getDelegate().DidUpdateState(connector.RadioStateUnknown)
		}
	})
}

// StartScanning replaces any running scan with one reporting advertisements for services.
func (c *Central) StartScanning(services []string) {
	filter, err := parseUUIDs(services)
	if err != nil {
		log.Error("Not scanning: %s", err)
		return
	}
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	if c.scanCancel != nil {
		c.scanCancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.scanCancel = cancel
	c.lock.Unlock()

	c.spawn(func() {
		err := c.device.Scan(ctx, true, func(a ble.Advertisement) {
			if !advertises(a, filter) {
				return
			}
			c.getDelegate().DidDiscover(toAdvertisement(a))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warning("Scan stopped: %s", err)
		}
	})
}

func (c *Central) StopScanning() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.scanCancel != nil {
		c.scanCancel()
		c.scanCancel = nil
	}
}

// Connect dials h. Attempts are paced by the dial limiter.
//
// A link to h that is still being torn down after Disconnect is replaced by the new attempt, and
// its teardown is no longer reported.
func (c *Central) Connect(h connector.PeerHandle) {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		c.getDelegate().DidFailToConnect(h, ErrClosed)
		return
	}
	if l, ok := c.links[h]; ok {
		if !l.requested {
			connected := l.client != nil
			c.lock.Unlock()
			if connected {
				log.Debug("[%s] Already connected", h)
				c.spawn(func() { c.getDelegate().DidConnect(h) })
			} else {
				log.Debug("[%s] Already connecting", h)
			}
			return
		}
		log.Debug("[%s] Replacing connection that is closing", h)
		delete(c.links, h)
	}
	ctx, cancel := context.WithCancel(c.ctx)
	l := &link{handle: h, cancel: cancel}
	c.links[h] = l
	c.lock.Unlock()

	c.spawn(func() { c.dial(ctx, l) })
}

func (c *Central) dial(ctx context.Context, l *link) {
	fail := func(err error) {
		if !c.remove(l) {
			log.Debug("[%s] Abandoned dial ended: %s", l.handle, err)
			return
		}
		c.getDelegate().DidFailToConnect(l.handle, protocol.NewTransportError("connect", string(l.handle), err))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		fail(err)
		return
	}
	log.Debug("[%s] Dialing...", l.handle)
	client, err := c.device.Dial(ctx, ble.NewAddr(string(l.handle)))
	if err != nil {
		fail(err)
		return
	}

	c.lock.Lock()
	if l.requested || c.links[l.handle] != l {
		c.lock.Unlock()
		_ = client.CancelConnection()
		fail(context.Canceled)
		return
	}
	l.client = client
	c.lock.Unlock()

	c.spawn(func() { c.watch(l) })
	c.getDelegate().DidConnect(l.handle)
}

func (c *Central) watch(l *link) {
	select {
	case <-l.client.Disconnected():
	case <-c.ctx.Done():
		return
	}
	c.lock.Lock()
	requested := l.requested
	c.lock.Unlock()
	if !c.remove(l) {
		log.Debug("[%s] Replaced connection closed", l.handle)
		return
	}

	var err error
	if !requested {
		err = protocol.NewTransportError("disconnect", string(l.handle), ErrLinkLost)
	}
	c.getDelegate().DidDisconnect(l.handle, err)
}

// remove forgets l and returns true if it was still the current link to its peer.
func (c *Central) remove(l *link) bool {
	c.lock.Lock()
	current := c.links[l.handle] == l
	if current {
		delete(c.links, l.handle)
	}
	c.lock.Unlock()
	l.cancel()
	return current
}

// dropLinks forgets every link without reporting disconnects or failed dials. Used when the radio
// goes away.
func (c *Central) dropLinks() {
	c.lock.Lock()
	links := c.links
	c.links = make(map[connector.PeerHandle]*link)
	for _, l := range links {
		l.requested = true
	}
	c.lock.Unlock()
	for _, l := range links {
		l.cancel()
	}
}

// Disconnect cancels a pending dial or closes an established connection. The resulting
// DidDisconnect carries a nil error.
func (c *Central) Disconnect(h connector.PeerHandle) {
	c.lock.Lock()
	l, ok := c.links[h]
	var client ble.Client
	if ok {
		l.requested = true
		client = l.client
	}
	c.lock.Unlock()
	if !ok {
		return
	}
	if client == nil {
		l.cancel()
		return
	}
	c.spawn(func() {
		if err := client.CancelConnection(); err != nil {
			log.Warning("[%s] Failed to disconnect: %s", h, err)
		}
	})
}

func (c *Central) connected(h connector.PeerHandle) (*link, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	l, ok := c.links[h]
	if !ok || l.client == nil {
		return nil, protocol.ErrNotConnected
	}
	return l, nil
}

func (c *Central) characteristic(h connector.PeerHandle, char string) (ble.Client, *ble.Characteristic, error) {
	l, err := c.connected(h)
	if err != nil {
		return nil, nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	ch, ok := l.chars[char]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", protocol.ErrUnknownCharacteristic, char)
	}
	return l.client, ch, nil
}

func (c *Central) DiscoverCharacteristics(h connector.PeerHandle, service string, characteristics []string) {
	c.spawn(func() {
		err := c.discover(h, service, characteristics)
		c.getDelegate().DidDiscoverCharacteristics(h, protocol.NewTransportError("discover", string(h), err))
	})
}

func (c *Central) discover(h connector.PeerHandle, service string, characteristics []string) error {
	l, err := c.connected(h)
	if err != nil {
		return err
	}
	serviceUUID, err := ble.Parse(service)
	if err != nil {
		return err
	}
	wanted, err := parseUUIDs(characteristics)
	if err != nil {
		return err
	}
	services, err := l.client.DiscoverServices([]ble.UUID{serviceUUID})
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return ErrMissingService
	}
	found, err := l.client.DiscoverCharacteristics(wanted, services[0])
	if err != nil {
		return err
	}

	chars := make(map[string]*ble.Characteristic, len(characteristics))
	for i, name := range characteristics {
		for _, ch := range found {
			if ch.UUID.Equal(wanted[i]) {
				chars[name] = ch
			}
		}
		if _, ok := chars[name]; !ok {
			return fmt.Errorf("%w: missing %s", ErrMissingService, name)
		}
	}
	c.lock.Lock()
	l.chars = chars
	c.lock.Unlock()
	return nil
}

func (c *Central) ReadCharacteristic(h connector.PeerHandle, characteristic string) {
	c.spawn(func() {
		value, err := c.read(h, characteristic)
		c.getDelegate().DidReadCharacteristic(h, characteristic, value, protocol.NewTransportError("read", string(h), err))
	})
}

func (c *Central) read(h connector.PeerHandle, characteristic string) ([]byte, error) {
	client, ch, err := c.characteristic(h, characteristic)
	if err != nil {
		return nil, err
	}
	return client.ReadCharacteristic(ch)
}

func (c *Central) WriteCharacteristic(h connector.PeerHandle, characteristic string, value []byte) {
	c.spawn(func() {
		err := c.write(h, characteristic, value)
		c.getDelegate().DidWriteCharacteristic(h, characteristic, protocol.NewTransportError("write", string(h), err))
	})
}

func (c *Central) write(h connector.PeerHandle, characteristic string, value []byte) error {
	client, ch, err := c.characteristic(h, characteristic)
	if err != nil {
		return err
	}
	return client.WriteCharacteristic(ch, value, false)
}

func (c *Central) ReadSignalStrength(h connector.PeerHandle) {
	c.spawn(func() {
		l, err := c.connected(h)
		if err != nil {
			c.getDelegate().DidReadSignalStrength(h, 0, protocol.NewTransportError("rssi", string(h), err))
			return
		}
		c.getDelegate().DidReadSignalStrength(h, float64(l.client.ReadRSSI()), nil)
	})
}

// Close stops scanning, drops every connection and waits for outstanding operations. It does not
// stop the device, which may be shared with a Peripheral.
func (c *Central) Close() error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	var clients []ble.Client
	for _, l := range c.links {
		l.requested = true
		if l.client != nil {
			clients = append(clients, l.client)
		}
	}
	c.lock.Unlock()

	var err error
	for _, client := range clients {
		err = multierr.Append(err, client.CancelConnection())
	}
	c.cancel()
	c.wg.Wait()
	return err
}

func parseUUIDs(values []string) ([]ble.UUID, error) {
	out := make([]ble.UUID, 0, len(values))
	for _, v := range values {
		u, err := ble.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", v, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func advertises(a ble.Advertisement, filter []ble.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range a.Services() {
		for _, f := range filter {
			if s.Equal(f) {
				return true
			}
		}
	}
	return false
}

// txPowerUnknown is what HCI reports when the power level is unavailable. go-ble reports a missing
// TX power level as zero, which we also treat as absent.
const txPowerUnknown = 127

func toAdvertisement(a ble.Advertisement) connector.Advertisement {
	adv := connector.Advertisement{
		Handle:           connector.PeerHandle(a.Addr().String()),
		LocalName:        a.LocalName(),
		ManufacturerData: a.ManufacturerData(),
		RSSI:             float64(a.RSSI()),
	}
	if level := a.TxPowerLevel(); level != 0 && level != txPowerUnknown {
		power := float64(level)
		adv.TxPower = &power
	}
	return adv
}
