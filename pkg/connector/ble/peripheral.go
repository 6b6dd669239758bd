package ble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/connector"
)

// DefaultLocalName is advertised alongside the contact service.
const DefaultLocalName = "proximity"

// Peripheral implements connector.Peripheral on top of a go-ble Device.
type Peripheral struct {
	device ble.Device
	name   string

	lock   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ connector.Peripheral = (*Peripheral)(nil)

// NewPeripheral returns a Peripheral advertising as name. An empty name selects
// DefaultLocalName.
func NewPeripheral(device ble.Device, name string) *Peripheral {
	if name == "" {
		name = DefaultLocalName
	}
	return &Peripheral{device: device, name: name}
}

// StartAdvertising publishes service with the given characteristics and advertises it until
// StopAdvertising. Reads and writes of each characteristic are forwarded to handler. Calling
// StartAdvertising again replaces the previous service.
func (p *Peripheral) StartAdvertising(service string, characteristics []string, handler connector.PeripheralHandler) error {
	p.StopAdvertising()

	svc, err := newService(service, characteristics, handler)
	if err != nil {
		return err
	}
	if err := p.device.SetServices([]*ble.Service{svc}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.lock.Lock()
	p.cancel, p.done = cancel, done
	p.lock.Unlock()

	go func() {
		defer close(done)
		err := p.device.AdvertiseNameAndServices(ctx, p.name, svc.UUID)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Advertising stopped: %s", err)
		}
	}()
	return nil
}

// StopAdvertising stops advertising and waits for the advertiser to exit. Published services stay
// registered until the next StartAdvertising.
func (p *Peripheral) StopAdvertising() {
	p.lock.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.lock.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func newService(service string, characteristics []string, handler connector.PeripheralHandler) (*ble.Service, error) {
	serviceUUID, err := ble.Parse(service)
	if err != nil {
		return nil, err
	}
	uuids, err := parseUUIDs(characteristics)
	if err != nil {
		return nil, err
	}
	svc := ble.NewService(serviceUUID)
	for i, name := range characteristics {
		name := name
		char := svc.NewCharacteristic(uuids[i])
		char.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			serveRead(handler, name, req, rsp)
		}))
		char.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			serveWrite(handler, name, req, rsp)
		}))
	}
	return svc, nil
}

func remoteHandle(req ble.Request) connector.PeerHandle {
	return connector.PeerHandle(req.Conn().RemoteAddr().String())
}

// serveRead answers both plain and blob reads; long values are read in several requests with
// increasing offsets.
func serveRead(handler connector.PeripheralHandler, characteristic string, req ble.Request, rsp ble.ResponseWriter) {
	value := handler.OnRead(remoteHandle(req), characteristic)
	if len(value) == 0 {
		rsp.SetStatus(ble.ErrUnlikely)
		return
	}
	offset := req.Offset()
	if offset > len(value) {
		rsp.SetStatus(ble.ErrInvalidOffset)
		return
	}
	value = value[offset:]
	if n := rsp.Cap(); n > 0 && len(value) > n {
		value = value[:n]
	}
	if _, err := rsp.Write(value); err != nil {
		log.Warning("[%s] Failed to answer read: %s", remoteHandle(req), err)
	}
}

func serveWrite(handler connector.PeripheralHandler, characteristic string, req ble.Request, rsp ble.ResponseWriter) {
	if !handler.OnWrite(remoteHandle(req), characteristic, req.Data()) {
		rsp.SetStatus(ble.ErrWriteNotPerm)
	}
}
