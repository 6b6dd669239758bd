package engine

import (
	"context"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/connector"
)

// delegate moves central transport callbacks onto the dispatcher.
type delegate struct {
	engine *Engine
}

var _ connector.CentralDelegate = (*delegate)(nil)

func (d *delegate) post(fn func()) {
	if err := d.engine.dispatcher.Post(fn); err != nil {
		log.Debug("Dropping transport callback: %s", err)
	}
}

func (d *delegate) DidUpdateState(state connector.RadioState) {
	d.engine.updateRadio(state)
	d.post(func() { d.engine.radioChanged(state) })
}

func (d *delegate) DidDiscover(adv connector.Advertisement) {
	d.post(func() { d.engine.orchestrator.DidDiscover(adv) })
}

func (d *delegate) DidConnect(h connector.PeerHandle) {
	d.post(func() { d.engine.orchestrator.DidConnect(h) })
}

func (d *delegate) DidFailToConnect(h connector.PeerHandle, err error) {
	d.post(func() { d.engine.orchestrator.DidFailToConnect(h, err) })
}

func (d *delegate) DidDisconnect(h connector.PeerHandle, err error) {
	d.post(func() { d.engine.orchestrator.DidDisconnect(h, err) })
}

func (d *delegate) DidDiscoverCharacteristics(h connector.PeerHandle, err error) {
	d.post(func() { d.engine.orchestrator.DidDiscoverCharacteristics(h, err) })
}

func (d *delegate) DidReadCharacteristic(h connector.PeerHandle, characteristic string, value []byte, err error) {
	d.post(func() { d.engine.orchestrator.DidReadCharacteristic(h, characteristic, value, err) })
}

func (d *delegate) DidWriteCharacteristic(h connector.PeerHandle, characteristic string, err error) {
	d.post(func() { d.engine.orchestrator.DidWriteCharacteristic(h, characteristic, err) })
}

func (d *delegate) DidReadSignalStrength(h connector.PeerHandle, rssi float64, err error) {
	d.post(func() { d.engine.orchestrator.DidReadSignalStrength(h, rssi, err) })
}

// handler answers peripheral requests on the dispatcher and blocks the transport until the answer
// is ready.
type handler struct {
	engine *Engine
}

var _ connector.PeripheralHandler = (*handler)(nil)

func (h *handler) OnRead(central connector.PeerHandle, characteristic string) []byte {
	var value []byte
	err := h.engine.dispatcher.Call(context.Background(), func() {
		value = h.engine.responder.OnRead(central, characteristic)
	})
	if err != nil {
		log.Warning("[%s] Dropping read: %s", central, err)
		return nil
	}
	return value
}

func (h *handler) OnWrite(central connector.PeerHandle, characteristic string, value []byte) bool {
	var accepted bool
	err := h.engine.dispatcher.Call(context.Background(), func() {
		accepted = h.engine.responder.OnWrite(central, characteristic, value)
	})
	if err != nil {
		log.Warning("[%s] Rejecting write: %s", central, err)
		return false
	}
	return accepted
}
