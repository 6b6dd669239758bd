// Package connector defines the radio transport contracts the engine drives. Concrete
// implementations live in subpackages; the engine only depends on these interfaces.
package connector

import "fmt"

//go:generate mockgen -destination ../../mocks/connector.go -package mocks -mock_names Central=ConnectorCentral,Peripheral=ConnectorPeripheral github.com/opencontact/proximity/pkg/connector Central,Peripheral

// PeerHandle is the transport's native handle for a remote device, e.g. a BLE address.
type PeerHandle string

// RadioState mirrors the lifecycle of the host's Bluetooth controller.
type RadioState int

const (
	RadioStateUnknown RadioState = iota
	RadioStateResetting
	RadioStateUnsupported
	RadioStateUnauthorized
	RadioStatePoweredOff
	RadioStatePoweredOn
)

var radioStateNames = map[RadioState]string{
	RadioStateUnknown:      "unknown",
	RadioStateResetting:    "resetting",
	RadioStateUnsupported:  "unsupported",
	RadioStateUnauthorized: "unauthorized",
	RadioStatePoweredOff:   "powered-off",
	RadioStatePoweredOn:    "powered-on",
}

func (s RadioState) String() string {
	if name, ok := radioStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RadioState(%d)", int(s))
}

// Authorized returns false if the host denied this process access to the radio, or if there is
// no usable radio at all.
func (s RadioState) Authorized() bool {
	return s != RadioStateUnauthorized && s != RadioStateUnsupported
}

// On returns true if the radio can scan, connect and advertise.
func (s RadioState) On() bool {
	return s == RadioStatePoweredOn
}

// Advertisement is a single advertising packet received while scanning.
type Advertisement struct {
	Handle           PeerHandle
	LocalName        string
	ManufacturerData []byte
	// TxPower is nil when the advertisement does not carry a transmit power level.
	TxPower *float64
	RSSI    float64
}

// CentralDelegate receives the results of Central operations. Implementations must tolerate
// callbacks from arbitrary goroutines.
type CentralDelegate interface {
	DidUpdateState(state RadioState)
	DidDiscover(adv Advertisement)
	DidConnect(h PeerHandle)
	DidFailToConnect(h PeerHandle, err error)
	// DidDisconnect reports the end of a connection. err is nil when the disconnect was
	// requested through Central.Disconnect.
	DidDisconnect(h PeerHandle, err error)
	DidDiscoverCharacteristics(h PeerHandle, err error)
	DidReadCharacteristic(h PeerHandle, characteristic string, value []byte, err error)
	DidWriteCharacteristic(h PeerHandle, characteristic string, err error)
	DidReadSignalStrength(h PeerHandle, rssi float64, err error)
}

// Central scans for and connects to peripherals. All operations are asynchronous: they return
// immediately and report their outcome through the CentralDelegate.
type Central interface {
	SetDelegate(delegate CentralDelegate)
	// StartScanning discovers peripherals advertising any of services. Restarting an active scan
	// is allowed.
	StartScanning(services []string)
	StopScanning()
	Connect(h PeerHandle)
	// Disconnect cancels an established or pending connection. It is safe to call for handles
	// that are not connected.
	Disconnect(h PeerHandle)
	DiscoverCharacteristics(h PeerHandle, service string, characteristics []string)
	ReadCharacteristic(h PeerHandle, characteristic string)
	WriteCharacteristic(h PeerHandle, characteristic string, value []byte)
	ReadSignalStrength(h PeerHandle)
}

// PeripheralHandler answers requests from remote centrals. Both methods are called synchronously
// from the transport and their results are sent back to the central.
type PeripheralHandler interface {
	OnRead(central PeerHandle, characteristic string) []byte
	// OnWrite returns false to reject the write.
	OnWrite(central PeerHandle, characteristic string, value []byte) bool
}

// Peripheral advertises a service and serves its characteristics.
type Peripheral interface {
	StartAdvertising(service string, characteristics []string, handler PeripheralHandler) error
	StopAdvertising()
}
