package cli

import (
	"go.uber.org/multierr"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/connector/ble"
	"github.com/opencontact/proximity/pkg/connector/bluez"
)

// Radio bundles the transports opened by [Config.OpenRadio].
type Radio struct {
	Central    *ble.Central
	Peripheral *ble.Peripheral
	Monitor    *bluez.Monitor // nil if BlueZ is not reachable

	device interface{ Stop() error }
}

// OpenRadio opens the configured Bluetooth adapter for both roles. Radio state changes are taken
// from BlueZ when its D-Bus service is reachable.
func (c *Config) OpenRadio() (*Radio, error) {
	device, err := ble.OpenDevice(c.BtAdapterID)
	if err != nil {
		return nil, err
	}
	r := &Radio{device: device}

	opts := ble.CentralOptions{}
	if monitor, err := bluez.Connect(c.BtAdapterID); err != nil {
		log.Warning("Radio state changes will not be reported: %s", err)
	} else {
		r.Monitor = monitor
		opts.Monitor = monitor
	}
	r.Central = ble.NewCentral(device, opts)
	r.Peripheral = ble.NewPeripheral(device, c.LocalName)
	return r, nil
}

// Close releases the transports and the adapter.
func (r *Radio) Close() error {
	r.Peripheral.StopAdvertising()
	err := r.Central.Close()
	if r.Monitor != nil {
		err = multierr.Append(err, r.Monitor.Close())
	}
	return multierr.Append(err, r.device.Stop())
}
