package ble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"

	"github.com/opencontact/proximity/internal/log"
)

func OpenDevice(adapter string) (ble.Device, error) {
	if adapter != "" {
		log.Warning("BLE adapter ID is not supported on Darwin")
	}
	return darwin.NewDevice()
}

func IsAdapterError(_ error) bool {
	return false
}

func AdapterErrorHelpMessage(err error) string {
	return err.Error()
}
