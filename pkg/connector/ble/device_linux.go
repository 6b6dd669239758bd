package ble

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

const bleTimeout = 20 * time.Second

// Contact advertisements are short and frequent, so scan actively with a window covering the
// whole interval.
var scanParams = cmd.LESetScanParameters{
	LEScanType:           1,    // Active scanning
	LEScanInterval:       0x60, // 60ms
	LEScanWindow:         0x60, // 60ms
	OwnAddressType:       0,    // Static
	ScanningFilterPolicy: 0,    // Accept all
}

// OpenDevice opens the HCI controller named by adapter ("hci0", "1", ...). An empty adapter selects
// the first controller.
func OpenDevice(adapter string) (ble.Device, error) {
	opts := []ble.Option{
		ble.OptListenerTimeout(bleTimeout),
		ble.OptDialerTimeout(bleTimeout),
		ble.OptScanParams(scanParams),
	}
	if adapter != "" {
		id, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrAdapterInvalidID, adapter)
		}
		opts = append(opts, ble.OptDeviceID(id))
	}
	device, err := linux.NewDevice(opts...)
	if err != nil {
		return nil, err
	}
	return device, nil
}

// IsAdapterError returns true if err indicates the controller could not be opened.
func IsAdapterError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "operation not permitted")
}

func AdapterErrorHelpMessage(err error) string {
	if IsAdapterError(err) {
		return fmt.Sprintf("%s. Grant the binary raw network access, e.g.\n"+
			"  sudo setcap 'cap_net_admin=eip' \"$(which proximityd)\"\n"+
			"and make sure bluetoothd is not holding the adapter.", err)
	}
	return err.Error()
}
