package ble

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/opencontact/proximity/pkg/protocol"
)

// ErrPlatformUnsupported is returned by OpenDevice on platforms without a go-ble backend.
var ErrPlatformUnsupported = protocol.NewError("bluetooth LE is not supported on windows", false)

func OpenDevice(adapter string) (ble.Device, error) {
	if adapter != "" {
		return nil, fmt.Errorf("adapter %q: %w", adapter, ErrPlatformUnsupported)
	}
	return nil, ErrPlatformUnsupported
}

// IsAdapterError returns true if err came from OpenDevice. No adapter can be opened on Windows.
func IsAdapterError(err error) bool {
	return errors.Is(err, ErrPlatformUnsupported)
}

func AdapterErrorHelpMessage(err error) string {
	if IsAdapterError(err) {
		return fmt.Sprintf("%s. Run proximityd on Linux or macOS.", err)
	}
	return err.Error()
}
