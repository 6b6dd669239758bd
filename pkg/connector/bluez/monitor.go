// Package bluez reports the state of a BlueZ adapter over D-Bus. The go-ble HCI transport talks to
// the controller directly and cannot tell when the adapter is powered off or blocked, so the
// engine learns about those transitions here.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/protocol"
)

const (
	busName          = "org.bluez"
	adapterInterface = "org.bluez.Adapter1"
	propsInterface   = "org.freedesktop.DBus.Properties"
	propsChanged     = propsInterface + ".PropertiesChanged"
	accessDenied     = "org.freedesktop.DBus.Error.AccessDenied"
)

var (
	// ErrNoAdapter indicates BlueZ does not manage any adapter, or not the one requested.
	ErrNoAdapter = protocol.NewError("bluetooth adapter not found", false)
	// ErrMonitorClosed indicates the D-Bus connection went away while watching.
	ErrMonitorClosed = protocol.NewError("bluez monitor closed", true)
)

// Monitor watches the Powered state of one BlueZ adapter.
type Monitor struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
}

// Connect opens the system bus and locates adapter ("hci0"). An empty adapter selects the first one
// BlueZ reports.
func Connect(adapter string) (*Monitor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	path, err := findAdapter(conn, adapter)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Debug("Monitoring %s", path)
	return &Monitor{conn: conn, adapter: path}, nil
}

func findAdapter(conn *dbus.Conn, adapter string) (dbus.ObjectPath, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := conn.Object(busName, "/").Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return "", fmt.Errorf("failed to list bluez objects: %w", err)
	}
	return pickAdapter(objects, adapter)
}

func pickAdapter(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, adapter string) (dbus.ObjectPath, error) {
	var first dbus.ObjectPath
	for path, ifaces := range objects {
		if _, ok := ifaces[adapterInterface]; !ok {
			continue
		}
		if adapter != "" && strings.HasSuffix(string(path), "/"+adapter) {
			return path, nil
		}
		if first == "" || path < first {
			first = path
		}
	}
	if adapter != "" || first == "" {
		return "", fmt.Errorf("%w: %q", ErrNoAdapter, adapter)
	}
	return first, nil
}

// State reads the adapter's current state.
func (m *Monitor) State() (connector.RadioState, error) {
	var props map[string]dbus.Variant
	err := m.conn.Object(busName, m.adapter).Call(propsInterface+".GetAll", 0, adapterInterface).Store(&props)
	if err != nil {
		if isAccessDenied(err) {
			return connector.RadioStateUnauthorized, nil
		}
		return connector.RadioStateUnknown, err
	}
	state, ok := stateFromProperties(props)
	if !ok {
		return connector.RadioStateUnknown, nil
	}
	return state, nil
}

// Watch calls fn with the current state and then with every change until ctx is done or the bus
// connection closes.
func (m *Monitor) Watch(ctx context.Context, fn func(connector.RadioState)) error {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(m.adapter),
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, adapterInterface),
	}
	if err := m.conn.AddMatchSignal(match...); err != nil {
		return fmt.Errorf("failed to subscribe to adapter changes: %w", err)
	}
	defer func() {
		if err := m.conn.RemoveMatchSignal(match...); err != nil {
			log.Debug("Failed to remove match rule: %s", err)
		}
	}()
	signals := make(chan *dbus.Signal, 10)
	m.conn.Signal(signals)
	defer m.conn.RemoveSignal(signals)

	state, err := m.State()
	if err != nil {
		return err
	}
	return watch(ctx, m.adapter, signals, state, fn)
}

func (m *Monitor) Close() error {
	return m.conn.Close()
}

func watch(ctx context.Context, adapter dbus.ObjectPath, signals <-chan *dbus.Signal, state connector.RadioState, fn func(connector.RadioState)) error {
	fn(state)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return ErrMonitorClosed
			}
			next, changed := stateFromSignal(sig, adapter)
			if !changed || next == state {
				continue
			}
			state = next
			fn(state)
		}
	}
}

func stateFromSignal(sig *dbus.Signal, adapter dbus.ObjectPath) (connector.RadioState, bool) {
	if sig == nil || sig.Name != propsChanged || sig.Path != adapter || len(sig.Body) < 2 {
		return connector.RadioStateUnknown, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != adapterInterface {
		return connector.RadioStateUnknown, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return connector.RadioStateUnknown, false
	}
	return stateFromProperties(changed)
}

// stateFromProperties maps Adapter1 properties to a RadioState. PowerState, available since BlueZ
// 5.64, distinguishes transitions and rfkill blocks; older daemons only report Powered.
func stateFromProperties(props map[string]dbus.Variant) (connector.RadioState, bool) {
	if v, ok := props["PowerState"]; ok {
		if s, ok := v.Value().(string); ok {
			switch s {
			case "on":
				return connector.RadioStatePoweredOn, true
			case "off", "off-blocked":
				return connector.RadioStatePoweredOff, true
			case "off-enabling", "on-disabling":
				return connector.RadioStateResetting, true
			}
		}
	}
	if v, ok := props["Powered"]; ok {
		if powered, ok := v.Value().(bool); ok {
			if powered {
				return connector.RadioStatePoweredOn, true
			}
			return connector.RadioStatePoweredOff, true
		}
	}
	return connector.RadioStateUnknown, false
}

func isAccessDenied(err error) bool {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name == accessDenied
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) {
		return ptr.Name == accessDenied
	}
	return false
}
