// Command ble-scan checks that a Bluetooth adapter can be opened and lists the proximity devices
// it hears until interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/central"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/connector/ble"
	"github.com/opencontact/proximity/pkg/connector/bluez"
	"github.com/opencontact/proximity/pkg/protocol"
)

var (
	btAdapter = flag.String("bt-adapter", "", "Optional ID of Bluetooth adapter to use (Linux only)")
	scanAll   = flag.Bool("all", false, "List every advertising device, not only proximity devices")
	repeat    = flag.Bool("repeat", false, "Print every advertisement instead of the first one per device")
)

// printer reports scan results. Connection callbacks are never triggered by a scan.
type printer struct {
	lock sync.Mutex
	seen map[string]int
}

func (p *printer) DidUpdateState(state connector.RadioState) {
	log.Info("Radio is %s", state)
}

func (p *printer) DidDiscover(adv connector.Advertisement) {
	key := string(adv.Handle)
	if len(adv.ManufacturerData) > 0 {
		key = central.Fingerprint(adv.ManufacturerData)
	}
	p.lock.Lock()
	p.seen[key]++
	count := p.seen[key]
	p.lock.Unlock()
	if count > 1 && !*repeat {
		return
	}

	tx := "-"
	if adv.TxPower != nil {
		tx = fmt.Sprintf("%.0f", *adv.TxPower)
	}
	fmt.Printf("%s\tname=%q\trssi=%.0f\ttx=%s\tpeer=%s\n", adv.Handle, adv.LocalName, adv.RSSI, tx, key)
}

func (p *printer) DidConnect(connector.PeerHandle) {}
func (p *printer) DidFailToConnect(connector.PeerHandle, error) {}
func (p *printer) DidDisconnect(connector.PeerHandle, error) {}
func (p *printer) DidDiscoverCharacteristics(connector.PeerHandle, error) {}
func (p *printer) DidReadCharacteristic(connector.PeerHandle, string, []byte, error) {}
func (p *printer) DidWriteCharacteristic(connector.PeerHandle, string, error) {}
func (p *printer) DidReadSignalStrength(connector.PeerHandle, float64, error) {}

func main() {
	flag.Parse()
	log.SetLevel(log.LevelDebug)

	if *btAdapter != "" {
		log.Info("Trying to use BLE adapter: %s", *btAdapter)
	} else {
		log.Info("Using first available BLE device")
	}
	device, err := ble.OpenDevice(*btAdapter)
	if err != nil {
		if ble.IsAdapterError(err) {
			log.Error("%s", ble.AdapterErrorHelpMessage(err))
		} else if strings.Contains(err.Error(), "no devices") {
			log.Error("No BLE device found")
		} else {
			log.Error("Failed to initialize BLE device: %v", err)
		}
		os.Exit(1)
	}
	defer device.Stop()
	log.Info("BLE adapter initialized")

	opts := ble.CentralOptions{}
	if monitor, err := bluez.Connect(*btAdapter); err == nil {
		defer monitor.Close()
		opts.Monitor = monitor
	}
	c := ble.NewCentral(device, opts)
	defer c.Close()

	c.SetDelegate(&printer{seen: make(map[string]int)})
	var services []string
	if !*scanAll {
		services = []string{protocol.ServiceUUID}
	}
	c.StartScanning(services)
	log.Info("Scanning for BLE devices until interrupted")

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
	log.Info("Stopping scan")
	c.StopScanning()
}
