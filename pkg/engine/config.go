package engine

import (
	"time"

	"github.com/opencontact/proximity/pkg/cache"
	"github.com/opencontact/proximity/pkg/central"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/protocol"
)

// Config holds the engine's tunables. Zero fields fall back to the values of DefaultConfig.
type Config struct {
	Service        string
	Characteristic string

	ReconnectDelay       time.Duration
	ContinuationDuration time.Duration
	// ScanRestartInterval bounds how long a peer stays deduplicated. A negative interval disables
	// periodic scan restarts.
	ScanRestartInterval time.Duration
	ThrottleWindow      time.Duration
	// RecordCacheSize bounds the number of peers whose last saved record is remembered.
	RecordCacheSize int
}

func DefaultConfig() Config {
	return Config{
		Service:              protocol.ServiceUUID,
		Characteristic:       protocol.ContactCharacteristicUUID,
		ReconnectDelay:       central.DefaultReconnectDelay,
		ContinuationDuration: central.DefaultContinuationDuration,
		ScanRestartInterval:  central.DefaultScanRestartInterval,
		ThrottleWindow:       contact.DefaultThrottleWindow,
		RecordCacheSize:      cache.DefaultMaxEntries,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Service == "" {
		c.Service = d.Service
	}
	if c.Characteristic == "" {
		c.Characteristic = d.Characteristic
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.ContinuationDuration <= 0 {
		c.ContinuationDuration = d.ContinuationDuration
	}
	if c.ScanRestartInterval == 0 {
		c.ScanRestartInterval = d.ScanRestartInterval
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = d.ThrottleWindow
	}
	if c.RecordCacheSize <= 0 {
		c.RecordCacheSize = d.RecordCacheSize
	}
}
