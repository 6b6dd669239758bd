/*
Package cli facilitates building command-line applications around the proximity engine. It defines
a [Config] type that can be used to register common command-line flags (using the Golang flag
package) and environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface to read the local ephemeral identifier
from an OS-dependent credential store, where the identifier generator publishes it.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for the radio, storage, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	config.LoadCredentials()          // Prompt for Keyring password if needed

	radio, err := config.OpenRadio()
	if err != nil {
		panic(err)
	}
	defer radio.Close()

	store, err := config.OpenStore()
	if err != nil {
		panic(err)
	}
	defer store.Close()

	records, err := config.LoadRecordCache()
	...
	defer config.SaveRecordCache(records)

Use a [Flag] mask to control what [Config] fields are populated. Note that config.Flags must be set
before calling [flag.Parse] or [Config.ReadFromEnvironment]:

	config, err = NewConfig(FlagBLE | FlagIdentity) // Scan and advertise, keep records in memory.
	config, err = NewConfig(FlagBLE)                 // Scan only tools, e.g. cmd/ble-scan.
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/99designs/keyring"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/cache"
	"github.com/opencontact/proximity/pkg/central"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/engine"
	"github.com/opencontact/proximity/pkg/identity"
	"github.com/opencontact/proximity/pkg/store/badgerstore"
)

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvBtAdapter       = "PROXIMITY_BT_ADAPTER"
	EnvLocalName       = "PROXIMITY_BLE_NAME"
	EnvStorePath       = "PROXIMITY_STORE_PATH"
	EnvRecordCacheFile = "PROXIMITY_RECORD_CACHE"
	EnvIdentityName    = "PROXIMITY_IDENTITY_NAME"
	EnvIdentity        = "PROXIMITY_IDENTITY"
	EnvMetricsAddr     = "PROXIMITY_METRICS_ADDR"
	EnvReconnectDelay  = "PROXIMITY_RECONNECT_DELAY"
	EnvContinuation    = "PROXIMITY_CONTINUATION"
	EnvScanRestart     = "PROXIMITY_SCAN_RESTART"
	EnvThrottleWindow  = "PROXIMITY_THROTTLE_WINDOW"
	EnvKeyringType     = "PROXIMITY_KEYRING_TYPE"
	EnvKeyringPass     = "PROXIMITY_KEYRING_PASSWORD"
	EnvKeyringPath     = "PROXIMITY_KEYRING_PATH"
	EnvKeyringDebug    = "PROXIMITY_KEYRING_DEBUG"
)

const defaultMetricsAddr = "127.0.0.1:9464"

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagBLE      Flag = 1  // Enable radio options.
	FlagStorage  Flag = 2  // Enable record store and record cache options.
	FlagIdentity Flag = 4  // Enable identifier and keyring options.
	FlagMetrics  Flag = 8  // Enable the metrics endpoint option.
	FlagTiming   Flag = 16 // Enable engine timing options.
	FlagAll      Flag = FlagBLE | FlagStorage | FlagIdentity | FlagMetrics | FlagTiming
)

var (
	ErrNoIdentitySpecified = errors.New("ephemeral identifier location not provided")
	ErrKeyNotFound         = keyring.ErrKeyNotFound
)

// Config fields determine how the engine reaches the radio, where it keeps records and which
// identifier it advertises.
type Config struct {
	Flags Flag // Controls which set of environment variables/CLI flags to use.

	BtAdapterID string // Bluetooth adapter, e.g. hci0
	LocalName   string // Name advertised by the peripheral role

	StorePath       string // Directory of the durable record store
	RecordCacheFile string // File holding the last saved record per peer

	IdentityName   string // Keyring entry holding the ephemeral identifier
	StaticIdentity string // Fixed identifier, for testing

	MetricsAddr string

	ReconnectDelay       time.Duration
	ContinuationDuration time.Duration
	ScanRestartInterval  time.Duration
	ThrottleWindow       time.Duration

	Backend     keyring.Config
	BackendType backendType
	Debug       bool // Enable keyring debug messages

	password *string
	ring     keyring.Keyring
	ids      identity.Source
	flags    *flag.FlagSet
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

// RegisterCommandLineFlags registers c's options with the default flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

// RegisterFlags registers c's options with fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	if c.Flags.isSet(FlagBLE) {
		fs.StringVar(&c.LocalName, "ble-name", "", "Local `name` to advertise. Defaults to $"+EnvLocalName+".")
		c.registerFlagsOsSpecific(fs)
	}
	if c.Flags.isSet(FlagStorage) {
		fs.StringVar(&c.StorePath, "store", "", "Keep contact records in `directory`. Records are kept in memory if unset. Defaults to $"+EnvStorePath+".")
		fs.StringVar(&c.RecordCacheFile, "record-cache", "", "Load and save the last record of each peer to `file`. Defaults to $"+EnvRecordCacheFile+".")
	}
	if c.Flags.isSet(FlagIdentity) {
		fs.StringVar(&c.IdentityName, "identity-name", "", "System keyring `name` of the ephemeral identifier. Defaults to $"+EnvIdentityName+".")
		fs.StringVar(&c.StaticIdentity, "identity", "", "Advertise a fixed `identifier` (testing only). Defaults to $"+EnvIdentity+".")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $"+EnvKeyringType+".")
		fs.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	if c.Flags.isSet(FlagMetrics) {
		fs.StringVar(&c.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on `address`. Defaults to $"+EnvMetricsAddr+" or "+defaultMetricsAddr+".")
	}
	if c.Flags.isSet(FlagTiming) {
		c.flags = fs
		fs.DurationVar(&c.ReconnectDelay, "reconnect-delay", 0, "Wait `duration` before reconnecting to a dropped peer")
		fs.DurationVar(&c.ContinuationDuration, "continuation", 0, "Keep a dropped peer alive for at most `duration`")
		fs.DurationVar(&c.ScanRestartInterval, "scan-restart", central.DefaultScanRestartInterval, "Restart scanning every `duration`, letting nearby peers be contacted again (negative disables). Defaults to $"+EnvScanRestart+".")
		fs.DurationVar(&c.ThrottleWindow, "throttle", 0, "Save at most one record per peer every `duration`")
	}
}

// LoadCredentials attempts to open a keyring, prompting for a password if needed. Call this method
// before starting the engine to prevent interactive prompts from blocking the radio.
func (c *Config) LoadCredentials() error {
	if !c.Flags.isSet(FlagIdentity) {
		return nil
	}
	ids, err := c.IdentitySource()
	if err != nil {
		return err
	}
	if _, err := ids.Current(); err != nil {
		log.Warning("No ephemeral identifier available yet: %s", err)
	}
	return nil
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagBLE) {
		if c.BtAdapterID == "" {
			c.BtAdapterID = os.Getenv(EnvBtAdapter)
			log.Debug("Set Bluetooth adapter to '%s'", c.BtAdapterID)
		}
		if c.LocalName == "" {
			c.LocalName = os.Getenv(EnvLocalName)
			log.Debug("Set local name to '%s'", c.LocalName)
		}
	}
	if c.Flags.isSet(FlagStorage) {
		if c.StorePath == "" {
			c.StorePath = os.Getenv(EnvStorePath)
			log.Debug("Set record store to '%s'", c.StorePath)
		}
		if c.RecordCacheFile == "" {
			c.RecordCacheFile = os.Getenv(EnvRecordCacheFile)
			log.Debug("Set record cache file to '%s'", c.RecordCacheFile)
		}
	}
	if c.Flags.isSet(FlagIdentity) {
		if c.IdentityName == "" && c.StaticIdentity == "" {
			c.IdentityName = os.Getenv(EnvIdentityName)
			log.Debug("Set identifier name to '%s'", c.IdentityName)

			c.StaticIdentity = os.Getenv(EnvIdentity)
			log.Debug("Set static identifier to '%s'", c.StaticIdentity)
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
	if c.Flags.isSet(FlagMetrics) && c.MetricsAddr == "" {
		c.MetricsAddr = os.Getenv(EnvMetricsAddr)
		if c.MetricsAddr == "" {
			c.MetricsAddr = defaultMetricsAddr
		}
		log.Debug("Set metrics address to '%s'", c.MetricsAddr)
	}
	if c.Flags.isSet(FlagTiming) {
		durationFromEnv(&c.ReconnectDelay, EnvReconnectDelay)
		durationFromEnv(&c.ContinuationDuration, EnvContinuation)
		if !c.flagPassed("scan-restart") {
			// The flag default is not an explicit choice.
			overrideDurationFromEnv(&c.ScanRestartInterval, EnvScanRestart)
		}
		durationFromEnv(&c.ThrottleWindow, EnvThrottleWindow)
	}
}

func (c *Config) flagPassed(name string) bool {
	passed := false
	if c.flags != nil {
		c.flags.Visit(func(f *flag.Flag) {
			if f.Name == name {
				passed = true
			}
		})
	}
	return passed
}

func durationFromEnv(d *time.Duration, name string) {
	if *d != 0 {
		return
	}
	overrideDurationFromEnv(d, name)
}

func overrideDurationFromEnv(d *time.Duration, name string) {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Warning("Ignoring $%s: %s", name, err)
		return
	}
	*d = parsed
	log.Debug("Set %s to %s", name, parsed)
}

// EngineConfig returns the engine configuration selected by c. Unset timing options keep the
// engine defaults.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if c.ReconnectDelay > 0 {
		cfg.ReconnectDelay = c.ReconnectDelay
	}
	if c.ContinuationDuration > 0 {
		cfg.ContinuationDuration = c.ContinuationDuration
	}
	if c.ScanRestartInterval != 0 {
		cfg.ScanRestartInterval = c.ScanRestartInterval
	}
	if c.ThrottleWindow > 0 {
		cfg.ThrottleWindow = c.ThrottleWindow
	}
	return cfg
}

// IdentitySource returns the identifier source selected by c: a fixed identifier if one was
// provided, otherwise the configured keyring entry. Without either, it falls back to random
// identifiers.
//
// The source is created on first use, and subsequent calls return the same source.
func (c *Config) IdentitySource() (identity.Source, error) {
	if c.ids != nil {
		return c.ids, nil
	}
	switch {
	case c.StaticIdentity != "":
		log.Warning("Advertising a fixed identifier; peers can track this device")
		c.ids = identity.Static(c.StaticIdentity)
	case c.IdentityName != "":
		kr, err := c.openKeyring()
		if err != nil {
			return nil, err
		}
		c.ids = identity.NewKeyringSource(kr, c.fullIdentityName(), nil)
	default:
		if c.Flags.isSet(FlagIdentity) {
			log.Warning("No identifier configured; using random identifiers")
		}
		c.ids = identity.NewRandomSource(nil, 0)
	}
	return c.ids, nil
}

// OpenStore opens the durable record store, or an in-memory store if c.StorePath is not set.
func (c *Config) OpenStore() (contact.Archive, error) {
	if c.StorePath == "" {
		log.Warning("No record store configured; contact records are kept in memory")
		return contact.NewMemoryStore(), nil
	}
	log.Debug("Opening record store at %s...", c.StorePath)
	store, err := badgerstore.Open(badgerstore.Options{Path: c.StorePath, SyncWrites: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return store, nil
}

// LoadRecordCache loads the record cache from c.RecordCacheFile. A new cache is returned if the
// file is not set or does not exist yet.
func (c *Config) LoadRecordCache() (*cache.RecordCache, error) {
	if c.RecordCacheFile == "" {
		return cache.New(0), nil
	}
	log.Debug("Loading record cache from %s...", c.RecordCacheFile)
	records, err := cache.ImportFromFile(c.RecordCacheFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load record cache: %s", err)
		}
		// Create a new cache if one couldn't be loaded from the file
		records = cache.New(0)
	}
	return records, nil
}

// SaveRecordCache writes records to c.RecordCacheFile.
//
// If c.RecordCacheFile is not set, then this method does nothing.
func (c *Config) SaveRecordCache(records *cache.RecordCache) {
	if c.RecordCacheFile != "" && records != nil {
		if err := records.ExportToFile(c.RecordCacheFile); err != nil {
			log.Error("Error updating record cache: %s", err)
		}
	}
}
