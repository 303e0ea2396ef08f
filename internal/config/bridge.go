package config

import (
	"os"
	"time"
)

// BridgeJournal configures the local bbolt journal of sent changes.
type BridgeJournal struct {
	// Path of the bbolt file. Empty disables the journal.
	Path string `toml:"path"`
}

// BridgeDiscovery controls relay lookup over mDNS.
type BridgeDiscovery struct {
	Enabled bool     `toml:"enabled"`
	Timeout Duration `toml:"timeout"`
}

// Bridge is the bridge configuration.
type Bridge struct {
	RelayAddr    string          `toml:"relay_addr"`
	EchoTimeout  Duration        `toml:"echo_timeout"`
	OutboxSize   int             `toml:"outbox_size"`
	UnitChanges  bool            `toml:"unit_changes"`
	DialAttempts int             `toml:"dial_attempts"`
	WriteTimeout Duration        `toml:"write_timeout"`
	Log          Log             `toml:"log"`
	Telemetry    Telemetry       `toml:"telemetry"`
	Journal      BridgeJournal   `toml:"journal"`
	Discovery    BridgeDiscovery `toml:"discovery"`
}

// DefaultBridge returns the built-in bridge defaults.
func DefaultBridge() Bridge {
	return Bridge{
		RelayAddr:    "ws://127.0.0.1:7575/ws",
		EchoTimeout:  Duration(200 * time.Millisecond),
		OutboxSize:   256,
		DialAttempts: 5,
		WriteTimeout: Duration(5 * time.Second),
		Log:          Log{Level: "info", Format: "console"},
		Discovery:    BridgeDiscovery{Timeout: Duration(5 * time.Second)},
	}
}

// LoadBridge resolves the bridge configuration from defaults, the file at
// path (optional) and the environment.
func LoadBridge(path string) (Bridge, error) {
	cfg := DefaultBridge()
	if err := readFile(path, &cfg); err != nil {
		return Bridge{}, err
	}
	if v := os.Getenv("CODLAB_RELAY_ADDR"); v != "" {
		cfg.RelayAddr = v
	}
	if err := cfg.Validate(); err != nil {
		return Bridge{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Bridge) Validate() error {
	if c.RelayAddr == "" && !c.Discovery.Enabled {
		return invalid("relay_addr is empty and discovery is disabled")
	}
	if c.EchoTimeout <= 0 {
		return invalid("echo_timeout must be positive")
	}
	if c.OutboxSize <= 0 {
		return invalid("outbox_size must be positive")
	}
	if c.DialAttempts <= 0 {
		return invalid("dial_attempts must be positive")
	}
	if c.WriteTimeout <= 0 {
		return invalid("write_timeout must be positive")
	}
	if c.Discovery.Enabled && c.Discovery.Timeout <= 0 {
		return invalid("discovery timeout must be positive")
	}
	return nil
}
