package config

import (
	"os"
	"strings"
	"time"
)

// Journal drivers accepted by the relay.
const (
	JournalNone     = "none"
	JournalMemory   = "memory"
	JournalPostgres = "postgres"
	JournalRedis    = "redis"
	JournalSQLite   = "sqlite"
)

// RelayJournal selects where relayed changes are recorded. Every mirror
// receives the same entries as the primary driver.
type RelayJournal struct {
	Driver  string         `toml:"driver"`
	DSN     string         `toml:"dsn"`
	Mirrors []RelayJournal `toml:"mirror"`
}

// RelayDiscovery controls mDNS advertisement.
type RelayDiscovery struct {
	Enabled  bool   `toml:"enabled"`
	Instance string `toml:"instance"`
}

// Relay is the relay configuration.
type Relay struct {
	ListenAddr            string         `toml:"listen_addr"`
	WSPath                string         `toml:"ws_path"`
	WriteTimeout          Duration       `toml:"write_timeout"`
	MaxInflightBroadcasts int            `toml:"max_inflight_broadcasts"`
	MaxMessagesPerSecond  float64        `toml:"max_messages_per_second"`
	Log                   Log            `toml:"log"`
	Telemetry             Telemetry      `toml:"telemetry"`
	Journal               RelayJournal   `toml:"journal"`
	Discovery             RelayDiscovery `toml:"discovery"`
}

// DefaultRelay returns the built-in relay defaults.
func DefaultRelay() Relay {
	return Relay{
		ListenAddr:            "0.0.0.0:7575",
		WSPath:                "/ws",
		WriteTimeout:          Duration(5 * time.Second),
		MaxInflightBroadcasts: 64,
		Log:                   Log{Level: "info", Format: "console"},
		Journal:               RelayJournal{Driver: JournalNone},
	}
}

// LoadRelay resolves the relay configuration from defaults, the file at
// path (optional) and the environment.
func LoadRelay(path string) (Relay, error) {
	cfg := DefaultRelay()
	if err := readFile(path, &cfg); err != nil {
		return Relay{}, err
	}

	if v := os.Getenv("CODLAB_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	// Conventional variables, used only when the file leaves the dsn empty.
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Journal.Driver == JournalPostgres && cfg.Journal.DSN == "" {
		cfg.Journal.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" && cfg.Journal.Driver == JournalRedis && cfg.Journal.DSN == "" {
		cfg.Journal.DSN = v
	}

	if err := cfg.Validate(); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and fills driver defaults.
func (c *Relay) Validate() error {
	if c.ListenAddr == "" {
		return invalid("listen_addr is empty")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return invalid("ws_path %q must start with /", c.WSPath)
	}
	if c.WriteTimeout <= 0 {
		return invalid("write_timeout must be positive")
	}
	if c.MaxInflightBroadcasts <= 0 {
		return invalid("max_inflight_broadcasts must be positive")
	}
	if c.MaxMessagesPerSecond < 0 {
		return invalid("max_messages_per_second must not be negative")
	}

	if err := c.Journal.validate(); err != nil {
		return err
	}
	for i := range c.Journal.Mirrors {
		m := &c.Journal.Mirrors[i]
		if len(m.Mirrors) > 0 {
			return invalid("journal mirror %d has mirrors of its own", i)
		}
		if err := m.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (j *RelayJournal) validate() error {
	if j.Driver == "" {
		j.Driver = JournalNone
	}
	switch j.Driver {
	case JournalNone, JournalMemory:
	case JournalPostgres, JournalSQLite:
		if j.DSN == "" {
			return invalid("journal driver %s needs a dsn", j.Driver)
		}
	case JournalRedis:
		if j.DSN == "" {
			j.DSN = "localhost:6379"
		}
	default:
		return invalid("unknown journal driver %q", j.Driver)
	}
	return nil
}
