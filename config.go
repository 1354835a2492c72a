package msgbus

import (
	"crypto/tls"
	"encoding/json"
	"os"
	"time"
)

// Config configures one Bus instance. Mirrors server/config.go's flat
// JSON-taggable struct plus parseJSONConfig free function; cmd/busctl
// layers urfave/cli flags over its own mirror of this struct and copies
// the fields across.
type Config struct {
	// Identity names this bus in its log prefix and in diagnostics rows.
	Identity string `json:"identity"`

	// Listen is the "host:port" this bus accepts incoming connections on.
	// Empty means the bus never listens.
	Listen string `json:"listen"`

	// AuthToken is the shared secret exchanged as the first frame on
	// every connection. Empty disables authentication.
	AuthToken string `json:"auth_token"`

	// TLSConfig configures both the listener and outgoing dials. Nil
	// means plain TCP.
	TLSConfig *tls.Config `json:"-"`

	// NoExtraSizeCheck disables the duplicate trailing length suffix that
	// every frame otherwise carries for corruption detection (spec.md
	// §4.1, §6: "extra_size_check ... default on"). Both ends of a
	// connection must agree on this setting; the zero value keeps the
	// check on, matching the spec's default.
	NoExtraSizeCheck bool `json:"no_extra_size_check"`

	// MaxWriteQueueBytes is the initial byte cap handed to
	// BytecountLimitedQueue; SetMaxWriteQueueSize changes it later.
	MaxWriteQueueBytes int `json:"max_write_queue_bytes"`

	// WantCompression wraps every connection's socket in snappy
	// compression (internal/comp) before framing.
	WantCompression bool `json:"want_compression"`

	// PendingConnectRecheck is how long closeConnection waits before
	// retrying a disconnect against a still-PendingConnect id (spec.md
	// §4.7; default 100ms matches the spec's literal value).
	PendingConnectRecheck time.Duration `json:"-"`

	// Log names a file to redirect the bus's logger to; empty keeps
	// stderr (mirrors config.Log in server/config.go).
	Log string `json:"log"`

	// StatsLog names a CSV diagnostics file (time.Format-aware, like
	// config.SnmpLog); empty disables diagnostics.
	StatsLog string `json:"stats_log"`
	// StatsPeriod is how often a diagnostics row is appended.
	StatsPeriod time.Duration `json:"-"`
}

// DefaultPendingConnectRecheck is the spec's literal 100ms re-check
// interval for closeConnection against a still-connecting id.
const DefaultPendingConnectRecheck = 100 * time.Millisecond

// DefaultStatsPeriod matches server/config.go's SnmpPeriod default of 60
// seconds.
const DefaultStatsPeriod = 60 * time.Second

// withDefaults fills zero-valued fields that must never be left at their
// Go zero value.
func (c Config) withDefaults() Config {
	if c.PendingConnectRecheck == 0 {
		c.PendingConnectRecheck = DefaultPendingConnectRecheck
	}
	if c.StatsPeriod == 0 {
		c.StatsPeriod = DefaultStatsPeriod
	}
	return c
}

// parseJSONConfig loads JSON-tagged fields of cfg from path, overriding
// whatever was already set (identical precedence to server/config.go:
// command-line flags populate cfg first, then parseJSONConfig overrides
// if "-c" was given).
func parseJSONConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cfg)
}
