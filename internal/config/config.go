// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keys are hyphenated to match the documented option names (max-active-events, ...).
// - New() returns a Config populated with defaults; Load layers file and env on top.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"fmt"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log-level"`

	// Addr configures the HTTP listen address, e.g. ":9080". Empty disables the read API.
	Addr string `koanf:"addr"`

	// MaxActiveEvents is the active window capacity N.
	MaxActiveEvents int `koanf:"max-active-events"`

	// StrictParsing rejects notices missing any required field.
	StrictParsing bool `koanf:"strict-parsing"`

	// DecimalPrecision is the number of decimals kept for coordinates and numeric aux fields.
	DecimalPrecision int `koanf:"decimal-precision"`

	// ReconnectTimeoutSeconds is the heartbeat silence after which the stream is declared disconnected.
	ReconnectTimeoutSeconds int `koanf:"reconnect-timeout-seconds"`

	// ReconnectMaxAttempts is the number of consecutive failed attempts before a cooldown.
	ReconnectMaxAttempts int `koanf:"reconnect-max-attempts"`

	// Backoff shape for reconnect attempts.
	ReconnectBaseDelayMillis  int `koanf:"reconnect-base-delay-millis"`
	ReconnectMaxDelaySeconds  int `koanf:"reconnect-max-delay-seconds"`
	ReconnectCooldownSeconds  int `koanf:"reconnect-cooldown-seconds"`
	WatchdogIntervalSeconds   int `koanf:"watchdog-interval-seconds"`
	StateRefreshSeconds       int `koanf:"state-refresh-seconds"`
	PollTimeoutMillis         int `koanf:"poll-timeout-millis"`
	ReconnectProbeTimeoutSecs int `koanf:"reconnect-probe-timeout-seconds"`

	// BackupRetentionCount is K, the number of active window backups kept.
	BackupRetentionCount int `koanf:"backup-retention-count"`

	// LedgerPath and WindowPath locate the two store files.
	LedgerPath string `koanf:"ledger-path"`
	WindowPath string `koanf:"window-path"`

	// CatalogPath optionally points at a YAML facility catalog; empty uses the built-in one.
	CatalogPath  string `koanf:"catalog-path"`
	CatalogWatch bool   `koanf:"catalog-watch"`

	// SpoolDir is the directory the file-drop stream source watches.
	SpoolDir        string `koanf:"spool-dir"`
	SpoolPollMillis int    `koanf:"spool-poll-millis"`

	// HeartbeatTopic carries no payload and only feeds the watchdog.
	HeartbeatTopic string `koanf:"heartbeat-topic"`

	// SkipTestTopics drops topics containing _TEST.
	SkipTestTopics bool `koanf:"skip-test-topics"`

	// SinkBuffer bounds the notification queue; summaries beyond it are dropped.
	SinkBuffer int `koanf:"sink-buffer"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                  "info",
		Addr:                      ":9080",
		MaxActiveEvents:           100,
		StrictParsing:             false,
		DecimalPrecision:          2,
		ReconnectTimeoutSeconds:   300,
		ReconnectMaxAttempts:      5,
		ReconnectBaseDelayMillis:  1000,
		ReconnectMaxDelaySeconds:  60,
		ReconnectCooldownSeconds:  300,
		WatchdogIntervalSeconds:   10,
		StateRefreshSeconds:       300,
		PollTimeoutMillis:         1000,
		ReconnectProbeTimeoutSecs: 5,
		BackupRetentionCount:      5,
		LedgerPath:                "notices_ledger.csv",
		WindowPath:                "active_events.ascii",
		CatalogWatch:              true,
		SpoolDir:                  "spool",
		SpoolPollMillis:           500,
		HeartbeatTopic:            "gcn.heartbeat",
		SkipTestTopics:            true,
		SinkBuffer:                1024,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.MaxActiveEvents < 1:
		return fmt.Errorf("%w: max-active-events must be positive", ErrInvalidConfig)
	case c.BackupRetentionCount < 0:
		return fmt.Errorf("%w: backup-retention-count must not be negative", ErrInvalidConfig)
	case c.ReconnectTimeoutSeconds < 1:
		return fmt.Errorf("%w: reconnect-timeout-seconds must be positive", ErrInvalidConfig)
	case c.ReconnectMaxAttempts < 1:
		return fmt.Errorf("%w: reconnect-max-attempts must be positive", ErrInvalidConfig)
	case c.ReconnectBaseDelayMillis < 1 || c.ReconnectMaxDelaySeconds < 1:
		return fmt.Errorf("%w: reconnect delays must be positive", ErrInvalidConfig)
	case c.DecimalPrecision < 0:
		return fmt.Errorf("%w: decimal-precision must not be negative", ErrInvalidConfig)
	case c.LedgerPath == "":
		return fmt.Errorf("%w: ledger-path must not be empty", ErrInvalidConfig)
	case c.WindowPath == "":
		return fmt.Errorf("%w: window-path must not be empty", ErrInvalidConfig)
	case c.HeartbeatTopic == "":
		return fmt.Errorf("%w: heartbeat-topic must not be empty", ErrInvalidConfig)
	}
	return nil
}

// ReconnectTimeout returns the heartbeat timeout as a duration.
func (c *Config) ReconnectTimeout() time.Duration {
	return time.Duration(c.ReconnectTimeoutSeconds) * time.Second
}

// ReconnectBaseDelay returns the first backoff step.
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelayMillis) * time.Millisecond
}

// ReconnectMaxDelay returns the per-attempt backoff cap.
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelaySeconds) * time.Second
}

// ReconnectCooldown returns the pause after ReconnectMaxAttempts consecutive failures.
func (c *Config) ReconnectCooldown() time.Duration {
	return time.Duration(c.ReconnectCooldownSeconds) * time.Second
}

// WatchdogInterval returns how often the watchdog checks heartbeat age.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSeconds) * time.Second
}

// StateRefresh returns how often identity state is re-folded from the ledger; zero disables it.
func (c *Config) StateRefresh() time.Duration {
	return time.Duration(c.StateRefreshSeconds) * time.Second
}

// PollTimeout bounds each main-loop poll.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMillis) * time.Millisecond
}

// ProbeTimeout bounds the fetch a new stream handle must pass before it is swapped in.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ReconnectProbeTimeoutSecs) * time.Second
}

// SpoolPoll returns the rescan interval of the spool directory.
func (c *Config) SpoolPoll() time.Duration {
	return time.Duration(c.SpoolPollMillis) * time.Millisecond
}
