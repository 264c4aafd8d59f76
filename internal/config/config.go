// Package config loads relay server configuration: defaults, overridden by
// an optional checked-in TOML file, overridden by flags and environment
// variables.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// PortMode selects how the bind port is chosen.
type PortMode string

const (
	PortModeFixed   PortMode = "fixed"
	PortModeDynamic PortMode = "dynamic"
)

// Config holds all relay server configuration.
type Config struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	PortMode    PortMode `toml:"port_mode"`
	RuntimeFile string   `toml:"runtime_file"`

	TLSCertPath string `toml:"tls_cert_path"`
	TLSKeyPath  string `toml:"tls_key_path"`

	DBPath string `toml:"db_path"`

	LogFormat string `toml:"log_format"`

	HeartbeatTimeout  time.Duration `toml:"-"`
	HeartbeatTimeoutS int           `toml:"heartbeat_timeout_seconds"`

	RetryInterval    time.Duration `toml:"-"`
	RetryIntervalS   int           `toml:"retry_interval_seconds"`
	MaxRetryAttempts int           `toml:"max_retry_attempts"`

	SnapshotInterval  time.Duration `toml:"-"`
	SnapshotIntervalS int           `toml:"snapshot_interval_seconds"`

	TimeoutSweepInterval  time.Duration `toml:"-"`
	TimeoutSweepIntervalS int           `toml:"timeout_sweep_interval_seconds"`

	ShutdownGraceS int           `toml:"shutdown_grace_seconds"`
	ShutdownGrace  time.Duration `toml:"-"`
}

// defaults returns a Config pre-populated with the documented defaults
// (heartbeat 30s, retry interval a few seconds, max attempts 5, snapshot 3s,
// timeout sweep 10s).
func defaults() Config {
	return Config{
		Host:                  "0.0.0.0",
		Port:                  8700,
		PortMode:              PortModeFixed,
		DBPath:                "relay.db",
		LogFormat:             "json",
		HeartbeatTimeoutS:     30,
		RetryIntervalS:        5,
		MaxRetryAttempts:      5,
		SnapshotIntervalS:     3,
		TimeoutSweepIntervalS: 10,
		ShutdownGraceS:        5,
	}
}

// Load reads configuration from an optional TOML file plus flag/env
// overrides and resolves duration fields.
func Load() (*Config, error) {
	c := defaults()

	flagConfigPath := flag.String("config", envStr("RELAY_CONFIG", ""), "Path to TOML config file")

	flag.StringVar(&c.Host, "host", envStr("RELAY_HOST", c.Host), "Listen host")
	flag.IntVar(&c.Port, "port", envInt("RELAY_PORT", c.Port), "Listen port")
	flag.StringVar(&c.DBPath, "db", envStr("RELAY_DB", c.DBPath), "SQLite database path")
	flag.StringVar(&c.TLSCertPath, "tls-cert", envStr("RELAY_TLS_CERT", ""), "TLS certificate path (empty disables TLS)")
	flag.StringVar(&c.TLSKeyPath, "tls-key", envStr("RELAY_TLS_KEY", ""), "TLS key path")
	flag.StringVar(&c.LogFormat, "log-format", envStr("RELAY_LOG_FORMAT", c.LogFormat), "json or console")
	flag.IntVar(&c.HeartbeatTimeoutS, "heartbeat-timeout", envInt("RELAY_HEARTBEAT_TIMEOUT", c.HeartbeatTimeoutS), "Heartbeat timeout in seconds")
	flag.IntVar(&c.RetryIntervalS, "retry-interval", envInt("RELAY_RETRY_INTERVAL", c.RetryIntervalS), "Retry worker interval in seconds")
	flag.IntVar(&c.MaxRetryAttempts, "max-retry-attempts", envInt("RELAY_MAX_RETRY_ATTEMPTS", c.MaxRetryAttempts), "Max attempts before dead-lettering")
	flag.IntVar(&c.SnapshotIntervalS, "snapshot-interval", envInt("RELAY_SNAPSHOT_INTERVAL", c.SnapshotIntervalS), "Snapshot broadcast tick interval in seconds")
	flag.IntVar(&c.TimeoutSweepIntervalS, "timeout-sweep-interval", envInt("RELAY_TIMEOUT_SWEEP_INTERVAL", c.TimeoutSweepIntervalS), "Timeout sweep interval in seconds")

	if !flag.Parsed() {
		flag.Parse()
	}

	if *flagConfigPath != "" {
		fileCfg := defaults()
		if _, err := toml.DecodeFile(*flagConfigPath, &fileCfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", *flagConfigPath, err)
		}
		c = mergeFileOverFlags(fileCfg, c)
	}

	c.HeartbeatTimeout = time.Duration(c.HeartbeatTimeoutS) * time.Second
	c.RetryInterval = time.Duration(c.RetryIntervalS) * time.Second
	c.SnapshotInterval = time.Duration(c.SnapshotIntervalS) * time.Second
	c.TimeoutSweepInterval = time.Duration(c.TimeoutSweepIntervalS) * time.Second
	c.ShutdownGrace = time.Duration(c.ShutdownGraceS) * time.Second

	return &c, nil
}

// mergeFileOverFlags lets the TOML file supply values the caller did not
// override on the command line or via environment, by checking whether the
// flag-derived value still equals the hardcoded default.
func mergeFileOverFlags(file, flags Config) Config {
	d := defaults()
	out := flags

	if flags.Host == d.Host {
		out.Host = file.Host
	}
	if flags.Port == d.Port {
		out.Port = file.Port
	}
	if flags.DBPath == d.DBPath {
		out.DBPath = file.DBPath
	}
	if flags.TLSCertPath == "" {
		out.TLSCertPath = file.TLSCertPath
	}
	if flags.TLSKeyPath == "" {
		out.TLSKeyPath = file.TLSKeyPath
	}
	if flags.LogFormat == d.LogFormat {
		out.LogFormat = file.LogFormat
	}
	if flags.HeartbeatTimeoutS == d.HeartbeatTimeoutS {
		out.HeartbeatTimeoutS = file.HeartbeatTimeoutS
	}
	if flags.RetryIntervalS == d.RetryIntervalS {
		out.RetryIntervalS = file.RetryIntervalS
	}
	if flags.MaxRetryAttempts == d.MaxRetryAttempts {
		out.MaxRetryAttempts = file.MaxRetryAttempts
	}
	if flags.SnapshotIntervalS == d.SnapshotIntervalS {
		out.SnapshotIntervalS = file.SnapshotIntervalS
	}
	if flags.TimeoutSweepIntervalS == d.TimeoutSweepIntervalS {
		out.TimeoutSweepIntervalS = file.TimeoutSweepIntervalS
	}
	if file.PortMode != "" {
		out.PortMode = file.PortMode
	}
	if file.RuntimeFile != "" {
		out.RuntimeFile = file.RuntimeFile
	}
	return out
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// WriteRuntimeFile records the resolved bind port to RuntimeFile so UI
// clients can discover it when PortMode is dynamic. No-op if RuntimeFile is
// unset.
func (c *Config) WriteRuntimeFile(resolvedPort int) error {
	if c.RuntimeFile == "" {
		return nil
	}
	content := fmt.Sprintf("port=%d\nhost=%s\n", resolvedPort, c.Host)
	if err := os.WriteFile(c.RuntimeFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write runtime file %s: %w", c.RuntimeFile, err)
	}
	return nil
}
