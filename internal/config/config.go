package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a tokenfeed instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	API       APIConfig       `yaml:"api"`
	Stream    StreamConfig    `yaml:"stream"`
	Consumers ConsumersConfig `yaml:"consumers"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds historical REST API settings.
type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	AuthToken     string        `yaml:"auth_token"`
	AuthTokenPath string        `yaml:"auth_token_path"` // File holding the token; used when auth_token is empty
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
}

// StreamConfig holds live stream connection settings.
type StreamConfig struct {
	URL                string        `yaml:"url"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PongTimeout        time.Duration `yaml:"pong_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxExp    int           `yaml:"reconnect_max_exp"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"`
	ControlRate        float64       `yaml:"control_rate"` // Control messages per second
	ControlBurst       int           `yaml:"control_burst"`
}

// ConsumersConfig selects the consumers to run and their capacities.
type ConsumersConfig struct {
	Mints           []string        `yaml:"mints"`
	CandleIntervals []string        `yaml:"candle_intervals"`
	TrackerGroups   []string        `yaml:"tracker_groups"`
	DiscordGroups   []string        `yaml:"discord_groups"`
	TwitterGroups   []string        `yaml:"twitter_groups"`
	Limits          LimitsConfig    `yaml:"limits"`
	Reconcile       ReconcileConfig `yaml:"reconcile"`
}

// LimitsConfig holds per-collection capacities.
type LimitsConfig struct {
	Transactions int `yaml:"transactions"`
	Holders      int `yaml:"holders"`
	Traders      int `yaml:"traders"`
	Tracker      int `yaml:"tracker"`
	Pings        int `yaml:"pings"`
	Candles      int `yaml:"candles"`
}

// ReconcileConfig holds post-reconnect reload settings.
type ReconcileConfig struct {
	Interval    time.Duration `yaml:"interval"` // 0 = only after reconnects
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string        `yaml:"level"`  // debug, info, warn, error
	Format string        `yaml:"format"` // json or text
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig enables a rotating log file next to stdout.
type LogFileConfig struct {
	Path       string `yaml:"path"` // Empty disables file output
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads the file at path and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Read reads the file at path without validating it. See Decode.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data)
}

// Decode expands ${VAR} references in data, decodes it and fills defaults.
// Unknown keys are rejected so a misspelled option fails loudly.
func Decode(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
