package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID         = "tokenfeed"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxAttempts        = 4
	DefaultBaseDelay          = 500 * time.Millisecond
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPongTimeout        = 90 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultReconnectBaseDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultReconnectMaxExp    = 6
	DefaultHeartbeatTimeout   = 60 * time.Second
	DefaultControlRate        = 20
	DefaultControlBurst       = 10
	DefaultReconcileWorkers   = 4
	DefaultReconcileTimeout   = 30 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultLogMaxSizeMB       = 100
	DefaultLogMaxBackups      = 5
	DefaultLogMaxAgeDays      = 14
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxAttempts == 0 {
		c.API.MaxAttempts = DefaultMaxAttempts
	}
	if c.API.BaseDelay == 0 {
		c.API.BaseDelay = DefaultBaseDelay
	}

	// Stream defaults
	s := &c.Stream
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.PingInterval == 0 {
		s.PingInterval = DefaultPingInterval
	}
	if s.PongTimeout == 0 {
		s.PongTimeout = DefaultPongTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.ReconnectBaseDelay == 0 {
		s.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if s.ReconnectMaxDelay == 0 {
		s.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if s.ReconnectMaxExp == 0 {
		s.ReconnectMaxExp = DefaultReconnectMaxExp
	}
	if s.HeartbeatTimeout == 0 {
		s.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if s.ControlRate == 0 {
		s.ControlRate = DefaultControlRate
	}
	if s.ControlBurst == 0 {
		s.ControlBurst = DefaultControlBurst
	}

	// Consumer defaults; zero limits fall back to per-collection defaults
	// in the consumer package.
	if c.Consumers.Reconcile.Concurrency == 0 {
		c.Consumers.Reconcile.Concurrency = DefaultReconcileWorkers
	}
	if c.Consumers.Reconcile.Timeout == 0 {
		c.Consumers.Reconcile.Timeout = DefaultReconcileTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if f := &c.Logging.File; f.Path != "" {
		if f.MaxSizeMB == 0 {
			f.MaxSizeMB = DefaultLogMaxSizeMB
		}
		if f.MaxBackups == 0 {
			f.MaxBackups = DefaultLogMaxBackups
		}
		if f.MaxAgeDays == 0 {
			f.MaxAgeDays = DefaultLogMaxAgeDays
		}
	}
}
