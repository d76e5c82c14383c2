package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxAttempts < 1 {
		return errors.New("api.max_attempts must be >= 1")
	}
	if c.API.BaseDelay < 0 {
		return errors.New("api.base_delay must be >= 0")
	}

	if err := validateURL("stream.url", c.Stream.URL, "ws", "wss"); err != nil {
		return err
	}
	if c.Stream.ReconnectMaxDelay < c.Stream.ReconnectBaseDelay {
		return fmt.Errorf("stream.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Stream.ReconnectMaxDelay, c.Stream.ReconnectBaseDelay)
	}
	if c.Stream.ReconnectMaxExp < 0 {
		return errors.New("stream.reconnect_max_exp must be >= 0")
	}
	if c.Stream.PongTimeout <= c.Stream.PingInterval {
		return errors.New("stream.pong_timeout must exceed stream.ping_interval")
	}
	if c.Stream.ControlRate < 0 {
		return errors.New("stream.control_rate must be >= 0")
	}
	if c.Stream.ControlBurst < 1 {
		return errors.New("stream.control_burst must be >= 1")
	}

	l := c.Consumers.Limits
	for name, v := range map[string]int{
		"transactions": l.Transactions,
		"holders":      l.Holders,
		"traders":      l.Traders,
		"tracker":      l.Tracker,
		"pings":        l.Pings,
		"candles":      l.Candles,
	} {
		if v < 0 {
			return fmt.Errorf("consumers.limits.%s must be >= 0", name)
		}
	}
	if len(c.Consumers.Mints) > 0 && len(c.Consumers.CandleIntervals) == 0 {
		return errors.New("consumers.candle_intervals is required when mints are set")
	}
	if c.Consumers.Reconcile.Concurrency < 1 {
		return errors.New("consumers.reconcile.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}
