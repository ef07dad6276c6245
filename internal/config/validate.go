package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validatePort("relay.port", c.Relay.Port); err != nil {
		return err
	}
	if c.Relay.ReadBufferBytes < 1 {
		return errors.New("relay.read_buffer_bytes must be >= 1")
	}
	if c.Relay.MaxLineBytes < 0 {
		return errors.New("relay.max_line_bytes must be >= 0")
	}

	if err := validatePort("hub.port", c.Hub.Port); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Hub.Path, "/") {
		return fmt.Errorf("hub.path must start with '/', got %q", c.Hub.Path)
	}
	if c.Hub.HistorySize < 1 {
		return errors.New("hub.history_size must be >= 1")
	}
	if c.Hub.Port == c.Relay.Port {
		return fmt.Errorf("hub.port and relay.port must differ, both are %d", c.Relay.Port)
	}

	if c.Dispatch.BufferSize < 1 {
		return errors.New("dispatch.buffer_size must be >= 1")
	}

	if err := validatePort("metrics.port", c.Metrics.Port); err != nil {
		return err
	}
	if c.Metrics.Port == c.Relay.Port || c.Metrics.Port == c.Hub.Port {
		return fmt.Errorf("metrics.port %d collides with relay.port or hub.port", c.Metrics.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ParseLevel converts a log.level string to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("log.level %q is not a valid level", level)
	}
	return l, nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
