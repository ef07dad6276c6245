package config

import "time"

// RelayConfig is the root configuration for a relay daemon.
type RelayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Relay    ListenerConfig `yaml:"relay"`
	Hub      HubConfig      `yaml:"hub"`
	NATS     NATSConfig     `yaml:"nats"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ListenerConfig holds the TCP relay listener settings.
type ListenerConfig struct {
	Port            int    `yaml:"port"`
	Bind            string `yaml:"bind"`              // Empty = all interfaces
	ReadBufferBytes int    `yaml:"read_buffer_bytes"` // Size of a single socket read
	MaxLineBytes    int    `yaml:"max_line_bytes"`    // 0 = unbounded
}

// HubConfig holds the dashboard WebSocket hub settings.
type HubConfig struct {
	Port            int           `yaml:"port"`
	Path            string        `yaml:"path"`
	HistorySize     int           `yaml:"history_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MetricsInterval time.Duration `yaml:"metrics_interval"` // Negative disables host sampling
}

// NATSConfig holds the optional NATS publisher settings.
// An empty URL disables NATS publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Name          string `yaml:"name"`
}

// DispatchConfig holds the sink dispatcher settings.
type DispatchConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
