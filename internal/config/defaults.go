package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID      = "relay"
	DefaultRelayPort       = 5555
	DefaultReadBufferBytes = 4096
	DefaultHubPort         = 9000
	DefaultHubPath         = "/monitoringHub"
	DefaultHistorySize     = 1000
	DefaultHubWriteTimeout = 10 * time.Second
	DefaultMetricsInterval = 15 * time.Second
	DefaultSubjectPrefix   = "relay"
	DefaultDispatchBuffer  = 1024
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

func (c *RelayConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Relay listener defaults. MaxLineBytes stays 0 (unbounded) unless set.
	if c.Relay.Port == 0 {
		c.Relay.Port = DefaultRelayPort
	}
	if c.Relay.ReadBufferBytes == 0 {
		c.Relay.ReadBufferBytes = DefaultReadBufferBytes
	}

	// Hub defaults. MetricsInterval is only defaulted when the key is absent,
	// so a negative value can be used to switch host sampling off.
	if c.Hub.Port == 0 {
		c.Hub.Port = DefaultHubPort
	}
	if c.Hub.Path == "" {
		c.Hub.Path = DefaultHubPath
	}
	if c.Hub.HistorySize == 0 {
		c.Hub.HistorySize = DefaultHistorySize
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultHubWriteTimeout
	}
	if c.Hub.MetricsInterval == 0 {
		c.Hub.MetricsInterval = DefaultMetricsInterval
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.NATS.Name == "" {
		c.NATS.Name = c.Instance.ID
	}

	if c.Dispatch.BufferSize == 0 {
		c.Dispatch.BufferSize = DefaultDispatchBuffer
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
