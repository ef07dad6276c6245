package sink

import "time"

// Level is a LogEvent severity.
type Level string

// Log levels.
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	LevelDebug   Level = "DEBUG"
)

// ParseLevel returns the Level for s, defaulting to INFO for anything
// unrecognised.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelWarning, LevelError, LevelDebug:
		return Level(s)
	default:
		return LevelInfo
	}
}

// ServerClientID is the ClientID of events the relay itself originates.
const ServerClientID = "TCP-Server"

// LogEvent is a structured log/status event.
type LogEvent struct {
	ClientID   string    `json:"clientId"`
	Level      Level     `json:"logLevel"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`  // When the source produced it
	ServerTime time.Time `json:"serverTime"` // When the relay forwarded it; always relay-assigned
}

// RelayMessage is one line received from a TCP peer.
type RelayMessage struct {
	ClientID  string    `json:"clientId"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"` // Relay-assigned receive time
}

// SystemMetrics is a host resource sample.
type SystemMetrics struct {
	CPUUsage     float64      `json:"cpuUsage"`    // Percent
	MemoryUsage  float64      `json:"memoryUsage"` // MB
	DiskUsage    float64      `json:"diskUsage"`   // Percent
	ProcessCount int          `json:"processCount"`
	Network      NetworkStats `json:"network"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NetworkStats holds throughput figures in bytes per second.
type NetworkStats struct {
	UploadSpeed   float64 `json:"uploadSpeed"`
	DownloadSpeed float64 `json:"downloadSpeed"`
	TotalSpeed    float64 `json:"totalSpeed"`
}

// Sink receives relay events. Implementations must not block for long and
// must swallow their own delivery failures.
type Sink interface {
	PublishLog(ev LogEvent)
	PublishRelayMessage(msg RelayMessage)
}

// MetricsPublisher is implemented by sinks that also accept host metrics.
type MetricsPublisher interface {
	PublishMetrics(clientID string, m SystemMetrics)
}

// Nop is a Sink that discards everything.
type Nop struct{}

// PublishLog discards ev.
func (Nop) PublishLog(LogEvent) {}

// PublishRelayMessage discards msg.
func (Nop) PublishRelayMessage(RelayMessage) {}
