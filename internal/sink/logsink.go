package sink

import (
	"context"
	"log/slog"
)

// LogSink writes relay events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// PublishLog logs ev at the matching slog level.
func (s *LogSink) PublishLog(ev LogEvent) {
	s.logger.Log(context.Background(), slogLevel(ev.Level), ev.Message,
		"client_id", ev.ClientID,
		"source_time", ev.Timestamp,
	)
}

// PublishRelayMessage logs msg at debug level.
func (s *LogSink) PublishRelayMessage(msg RelayMessage) {
	s.logger.Debug("relay message",
		"client_id", msg.ClientID,
		"bytes", len(msg.Text),
	)
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
