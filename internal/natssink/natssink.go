// Package natssink mirrors relay events onto NATS subjects as JSON.
//
// Subjects are "<prefix>.log", "<prefix>.message" and "<prefix>.metrics".
// Publish failures are counted and logged at debug level; they never reach
// the relay.
package natssink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/tcp-relay/internal/sink"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string // Client name shown in NATS monitoring
	MaxReconnects int    // -1 = forever
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "relay",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Publisher is the subset of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Stats contains runtime statistics.
type Stats struct {
	Published int64
	Failed    int64
}

// Sink publishes relay events to NATS.
type Sink struct {
	pub    Publisher
	conn   *nats.Conn // Set when the sink owns the connection
	prefix string
	logger *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

var (
	_ sink.Sink             = (*Sink)(nil)
	_ sink.MetricsPublisher = (*Sink)(nil)
)

// New creates a Sink publishing through pub.
func New(pub Publisher, prefix string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultConfig().SubjectPrefix
	}
	return &Sink{
		pub:    pub,
		prefix: prefix,
		logger: logger,
	}
}

// Connect dials NATS and returns a Sink that owns the connection.
func Connect(cfg Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}

	s := New(nc, cfg.SubjectPrefix, logger)
	s.conn = nc

	logger.Info("nats sink connected",
		"url", nc.ConnectedUrl(),
		"subject_prefix", s.prefix,
	)
	return s, nil
}

// Close drains and closes an owned connection.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

// Subject returns the full subject for kind.
func (s *Sink) Subject(kind string) string {
	return s.prefix + "." + kind
}

// PublishLog publishes ev to <prefix>.log.
func (s *Sink) PublishLog(ev sink.LogEvent) {
	s.publish("log", ev)
}

// PublishRelayMessage publishes msg to <prefix>.message.
func (s *Sink) PublishRelayMessage(msg sink.RelayMessage) {
	s.publish("message", msg)
}

// PublishMetrics publishes a sample to <prefix>.metrics.
func (s *Sink) PublishMetrics(clientID string, m sink.SystemMetrics) {
	s.publish("metrics", struct {
		ClientID string             `json:"clientId"`
		Metrics  sink.SystemMetrics `json:"metrics"`
	}{clientID, m})
}

// Stats returns current statistics.
func (s *Sink) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Sink) publish(kind string, v any) {
	subject := s.Subject(kind)

	data, err := json.Marshal(v)
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("marshal nats event failed", "subject", subject, "error", err)
		return
	}

	if err := s.pub.Publish(subject, data); err != nil {
		s.failed.Add(1)
		s.logger.Debug("nats publish failed", "subject", subject, "error", err)
		return
	}
	s.published.Add(1)
}
