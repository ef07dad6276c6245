package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/rickgao/tcp-relay/internal/command"
	"github.com/rickgao/tcp-relay/internal/registry"
	"github.com/rickgao/tcp-relay/internal/sink"
)

// Config holds relay server configuration.
type Config struct {
	Bind            string // Empty = all interfaces
	ReadBufferBytes int    // Size of a single socket read
	MaxLineBytes    int    // 0 = unbounded
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ReadBufferBytes: 4096,
	}
}

// State is the server run state.
type State int32

// Run states. A server moves Stopped -> Starting -> Running -> Stopping ->
// Stopped. A failed start returns to Stopped; a completed stop is final.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the server.
type Status struct {
	Running        bool
	ConnectedCount int
}

// Stats contains runtime counters.
type Stats struct {
	Accepted     int64 // Connections accepted
	Rejected     int64 // Connections refused as duplicate identities
	Connected    int   // Currently registered peers
	Messages     int64 // Messages received from peers
	Commands     int64 // Command messages answered
	Faults       int64 // Connections torn down by an I/O or framing fault
	Delivered    int64 // Operator sends that succeeded
	SendFailures int64 // Operator sends that failed
	AcceptErrors int64
}

// DeliveryResult is the outcome of one operator send.
type DeliveryResult struct {
	ClientID string
	Err      error
}

// OK reports whether the send succeeded.
func (r DeliveryResult) OK() bool {
	return r.Err == nil
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server accepts TCP peers and relays their messages to a sink.
type Server struct {
	cfg      Config
	sink     sink.Sink
	logger   *slog.Logger
	now      func() time.Time
	registry *registry.Registry
	commands *command.Processor

	mu       sync.Mutex // Guards state transitions
	state    State
	finished bool // A completed Stop; the server cannot be restarted
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup // Accept loop and handlers

	accepted     atomic.Int64
	rejected     atomic.Int64
	messages     atomic.Int64
	commandCount atomic.Int64
	faults       atomic.Int64
	delivered    atomic.Int64
	sendFailures atomic.Int64
	acceptErrors atomic.Int64
}

// NewServer creates a Server publishing to out. A nil sink discards events.
func NewServer(cfg Config, out sink.Sink, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = sink.Nop{}
	}
	if cfg.ReadBufferBytes <= 0 {
		cfg.ReadBufferBytes = DefaultConfig().ReadBufferBytes
	}

	s := &Server{
		cfg:      cfg,
		sink:     out,
		logger:   logger,
		now:      time.Now,
		registry: registry.New(),
	}
	s.commands = command.NewProcessor(s.registry)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and begins accepting connections in the
// background. It returns once the accept loop is running, or with the bind
// error, in which case the server stays stopped and may be started again.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return ErrStopped
	}
	if s.state != StateStopped {
		return ErrAlreadyStarted
	}
	s.state = StateStarting

	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.state = StateStopped
		err = fmt.Errorf("listen on %s: %w", addr, err)
		s.logger.Error("relay server failed to start", "addr", addr, "error", err)
		s.publishLog(sink.LevelError, "TCP Server error: "+err.Error())
		return err
	}

	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = StateRunning

	s.wg.Add(1)
	go s.acceptLoop(s.ctx, ln)

	bound := listenPort(ln)
	s.logger.Info("relay server started",
		"addr", ln.Addr().String(),
		"port", bound,
	)
	s.publishLog(sink.LevelInfo, fmt.Sprintf("TCP Server started on port %d", bound))
	return nil
}

// Stop closes the listener and every registered peer, then waits for all
// handlers to return. Calling Stop on a server that is not running is a
// no-op. Close errors are aggregated.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	ln := s.listener
	s.cancel()
	s.mu.Unlock()

	s.logger.Info("stopping relay server")

	var err error
	if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, fmt.Errorf("close listener: %w", cerr))
	}
	for _, h := range s.registry.Drain() {
		err = multierr.Append(err, h.Close())
	}

	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.finished = true
	s.listener = nil
	s.mu.Unlock()

	s.logger.Info("relay server stopped")
	s.publishLog(sink.LevelInfo, "TCP Server stopped")
	return err
}

// State returns the current run state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns whether the server is running and how many peers are
// connected.
func (s *Server) Status() Status {
	return Status{
		Running:        s.State() == StateRunning,
		ConnectedCount: s.registry.Count(),
	}
}

// Addr returns the bound listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ClientIDs returns the identities of connected peers in connection order.
func (s *Server) ClientIDs() []string {
	return s.registry.IDs()
}

// SendToOne writes text to the peer registered as id.
func (s *Server) SendToOne(id, text string) DeliveryResult {
	if s.State() != StateRunning {
		return DeliveryResult{ClientID: id, Err: ErrNotRunning}
	}
	h, ok := s.registry.Get(id)
	if !ok {
		return DeliveryResult{ClientID: id, Err: ErrUnknownClient}
	}
	return s.deliver(h, text)
}

// SendToMany writes text to each listed peer. Results are in input order.
func (s *Server) SendToMany(ids []string, text string) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, s.SendToOne(id, text))
	}
	return results
}

// BroadcastToAll writes text to every peer connected at the time of the
// call. A failed write is recorded and the broadcast continues.
func (s *Server) BroadcastToAll(text string) []DeliveryResult {
	if s.State() != StateRunning {
		return nil
	}

	targets := s.registry.Snapshot()
	results := make([]DeliveryResult, 0, len(targets))
	for _, h := range targets {
		results = append(results, s.deliver(h, text))
	}

	s.logger.Debug("broadcast complete", "targets", len(targets))
	return results
}

// Stats returns current statistics.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:     s.accepted.Load(),
		Rejected:     s.rejected.Load(),
		Connected:    s.registry.Count(),
		Messages:     s.messages.Load(),
		Commands:     s.commandCount.Load(),
		Faults:       s.faults.Load(),
		Delivered:    s.delivered.Load(),
		SendFailures: s.sendFailures.Load(),
		AcceptErrors: s.acceptErrors.Load(),
	}
}

func (s *Server) deliver(h registry.Handle, text string) DeliveryResult {
	if err := h.Send(text); err != nil {
		s.sendFailures.Add(1)
		s.logger.Debug("send failed", "client_id", h.ID(), "error", err)
		return DeliveryResult{ClientID: h.ID(), Err: err}
	}
	s.delivered.Add(1)
	return DeliveryResult{ClientID: h.ID()}
}

// acceptLoop runs until the listener is closed. Transient accept errors
// back off and retry.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	backoff := 5 * time.Millisecond
	const maxBackoff = time.Second

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			s.acceptErrors.Add(1)
			s.logger.Error("accept failed", "error", err, "retry_in", backoff)
			s.publishLog(sink.LevelError, "TCP Server error: "+err.Error())

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 5 * time.Millisecond

		s.accepted.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) publishLog(level sink.Level, msg string) {
	now := s.now()
	s.sink.PublishLog(sink.LogEvent{
		ClientID:   sink.ServerClientID,
		Level:      level,
		Message:    msg,
		Timestamp:  now,
		ServerTime: now,
	})
}

func listenPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
