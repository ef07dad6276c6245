package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/tcp-relay/internal/relay"
	"github.com/rickgao/tcp-relay/internal/sink"
)

// Relay is the part of the relay server the hub drives.
type Relay interface {
	Status() relay.Status
	SendToOne(id, text string) relay.DeliveryResult
	BroadcastToAll(text string) []relay.DeliveryResult
}

// Ingest receives logs and metrics submitted by dashboard agents.
type Ingest interface {
	sink.Sink
	sink.MetricsPublisher
}

// Config holds hub configuration.
type Config struct {
	WriteTimeout time.Duration // Per-frame write deadline; 0 = none
	ReadLimit    int64         // Max inbound frame size in bytes
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		ReadLimit:    1 << 20,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Subscribers  int
	Broadcasts   int64
	Requests     int64
	WriteErrors  int64
	MetricsKnown int
}

// Hub fans relay events out to WebSocket subscribers.
type Hub struct {
	cfg     Config
	relay   Relay
	history *sink.History
	logger  *slog.Logger
	now     func() time.Time

	upgrader websocket.Upgrader

	ingestMu sync.RWMutex
	ingest   Ingest

	subsMu sync.RWMutex
	subs   map[string]*subscriber

	metricsMu sync.RWMutex
	metrics   map[string]sink.SystemMetrics // Latest sample per client ID

	closed atomic.Bool
	wg     sync.WaitGroup

	broadcasts  atomic.Int64
	requests    atomic.Int64
	writeErrors atomic.Int64
}

var (
	_ sink.Sink             = (*Hub)(nil)
	_ sink.MetricsPublisher = (*Hub)(nil)
	_ http.Handler          = (*Hub)(nil)
)

// New creates a Hub. history may be nil, in which case GetLogHistory
// returns nothing.
func New(cfg Config, r Relay, history *sink.History, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:     cfg,
		relay:   r,
		history: history,
		logger:  logger,
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs:    make(map[string]*subscriber),
		metrics: make(map[string]sink.SystemMetrics),
	}
	h.ingest = h
	return h
}

// SetIngest routes agent-submitted logs and metrics to in instead of
// straight back to the hub.
func (h *Hub) SetIngest(in Ingest) {
	h.ingestMu.Lock()
	defer h.ingestMu.Unlock()
	if in == nil {
		h.ingest = h
		return
	}
	h.ingest = in
}

func (h *Hub) ingestor() Ingest {
	h.ingestMu.RLock()
	defer h.ingestMu.RUnlock()
	return h.ingest
}

// PublishLog pushes ev to every subscriber.
func (h *Hub) PublishLog(ev sink.LogEvent) {
	h.broadcast(EventReceiveLog, ev)
}

// PublishRelayMessage pushes msg to every subscriber.
func (h *Hub) PublishRelayMessage(msg sink.RelayMessage) {
	h.broadcast(EventReceiveTCPMessage, msg)
}

// PublishMetrics records m as the latest sample for clientID and pushes it
// to every subscriber.
func (h *Hub) PublishMetrics(clientID string, m sink.SystemMetrics) {
	h.metricsMu.Lock()
	h.metrics[clientID] = m
	h.metricsMu.Unlock()

	h.broadcast(EventReceiveMetrics, MetricsPayload{ClientID: clientID, Metrics: m})
}

// Metrics returns a copy of the latest sample per client.
func (h *Hub) Metrics() map[string]sink.SystemMetrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()
	return maps.Clone(h.metrics)
}

// Subscribers returns the dashboard connections that identified themselves.
func (h *Hub) Subscribers() []SubscriberInfo {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()

	out := make([]SubscriberInfo, 0, len(h.subs))
	for _, s := range h.subs {
		if s.clientID != "" {
			out = append(out, s.info())
		}
	}
	return out
}

// Stats returns current statistics.
func (h *Hub) Stats() Stats {
	h.subsMu.RLock()
	subs := len(h.subs)
	h.subsMu.RUnlock()

	h.metricsMu.RLock()
	known := len(h.metrics)
	h.metricsMu.RUnlock()

	return Stats{
		Subscribers:  subs,
		Broadcasts:   h.broadcasts.Load(),
		Requests:     h.requests.Load(),
		WriteErrors:  h.writeErrors.Load(),
		MetricsKnown: known,
	}
}

// ServeHTTP upgrades the request and serves the subscriber until it
// disconnects. The optional clientId query parameter names the caller.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	now := h.now()
	s := &subscriber{
		id:          uuid.NewString(),
		clientID:    r.URL.Query().Get("clientId"),
		conn:        conn,
		connectedAt: now,
	}
	s.touch(now)

	// Close may have run while the upgrade was in flight.
	h.subsMu.Lock()
	if h.closed.Load() {
		h.subsMu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.subs[s.id] = s
	h.wg.Add(1)
	h.subsMu.Unlock()

	defer h.wg.Done()
	defer h.removeSubscriber(s)

	h.logger.Info("dashboard connected",
		"connection_id", s.id,
		"client_id", s.clientID,
		"remote", r.RemoteAddr,
	)

	if s.clientID != "" {
		h.broadcast(EventClientConnected, ClientPayload{ClientID: s.clientID})
		h.replayMetrics(s)
	}

	h.readLoop(s)
}

// Close disconnects every subscriber and waits for their handlers to
// return or for ctx to expire. New connections are refused afterwards.
func (h *Hub) Close(ctx context.Context) error {
	h.subsMu.Lock()
	if !h.closed.CompareAndSwap(false, true) {
		h.subsMu.Unlock()
		return nil
	}
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subsMu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, s := range subs {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub closed", "subscribers", len(subs))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close hub: %w", ctx.Err())
	}
}

func (h *Hub) readLoop(s *subscriber) {
	if h.cfg.ReadLimit > 0 {
		s.conn.SetReadLimit(h.cfg.ReadLimit)
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("dashboard read failed", "connection_id", s.id, "error", err)
			}
			return
		}
		s.touch(h.now())

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.reply(s, EventError, "", ErrorPayload{Error: "malformed envelope: " + err.Error()})
			continue
		}

		h.requests.Add(1)
		h.handleRequest(s, env)
	}
}

func (h *Hub) removeSubscriber(s *subscriber) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		h.subsMu.Lock()
		delete(h.subs, s.id)
		h.subsMu.Unlock()

		_ = s.conn.Close()

		h.logger.Info("dashboard disconnected", "connection_id", s.id, "client_id", s.clientID)

		if s.clientID != "" {
			h.metricsMu.Lock()
			delete(h.metrics, s.clientID)
			h.metricsMu.Unlock()

			h.broadcast(EventClientDisconnected, ClientPayload{ClientID: s.clientID})
		}
	})
}

// snapshot returns the open subscribers.
func (h *Hub) snapshot() []*subscriber {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()

	out := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		if !s.closed.Load() {
			out = append(out, s)
		}
	}
	return out
}

// broadcast encodes one event and writes it to every open subscriber
// concurrently. A subscriber whose write fails is dropped.
func (h *Hub) broadcast(typ string, payload any) {
	data, err := encode(typ, "", payload)
	if err != nil {
		h.logger.Debug("encode event failed", "type", typ, "error", err)
		return
	}

	targets := h.snapshot()
	if len(targets) == 0 {
		return
	}
	h.broadcasts.Add(1)

	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.send(s, data)
		}()
	}
	wg.Wait()
}

func (h *Hub) send(s *subscriber, data []byte) {
	if err := s.write(data, h.cfg.WriteTimeout); err != nil {
		h.writeErrors.Add(1)
		h.logger.Debug("dashboard write failed", "connection_id", s.id, "error", err)
		// The read loop notices the closed conn and runs removeSubscriber.
		_ = s.conn.Close()
	}
}

func (h *Hub) reply(s *subscriber, typ, id string, payload any) {
	data, err := encode(typ, id, payload)
	if err != nil {
		h.logger.Debug("encode reply failed", "type", typ, "error", err)
		return
	}
	h.send(s, data)
}

func (h *Hub) replayMetrics(s *subscriber) {
	for clientID, m := range h.Metrics() {
		h.reply(s, EventReceiveMetrics, "", MetricsPayload{ClientID: clientID, Metrics: m})
	}
}
