package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/tcp-relay/internal/sink"
)

var errMissingClientID = errors.New("metrics without clientId")

func (h *Hub) handleRequest(s *subscriber, env Envelope) {
	var err error
	switch env.Type {
	case MethodSendMessageToTCPClients:
		err = h.sendMessageToTCPClients(s, env)
	case MethodGetTCPStatus:
		h.reply(s, EventResult, env.ID, StatusPayload{Message: h.tcpStatus()})
	case MethodSendCommandToTCPClient:
		err = h.sendCommandToTCPClient(s, env)
	case MethodSendLog:
		err = h.sendLog(env)
	case MethodSendMetrics:
		err = h.sendMetrics(env)
	case MethodGetAllMetrics:
		h.reply(s, EventResult, env.ID, h.Metrics())
	case MethodRequestAllMetrics:
		h.replayMetrics(s)
	case MethodGetConnectedClients:
		h.reply(s, EventResult, env.ID, h.Subscribers())
	case MethodGetLogHistory:
		err = h.getLogHistory(s, env)
	default:
		err = fmt.Errorf("unknown method %q", env.Type)
	}

	if err != nil {
		h.logger.Debug("dashboard request failed", "connection_id", s.id, "method", env.Type, "error", err)
		h.reply(s, EventError, env.ID, ErrorPayload{Error: err.Error()})
	}
}

func (h *Hub) tcpStatus() string {
	st := h.relay.Status()
	state := "Stopped"
	if st.Running {
		state = "Running"
	}
	return fmt.Sprintf("TCP Server: %s | Connected clients: %d", state, st.ConnectedCount)
}

func (h *Hub) sendMessageToTCPClients(s *subscriber, env Envelope) error {
	var req MessageRequest
	if err := decode(env, &req); err != nil {
		return err
	}

	sent := 0
	for _, res := range h.relay.BroadcastToAll(req.Message) {
		if res.OK() {
			sent++
		}
	}
	h.reply(s, EventReceiveTCPStatus, env.ID,
		StatusPayload{Message: fmt.Sprintf("Message sent to %d TCP clients", sent)})
	return nil
}

func (h *Hub) sendCommandToTCPClient(s *subscriber, env Envelope) error {
	var req CommandRequest
	if err := decode(env, &req); err != nil {
		return err
	}

	res := h.relay.SendToOne(req.ClientID, req.Command)
	if !res.OK() {
		return fmt.Errorf("send command to %s: %w", req.ClientID, res.Err)
	}
	h.reply(s, EventReceiveTCPStatus, env.ID,
		StatusPayload{Message: "Command sent to TCP client: " + req.ClientID})
	return nil
}

func (h *Hub) sendLog(env Envelope) error {
	var req LogRequest
	if err := decode(env, &req); err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339Nano, req.Timestamp)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}

	h.ingestor().PublishLog(sink.LogEvent{
		ClientID:   req.ClientID,
		Level:      sink.ParseLevel(req.LogLevel),
		Message:    req.Message,
		Timestamp:  ts,
		ServerTime: h.now(),
	})
	return nil
}

func (h *Hub) sendMetrics(env Envelope) error {
	var req MetricsPayload
	if err := decode(env, &req); err != nil {
		return err
	}
	if req.ClientID == "" {
		return errMissingClientID
	}

	h.ingestor().PublishMetrics(req.ClientID, req.Metrics)
	return nil
}

func (h *Hub) getLogHistory(s *subscriber, env Envelope) error {
	var req HistoryRequest
	if len(env.Payload) > 0 {
		if err := decode(env, &req); err != nil {
			return err
		}
	}

	events := []sink.LogEvent{}
	if h.history != nil {
		events = h.history.Query(req.From, req.To, sink.DefaultHistoryLimit)
	}
	h.reply(s, EventResult, env.ID, events)
	return nil
}

func decode(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
