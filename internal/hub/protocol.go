package hub

import (
	"encoding/json"
	"time"

	"github.com/rickgao/tcp-relay/internal/sink"
)

// Envelope is one WebSocket frame.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"` // Request correlation, echoed on Result/Error
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Server push events.
const (
	EventReceiveLog         = "ReceiveLog"
	EventReceiveTCPMessage  = "ReceiveTCPMessage"
	EventReceiveMetrics     = "ReceiveMetrics"
	EventClientConnected    = "ClientConnected"
	EventClientDisconnected = "ClientDisconnected"
	EventReceiveTCPStatus   = "ReceiveTCPStatus"
	EventResult             = "Result"
	EventError              = "Error"
)

// Client request methods.
const (
	MethodSendMessageToTCPClients = "SendMessageToTCPClients"
	MethodGetTCPStatus            = "GetTCPStatus"
	MethodSendCommandToTCPClient  = "SendCommandToTCPClient"
	MethodSendLog                 = "SendLog"
	MethodSendMetrics             = "SendMetrics"
	MethodGetAllMetrics           = "GetAllMetrics"
	MethodRequestAllMetrics       = "RequestAllMetrics"
	MethodGetConnectedClients     = "GetConnectedClients"
	MethodGetLogHistory           = "GetLogHistory"
)

// MetricsPayload carries ReceiveMetrics and SendMetrics.
type MetricsPayload struct {
	ClientID string             `json:"clientId"`
	Metrics  sink.SystemMetrics `json:"metrics"`
}

// ClientPayload carries ClientConnected and ClientDisconnected.
type ClientPayload struct {
	ClientID string `json:"clientId"`
}

// StatusPayload carries ReceiveTCPStatus and the GetTCPStatus result.
type StatusPayload struct {
	Message string `json:"message"`
}

// ErrorPayload carries Error.
type ErrorPayload struct {
	Error string `json:"error"`
}

// MessageRequest is the SendMessageToTCPClients payload.
type MessageRequest struct {
	Message string `json:"message"`
}

// CommandRequest is the SendCommandToTCPClient payload.
type CommandRequest struct {
	ClientID string `json:"clientId"`
	Command  string `json:"command"`
}

// LogRequest is the SendLog payload. Timestamp is RFC 3339.
type LogRequest struct {
	ClientID  string `json:"clientId"`
	LogLevel  string `json:"logLevel"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// HistoryRequest is the GetLogHistory payload. Zero bounds are open.
type HistoryRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SubscriberInfo describes a dashboard connection that identified itself.
type SubscriberInfo struct {
	ConnectionID  string    `json:"connectionId"`
	ClientID      string    `json:"clientId"`
	ConnectedTime time.Time `json:"connectedTime"`
	LastActivity  time.Time `json:"lastActivity"`
}

func encode(typ, id string, payload any) ([]byte, error) {
	env := Envelope{Type: typ, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
