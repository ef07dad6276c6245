// Package hub pushes relay activity to dashboard clients over WebSocket
// and lets them drive the relay.
//
// Every frame in either direction is a JSON Envelope. Server pushes use the
// event names (ReceiveLog, ReceiveTCPMessage, ReceiveMetrics,
// ClientConnected, ClientDisconnected, ReceiveTCPStatus). Requests use the
// method names (SendMessageToTCPClients, GetTCPStatus, ...); methods that
// return a value answer with a Result envelope carrying the request ID.
//
// The hub is itself a sink.Sink. Logs and metrics that dashboard agents
// submit go to an Ingest (normally the sink dispatcher) so they reach the
// same sinks as relay events, including the hub.
package hub
