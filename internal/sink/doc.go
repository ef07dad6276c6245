// Package sink defines the events a relay publishes and the fire-and-forget
// fan-out that delivers them.
//
// Event flow:
//
//	relay.Server ──► Dispatcher (unbounded FIFO) ──► hub.Hub       (dashboards)
//	                                             ├─► natssink.Sink (NATS subjects)
//	                                             ├─► LogSink       (slog)
//	                                             └─► History       (recent logs)
//
// Publishing never blocks and never returns an error. A sink that fails or
// panics loses that one event and nothing else.
package sink
