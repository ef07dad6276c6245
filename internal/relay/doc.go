// Package relay implements the TCP relay server.
//
// Each accepted connection gets its own goroutine that frames the byte
// stream into newline-terminated messages. Commands ("COMMAND:<body>") are
// answered to the sender; every message is forwarded to a sink.Sink along
// with a log event.
//
//	accept ──► handle ──► framing.Assembler ──► command? ──► reply to peer
//	                                       └──────────────► sink.Sink
//
// The operator side (SendToOne, SendToMany, BroadcastToAll) writes over a
// registry snapshot. Per-target failures are reported in DeliveryResult and
// never abort the remaining targets.
package relay
