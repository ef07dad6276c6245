// Package framing reassembles newline-delimited text messages from a raw
// byte stream.
//
// An Assembler is fed whatever a socket read returned and yields every
// complete line seen so far:
//   - Lines are cut at '\n' and decoded as UTF-8; invalid sequences become U+FFFD
//   - Surrounding whitespace (including a trailing '\r') is trimmed
//   - Lines that are empty after trimming are dropped
//   - Bytes after the last '\n' stay pending until the next Feed
//
// Pending bytes are never flushed at end of stream. A peer that closes
// without a final newline loses its last partial line.
package framing
