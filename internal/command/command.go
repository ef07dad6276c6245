// Package command implements the relay's in-band command sub-protocol.
//
// A peer sends "COMMAND:<body>\n"; the body is matched case-insensitively
// and the reply is written back to that peer only.
package command

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Prefix marks a message as a command.
const Prefix = "COMMAND:"

// Known command bodies (upper-case form).
const (
	GetStatus  = "GET_STATUS"
	GetClients = "GET_CLIENTS"
)

// Reply prefixes.
const (
	replyStatusOK = "STATUS:OK"
	replyClients  = "CLIENTS:"
	replyUnknown  = "UNKNOWN_COMMAND:"
)

// Counter reports the number of live connections.
type Counter interface {
	Count() int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func() int

// Count calls f.
func (f CounterFunc) Count() int { return f() }

// Processor computes replies to command bodies.
type Processor struct {
	clients Counter
}

// NewProcessor creates a Processor that answers GET_CLIENTS from clients.
func NewProcessor(clients Counter) *Processor {
	return &Processor{clients: clients}
}

// Parse reports whether text is a command and returns its trimmed body.
func Parse(text string) (body string, ok bool) {
	rest, ok := strings.CutPrefix(text, Prefix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// Handle returns the reply for a command body. Unknown bodies are echoed
// back unchanged in an UNKNOWN_COMMAND reply.
func (p *Processor) Handle(body string) string {
	switch Name(body) {
	case GetStatus:
		return replyStatusOK
	case GetClients:
		return replyClients + strconv.Itoa(p.clients.Count())
	default:
		return replyUnknown + body
	}
}

// Name returns the case-folded dispatch key for body.
// A Caser is not safe for concurrent use, so one is built per call.
func Name(body string) string {
	return cases.Upper(language.Und).String(body)
}
