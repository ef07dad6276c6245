package framing

import (
	"bytes"
	"errors"
	"iter"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Errors
var (
	ErrLineTooLong = errors.New("unterminated line exceeds limit")
)

// Assembler accumulates bytes from a single stream and cuts them into lines.
// It is not safe for concurrent use; each connection owns its own Assembler.
type Assembler struct {
	buf     []byte
	scanned int // prefix of buf known to hold no '\n'
	tail    int // bytes after the last '\n' in buf
	maxLine int // 0 = unbounded
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMaxLine bounds the number of unterminated bytes an Assembler will hold.
// A limit of 0 or less means unbounded.
func WithMaxLine(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxLine = n
		}
	}
}

// NewAssembler creates an empty Assembler.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Feed appends p to the pending buffer and returns a sequence over every
// complete message now available. The sequence is lazy: lines are cut from
// the buffer as they are consumed, so any line the caller does not reach
// stays buffered and is yielded by the next Feed.
//
// An empty p adds nothing and is not a message boundary.
//
// If a limit is configured and the bytes after the last terminator exceed
// it, Feed returns ErrLineTooLong. The complete lines before that point are
// still available through the returned sequence.
func (a *Assembler) Feed(p []byte) (iter.Seq[string], error) {
	a.buf = append(a.buf, p...)
	if i := bytes.LastIndexByte(p, '\n'); i >= 0 {
		a.tail = len(p) - i - 1
	} else {
		a.tail += len(p)
	}

	var err error
	if a.maxLine > 0 && a.tail > a.maxLine {
		err = ErrLineTooLong
	}

	return a.lines, err
}

// lines yields complete messages from the front of the buffer.
func (a *Assembler) lines(yield func(string) bool) {
	for {
		i := bytes.IndexByte(a.buf[a.scanned:], '\n')
		if i < 0 {
			a.scanned = len(a.buf)
			a.compact()
			return
		}
		i += a.scanned

		line := a.buf[:i]
		a.buf = a.buf[i+1:]
		a.scanned = 0

		msg := Decode(line)
		if msg == "" {
			continue
		}
		if !yield(msg) {
			return
		}
	}
}

// compact moves the residual to the start of a fresh slice so a long-lived
// connection does not pin the backing array of every line it has seen.
func (a *Assembler) compact() {
	if len(a.buf) == 0 {
		a.buf = nil
		return
	}
	if cap(a.buf) > 2*len(a.buf) {
		a.buf = append([]byte(nil), a.buf...)
	}
}

// Pending returns the number of bytes buffered without a terminator or not
// yet consumed.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Reset discards all pending bytes.
func (a *Assembler) Reset() {
	a.buf = nil
	a.scanned = 0
	a.tail = 0
}

// Decode converts one raw line to trimmed UTF-8 text. Invalid UTF-8 is
// replaced rather than rejected.
func Decode(line []byte) string {
	decoded, err := unicode.UTF8.NewDecoder().Bytes(line)
	if err != nil {
		decoded = bytes.ToValidUTF8(line, []byte("\uFFFD"))
	}
	return strings.TrimSpace(string(decoded))
}
