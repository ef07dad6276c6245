package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// client writes newline-terminated messages to a relay and prints what
// comes back.
type client struct {
	conn   net.Conn
	out    io.Writer
	logger *slog.Logger
	done   chan struct{} // Closed when the receive loop ends

	sent     atomic.Int64
	received atomic.Int64
}

type clientStats struct {
	Sent     int64
	Received int64
}

func newClient(conn net.Conn, out io.Writer, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		out:    out,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// receive prints each line from the relay until the connection closes.
func (c *client) receive() {
	defer close(c.done)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		c.received.Add(1)
		fmt.Fprintf(c.out, "< %s\n", scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("receive ended", "error", err)
	}
}

func (c *client) send(text string) error {
	if _, err := io.WriteString(c.conn, text+"\n"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.sent.Add(1)
	c.logger.Debug("sent", "bytes", len(text)+1)
	return nil
}

// sendScript sends msgs in order, count times.
func (c *client) sendScript(ctx context.Context, msgs []string, count int, interval time.Duration) error {
	for i := 0; i < count; i++ {
		for _, m := range msgs {
			if err := ctx.Err(); err != nil {
				return nil
			}
			if err := c.send(m); err != nil {
				return err
			}
			if !sleep(ctx, interval) {
				return nil
			}
		}
	}
	return nil
}

// sendLines sends each non-empty line read from r.
func (c *client) sendLines(ctx context.Context, r io.Reader, interval time.Duration) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.send(line); err != nil {
			return err
		}
		if !sleep(ctx, interval) {
			return nil
		}
	}
	return scanner.Err()
}

func (c *client) Stats() clientStats {
	return clientStats{
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
	}
}

// sleep waits d or until ctx is done. Returns false if ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
