// relayctl is a TCP peer for exercising a relay by hand or from scripts.
// Usage:
//
//	go run ./cmd/relayctl --addr localhost:5555                  # interactive, lines from stdin
//	go run ./cmd/relayctl --send "COMMAND:GET_CLIENTS" --wait 1s  # scripted
//	go run ./cmd/relayctl --send hello --count 1000 --interval 1ms
//
// Every line received from the relay is printed to stdout.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.StringP("addr", "a", "localhost:5555", "relay address")
	sends := pflag.StringArrayP("send", "s", nil, "message to send (repeatable); stdin is used when none")
	count := pflag.Int("count", 1, "times to send the --send messages")
	interval := pflag.Duration("interval", 0, "delay between messages")
	wait := pflag.Duration("wait", 500*time.Millisecond, "time to wait for replies after the last send")
	verbose := pflag.BoolP("verbose", "v", false, "debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect", "addr", *addr, "error", err)
		os.Exit(1)
	}
	logger.Info("connected", "addr", *addr, "local", conn.LocalAddr().String())

	c := newClient(conn, os.Stdout, logger)
	go c.receive()

	var sendErr error
	if len(*sends) > 0 {
		sendErr = c.sendScript(ctx, *sends, *count, *interval)
	} else {
		sendErr = c.sendLines(ctx, os.Stdin, *interval)
	}
	if sendErr != nil {
		logger.Error("send failed", "error", sendErr)
	}

	select {
	case <-ctx.Done():
	case <-c.done:
	case <-time.After(*wait):
	}
	conn.Close()
	<-c.done

	stats := c.Stats()
	logger.Info("disconnected", "sent", stats.Sent, "received", stats.Received)

	if sendErr != nil {
		os.Exit(1)
	}
}
