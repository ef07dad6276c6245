package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rickgao/tcp-relay/internal/command"
	"github.com/rickgao/tcp-relay/internal/framing"
	"github.com/rickgao/tcp-relay/internal/sink"
)

// handle owns conn for its whole life: it registers the peer, reads and
// dispatches messages until the stream ends, and cleans up exactly once.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	p := newPeer(conn)

	if err := s.registry.Add(p.ID(), p); err != nil {
		s.rejected.Add(1)
		s.logger.Warn("rejecting connection", "client_id", p.ID(), "error", err)
		s.publishLog(sink.LevelWarning, fmt.Sprintf("TCP Client %s rejected: %v", p.ID(), err))
		p.Close()
		return
	}

	// Unblock the read when the server stops. Covers a peer registered
	// after Stop drained the registry.
	stop := context.AfterFunc(ctx, func() { p.Close() })
	defer stop()

	defer func() {
		// Only this handler removes its own entry.
		s.registry.Remove(p.ID())
		p.Close()
		s.logger.Info("client disconnected", "client_id", p.ID())
		s.publishLog(sink.LevelInfo, "TCP Client disconnected: "+p.ID())
	}()

	s.logger.Info("client connected", "client_id", p.ID())
	s.publishLog(sink.LevelInfo, "TCP Client connected: "+p.ID())

	if err := s.serve(ctx, p); err != nil {
		s.faults.Add(1)
		s.logger.Warn("client error", "client_id", p.ID(), "error", err)
		s.publishLog(sink.LevelError, fmt.Sprintf("TCP Client %s error: %v", p.ID(), err))
	}
}

// serve reads from p until end of stream. A nil return means the peer
// closed the connection or the server is stopping.
func (s *Server) serve(ctx context.Context, p *peer) error {
	asm := framing.NewAssembler(framing.WithMaxLine(s.cfg.MaxLineBytes))
	buf := make([]byte, s.cfg.ReadBufferBytes)

	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			lines, ferr := asm.Feed(buf[:n])
			for text := range lines {
				s.dispatch(p, text)
			}
			if ferr != nil {
				return fmt.Errorf("frame message: %w", ferr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// dispatch forwards one message to the sink and answers it if it is a
// command. Residual bytes at end of stream never reach here.
func (s *Server) dispatch(p *peer, text string) {
	s.messages.Add(1)
	now := s.now()

	s.sink.PublishRelayMessage(sink.RelayMessage{
		ClientID:  p.ID(),
		Text:      text,
		Timestamp: now,
	})
	s.sink.PublishLog(sink.LogEvent{
		ClientID:   sink.ServerClientID,
		Level:      sink.LevelInfo,
		Message:    fmt.Sprintf("TCP [%s]: %s", p.ID(), text),
		Timestamp:  now,
		ServerTime: now,
	})

	body, ok := command.Parse(text)
	if !ok {
		return
	}

	s.commandCount.Add(1)
	reply := s.commands.Handle(body)
	if err := p.Send(reply); err != nil {
		// The read side surfaces the broken stream.
		s.logger.Debug("command reply failed", "client_id", p.ID(), "error", err)
	}
}
