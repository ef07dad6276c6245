package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// peer is one accepted TCP connection. Writes are serialised so a reply
// and a broadcast never interleave on the wire.
type peer struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newPeer(conn net.Conn) *peer {
	return &peer{
		id:   peerID(conn),
		conn: conn,
	}
}

// peerID returns "<ip>:<port>" of the remote end.
func peerID(conn net.Conn) string {
	return conn.RemoteAddr().String()
}

// ID returns the peer identity.
func (p *peer) ID() string {
	return p.id
}

// Send writes text followed by a newline.
func (p *peer) Send(text string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.conn.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("write to %s: %w", p.id, err)
	}
	return nil
}

// Close closes the connection. Only the first call does anything; later
// calls return the first result.
func (p *peer) Close() error {
	p.closeOnce.Do(func() {
		if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			p.closeErr = fmt.Errorf("close %s: %w", p.id, err)
		}
	})
	return p.closeErr
}
