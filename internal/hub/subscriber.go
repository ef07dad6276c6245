package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// subscriber is one dashboard WebSocket connection.
type subscriber struct {
	id          string // Hub-assigned connection ID
	clientID    string // Self-declared via ?clientId=, may be empty
	conn        *websocket.Conn
	connectedAt time.Time

	lastActivity atomic.Int64 // Unix nanos
	closed       atomic.Bool
	closeOnce    sync.Once
	writeMu      sync.Mutex // gorilla/websocket allows one concurrent writer
}

func (s *subscriber) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func (s *subscriber) info() SubscriberInfo {
	return SubscriberInfo{
		ConnectionID:  s.id,
		ClientID:      s.clientID,
		ConnectedTime: s.connectedAt,
		LastActivity:  time.Unix(0, s.lastActivity.Load()),
	}
}

func (s *subscriber) write(data []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
