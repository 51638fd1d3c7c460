package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventKind distinguishes Session events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventPlayerJoined
	EventPlayerLeft
	EventMessage
	// EventRejected reports an inbound link closed for lack of capacity.
	EventRejected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventPlayerJoined:
		return "player_joined"
	case EventPlayerLeft:
		return "player_left"
	case EventMessage:
		return "message"
	case EventRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Event is one notification from a Session.
type Event struct {
	Kind     EventKind
	Peer     string
	Nickname string
	Data     []byte
	// Err is the close cause on EventDisconnected; nil for a clean close.
	Err error
	// Connections is the link count at the time of an EventRejected.
	Connections int
}

// link is one websocket with serialized writes.
type link struct {
	peer      string
	nickname  string
	conn      *websocket.Conn
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newLink(peer, nickname string, conn *websocket.Conn, writeWait time.Duration) *link {
	return &link{peer: peer, nickname: nickname, conn: conn, writeWait: writeWait}
}

func (l *link) write(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(l.writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *link) close(code int, reason string) {
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		message := websocket.FormatCloseMessage(code, reason)
		l.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		l.writeMu.Unlock()
		l.conn.Close()
	})
}
