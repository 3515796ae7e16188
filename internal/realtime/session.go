package realtime

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	outboxSize   = 16
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Session is one WebSocket connection subscribed to a user's topic.
type Session struct {
	hub    *Hub
	conn   *ws.Conn
	userID string
	outbox chan []byte
}

func newSession(hub *Hub, conn *ws.Conn, userID string) *Session {
	return &Session{
		hub:    hub,
		conn:   conn,
		userID: userID,
		outbox: make(chan []byte, outboxSize),
	}
}

// serve writes greeting, then every event queued for the session, until the
// peer disconnects or ctx ends. The feed is one-way: a data frame from the
// peer closes the connection.
func (s *Session) serve(ctx context.Context, greeting []byte) {
	s.hub.Register(s)
	defer s.hub.Unregister(s)

	ctx = s.conn.CloseRead(ctx)

	if greeting != nil && !s.write(ctx, greeting) {
		return
	}

	heartbeat := time.NewTicker(pingInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.outbox:
			if !ok {
				s.conn.Close(ws.StatusGoingAway, "session closed")
				return
			}
			if !s.write(ctx, msg) {
				return
			}
		case <-heartbeat.C:
			if err := s.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (s *Session) write(ctx context.Context, msg []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, ws.MessageText, msg) == nil
}
