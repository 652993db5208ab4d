package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrSinkClosed = errors.New("sink closed")

// Sink is one live subscriber connection.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// WSSink writes messages to a gorilla websocket connection. Writes are
// serialized; gorilla allows one concurrent writer.
type WSSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func NewWSSink(conn *websocket.Conn, writeTimeout time.Duration) *WSSink {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSSink{conn: conn, writeTimeout: writeTimeout}
}

func (s *WSSink) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.writeTimeout)
	if ctx != nil {
		if cd, ok := ctx.Deadline(); ok && cd.Before(d) && cd.After(time.Now()) {
			d = cd
		}
	}
	return d
}

func (s *WSSink) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if err := s.conn.SetWriteDeadline(s.deadline(ctx)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// Ping sends a control frame. WriteControl is safe alongside Send.
func (s *WSSink) Ping() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

func (s *WSSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
