// Package room is the websocket adapter for the room transport: it admits
// token-bearing participants, runs their read/write pumps, and routes
// addressed RPC frames between members of one room.
package room

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/voicesell/bridge/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type WsParticipantConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWsParticipantConn(ws *websocket.Conn) *WsParticipantConn {
	return &WsParticipantConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
}

func (c *WsParticipantConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsParticipantConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
