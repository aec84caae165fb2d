package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/domain"
	"github.com/voicesell/bridge/internal/grant"
	"github.com/voicesell/bridge/internal/wire"
)

// WebsocketTransport dials the room endpoint with the grant token and speaks
// wire.Envelope frames over gorilla/websocket.
type WebsocketTransport struct {
	Dialer     *websocket.Dialer
	Media      MediaSource
	PingPeriod time.Duration
}

func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{
		Dialer:     websocket.DefaultDialer,
		PingPeriod: 54 * time.Second,
	}
}

func (t *WebsocketTransport) Connect(ctx context.Context, endpoint, token string) (Conn, error) {
	claims, err := grant.PeekClaims(token)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// The configured endpoint may already carry query parameters.
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse room endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, _, err := t.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial room endpoint: %w", err)
	}

	c := newWsConn(ws, domain.ParticipantIdentity(claims.Subject), t.Media, t.PingPeriod)
	go c.readLoop()
	go c.writeLoop()

	if t.Media != nil {
		if err := t.Media.Open(ctx); err != nil {
			log.Warn().Err(err).Str("module", "client.transport").Msg("media source open failed")
			c.emit(Event{Kind: EventMediaDeviceError, Err: err})
		}
	}
	return c, nil
}

type wsConn struct {
	ws         *websocket.Conn
	identity   domain.ParticipantIdentity
	events     chan Event
	send       chan []byte
	done       chan struct{}
	media      MediaSource
	pingPeriod time.Duration

	// ctx ends with the connection; inbound handlers run under it so they
	// cannot outlive the connection that delivered the call.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  map[string]chan wire.Envelope
	handlers map[string]RPCHandler

	closeOnce sync.Once
}

func newWsConn(ws *websocket.Conn, identity domain.ParticipantIdentity, media MediaSource, pingPeriod time.Duration) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsConn{
		ws:         ws,
		identity:   identity,
		events:     make(chan Event, 16),
		send:       make(chan []byte, 32),
		done:       make(chan struct{}),
		media:      media,
		pingPeriod: pingPeriod,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]chan wire.Envelope),
		handlers:   make(map[string]RPCHandler),
	}
}

func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) LocalIdentity() domain.ParticipantIdentity { return c.identity }

func (c *wsConn) RegisterRPCHandler(method string, h RPCHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

func (c *wsConn) PerformRPC(ctx context.Context, to domain.ParticipantIdentity, method string, payload []byte) (string, error) {
	id := uuid.NewString()
	ch := make(chan wire.Envelope, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	env := wire.Envelope{
		Type:    wire.TypeRPCRequest,
		ID:      id,
		To:      string(to),
		Method:  method,
		Payload: json.RawMessage(payload),
	}
	b, err := env.Encode()
	if err != nil {
		return "", fmt.Errorf("encode rpc request: %w", err)
	}
	if err := c.trySend(b); err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", errors.New("connection closed")
	case resp := <-ch:
		if resp.Error != "" {
			return "", &RemoteError{Message: resp.Error}
		}
		return resp.Result, nil
	}
}

func (c *wsConn) Close() error {
	c.shutdown()
	return nil
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		if c.media != nil {
			_ = c.media.Close()
		}
		_ = c.ws.Close()
		c.emit(Event{Kind: EventDisconnected})
	})
}

// emit never blocks; a consumer that stopped draining loses events rather
// than wedging the read loop.
func (c *wsConn) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("module", "client.transport").Str("event", ev.Kind.String()).Msg("event dropped")
	}
}

func (c *wsConn) trySend(b []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- b:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *wsConn) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Info().Err(err).Str("module", "client.transport").Msg("read loop closed")
			}
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			log.Error().Err(err).Str("module", "client.transport").Msg("bad frame")
			continue
		}
		c.handleFrame(env)
	}
}

func (c *wsConn) handleFrame(env wire.Envelope) {
	switch env.Type {
	case wire.TypeJoined:
		c.emit(Event{Kind: EventConnected, Identity: domain.ParticipantIdentity(env.Identity)})
	case wire.TypeMemberJoin:
		c.emit(Event{Kind: EventParticipantJoined, Identity: domain.ParticipantIdentity(env.Identity)})
	case wire.TypeMemberLeft:
		c.emit(Event{Kind: EventParticipantLeft, Identity: domain.ParticipantIdentity(env.Identity)})
	case wire.TypeRPCResponse:
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		c.mu.Unlock()
		if !ok {
			log.Warn().Str("module", "client.transport").Str("id", env.ID).Msg("response for unknown request")
			return
		}
		select {
		case ch <- env:
		default:
		}
	case wire.TypeRPCRequest:
		go c.dispatchInbound(env)
	case wire.TypePong:
	case wire.TypeError:
		c.emit(Event{Kind: EventTransportError, Err: errors.New(env.Error)})
	default:
		log.Warn().Str("module", "client.transport").Str("type", env.Type).Msg("unknown frame")
	}
}

func (c *wsConn) dispatchInbound(env wire.Envelope) {
	c.mu.Lock()
	h, ok := c.handlers[env.Method]
	c.mu.Unlock()

	resp := wire.Envelope{
		Type: wire.TypeRPCResponse,
		ID:   env.ID,
		To:   env.From,
	}
	if !ok {
		resp.Error = "unknown method: " + env.Method
	} else {
		result, err := h(c.ctx, env.Payload)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}
	}

	b, err := resp.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "client.transport").Msg("encode rpc response")
		return
	}
	if err := c.trySend(b); err != nil {
		log.Warn().Err(err).Str("module", "client.transport").Msg("rpc response dropped")
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "client.transport").Msg("write loop set deadline")
				c.shutdown()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Error().Err(err).Str("module", "client.transport").Msg("write loop write error")
				c.shutdown()
				return
			}
		case <-ticker.C:
			ping, _ := wire.Envelope{Type: wire.TypePing}.Encode()
			if err := c.trySend(ping); err != nil {
				// A full send buffer at ping time means nobody is writing;
				// tear the connection down rather than leave it half-alive.
				log.Warn().Err(err).Str("module", "client.transport").Msg("ping dropped, closing connection")
				c.shutdown()
				return
			}
		}
	}
}
