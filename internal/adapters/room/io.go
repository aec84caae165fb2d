package room

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/app"
	"github.com/voicesell/bridge/internal/core"
	"github.com/voicesell/bridge/internal/domain"
	"github.com/voicesell/bridge/internal/wire"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsParticipantConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.room").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "adapters.room").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.room").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.room").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, room core.RoomService, sess core.ParticipantSession, c *WsParticipantConn) {
	identity := sess.Meta().Identity
	defer func() {
		log.Info().Str("module", "adapters.room").Str("identity", string(identity)).Msg("readPump closing")
		c.Close()
		ctl.leave(room, sess)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.room").Str("identity", string(identity)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "adapters.room").Str("identity", string(identity)).Msg("readPump read error")
				}
				return
			}
			ctl.handleFrame(room, identity, c, data)
		}
	}
}

func (ctl *Controller) handleFrame(room core.RoomService, identity domain.ParticipantIdentity, c *WsParticipantConn, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.room").Msg("bad json")
		ctl.sendEnvelope(c, wire.Envelope{Type: wire.TypeError, Error: "bad_payload"})
		return
	}

	switch env.Type {
	case wire.TypePing:
		ctl.sendEnvelope(c, wire.Envelope{Type: wire.TypePong})
	case wire.TypeRPCRequest:
		ctl.routeRequest(room, identity, c, env)
	case wire.TypeRPCResponse:
		ctl.routeResponse(room, identity, env)
	default:
		log.Warn().Str("module", "adapters.room").Str("type", env.Type).Msg("unknown frame")
	}
}

// routeRequest forwards an addressed RPC request to its destination member.
// The sender identity is stamped server-side; whatever the client put in
// "from" is discarded.
func (ctl *Controller) routeRequest(room core.RoomService, identity domain.ParticipantIdentity, c *WsParticipantConn, env wire.Envelope) {
	env.From = string(identity)
	b, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.room").Msg("request encode")
		return
	}

	dest := domain.ParticipantIdentity(env.To)
	if err := room.Deliver(dest, core.Frame(b)); err != nil {
		if errors.Is(err, core.ErrNoSuchMember) {
			log.Warn().Str("module", "adapters.room").Str("to", env.To).Str("method", env.Method).Msg("rpc destination not found")
			ctl.sendEnvelope(c, wire.Envelope{
				Type:  wire.TypeRPCResponse,
				ID:    env.ID,
				To:    string(identity),
				Error: "destination not found",
			})
			return
		}
		// Send buffer full: the destination is too slow to hold a session.
		ctl.kickOnBackpressure(room, dest)
		ctl.sendEnvelope(c, wire.Envelope{
			Type:  wire.TypeRPCResponse,
			ID:    env.ID,
			To:    string(identity),
			Error: "destination unreachable",
		})
	}
}

func (ctl *Controller) routeResponse(room core.RoomService, identity domain.ParticipantIdentity, env wire.Envelope) {
	env.From = string(identity)
	b, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.room").Msg("response encode")
		return
	}
	if err := room.Deliver(domain.ParticipantIdentity(env.To), core.Frame(b)); err != nil {
		// The caller may already be gone; a response has nowhere else to go.
		log.Warn().Err(err).Str("module", "adapters.room").Str("to", env.To).Msg("rpc response dropped")
	}
}

func (ctl *Controller) kickOnBackpressure(room core.RoomService, identity domain.ParticipantIdentity) {
	sess, ok := room.Lookup(identity)
	if !ok {
		return
	}
	if ctl.Policy.OnBackPressure(room, sess) == app.KickMember {
		ctl.Registry.Cancel(room.Room().Name, identity)
	}
}
