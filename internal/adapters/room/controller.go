package room

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/app"
	"github.com/voicesell/bridge/internal/core"
	"github.com/voicesell/bridge/internal/domain"
	"github.com/voicesell/bridge/internal/grant"
	"github.com/voicesell/bridge/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller owns the ws side of the room transport. The room a participant
// lands in comes from its token's video claim, never from the request.
type Controller struct {
	Rooms    core.RoomFactory
	Registry *app.Registry
	Verifier *grant.Verifier
	Policy   app.Policy

	ReadLimit int64

	// OnFirstHumanJoin, when set, is invoked once per room when its first
	// non-agent member is admitted. Used to dispatch the agent participant.
	OnFirstHumanJoin func(domain.RoomName)
}

func NewController(rooms core.RoomFactory, reg *app.Registry, verifier *grant.Verifier) *Controller {
	return &Controller{
		Rooms:    rooms,
		Registry: reg,
		Verifier: verifier,
		Policy:   app.SimplePolicy{},
	}
}

func (ctl *Controller) HandleRTC(ctx context.Context, c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := ctl.Verifier.Verify(tokenString)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.room").Msg("token rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	identity := domain.ParticipantIdentity(claims.Subject)
	roomName := domain.RoomName(claims.Video.Room)
	log.Info().Str("module", "adapters.room").Str("identity", string(identity)).Str("room", string(roomName)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.room").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := NewWsParticipantConn(ws)
	meta := domain.NewParticipant(identity, claims.Name, claims.Agent)
	sess := core.NewParticipantSession(meta, conn)

	room := ctl.Rooms.GetOrCreate(roomName)
	hadAgent := ctl.roomHasAgent(room)
	room.AddMember(sess)

	connCtx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(roomName, identity, sess, cancel)

	// Admission ack: the joining side treats this as "connected".
	ctl.sendEnvelope(conn, wire.Envelope{
		Type:     wire.TypeJoined,
		Identity: string(identity),
		Room:     string(roomName),
	})
	ctl.broadcast(room, identity, wire.Envelope{
		Type:     wire.TypeMemberJoin,
		Identity: string(identity),
		Agent:    claims.Agent,
	})

	if !claims.Agent && !hadAgent && ctl.OnFirstHumanJoin != nil {
		go ctl.OnFirstHumanJoin(roomName)
	}

	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, room, sess, conn)
}

func (ctl *Controller) roomHasAgent(room core.RoomService) bool {
	for _, m := range room.MembersSnapshot() {
		if m.Agent {
			return true
		}
	}
	return false
}

// leave tears down membership after the read pump exits. Empty rooms are
// dropped immediately; room names are never reused across sessions.
func (ctl *Controller) leave(room core.RoomService, sess core.ParticipantSession) {
	identity := sess.Meta().Identity
	removed := room.RemoveMember(sess)
	ctl.Registry.Unbind(room.Room().Name, identity, sess)
	if !removed {
		// A newer connection for this identity already took the slot; its
		// membership and the room stay untouched.
		return
	}
	ctl.broadcast(room, identity, wire.Envelope{
		Type:     wire.TypeMemberLeft,
		Identity: string(identity),
	})
	if room.MemberCount() == 0 {
		ctl.Rooms.StopRoom(room.Room().Name)
		log.Info().Str("module", "adapters.room").Str("room", string(room.Room().Name)).Msg("room stopped")
	}
}

func (ctl *Controller) broadcast(room core.RoomService, from domain.ParticipantIdentity, env wire.Envelope) {
	b, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.room").Msg("broadcast encode")
		return
	}
	res := room.Broadcast(from, core.Frame(b))
	for _, slow := range res.Dropped {
		if ctl.Policy.OnBackPressure(room, slow) == app.KickMember {
			ctl.Registry.Cancel(room.Room().Name, slow.Meta().Identity)
		}
	}
}

func (ctl *Controller) sendEnvelope(conn *WsParticipantConn, env wire.Envelope) {
	b, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.room").Msg("send encode")
		return
	}
	_ = conn.TrySend(core.Frame(b))
}
