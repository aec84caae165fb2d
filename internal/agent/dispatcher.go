package agent

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/client"
	"github.com/voicesell/bridge/internal/domain"
	"github.com/voicesell/bridge/internal/grant"
)

// Dispatcher joins the agent participant into a session room. It mints the
// agent's own grant for the named room; the agent identity is well-known per
// tenant and never varies across sessions.
type Dispatcher struct {
	Issuer     *grant.Issuer
	Tenant     domain.TenantConfig
	Transport  client.Transport
	WebhookURL string
}

// Dispatch connects the agent to the room and serves it until the session
// ends. Intended to run in its own goroutine, once per room.
func (d *Dispatcher) Dispatch(roomName domain.RoomName) {
	g, err := d.Issuer.IssueFor(d.Tenant.Agent(), roomName, d.Tenant.CompanyName+" Agent", true)
	if err != nil {
		log.Error().Err(err).Str("module", "agent.dispatch").Str("room", string(roomName)).Msg("agent grant issuance failed")
		return
	}

	conn, err := d.Transport.Connect(context.Background(), g.Endpoint, g.Token)
	if err != nil {
		log.Error().Err(err).Str("module", "agent.dispatch").Str("room", string(roomName)).Msg("agent connect failed")
		return
	}

	log.Info().Str("module", "agent.dispatch").Str("room", string(roomName)).Str("identity", string(g.Identity)).Msg("agent dispatched")
	sess := NewSession(conn, d.WebhookURL)
	if err := sess.Run(context.Background()); err != nil && err != context.Canceled {
		log.Error().Err(err).Str("module", "agent.dispatch").Str("room", string(roomName)).Msg("agent session ended with error")
	}
}
