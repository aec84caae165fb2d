package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/core"
	"github.com/voicesell/bridge/internal/domain"
)

type registryKey struct {
	Room     domain.RoomName
	Identity domain.ParticipantIdentity
}

type sessionEntry struct {
	Session core.ParticipantSession
	Cancel  context.CancelFunc
}

// Registry tracks live participant sessions by (room, identity). Identities
// are only unique within a room: the agent identity is a fixed per-tenant
// constant and is live in every active room at once, so keying by bare
// identity would let concurrent sessions tear down each other's agent.
// A second bind for the same (room, identity) is a stale-connection
// replacement and cancels the old connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[registryKey]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[registryKey]*sessionEntry),
	}
}

func (r *Registry) Bind(
	room domain.RoomName,
	identity domain.ParticipantIdentity,
	sess core.ParticipantSession,
	cancel context.CancelFunc,
) {
	key := registryKey{Room: room, Identity: identity}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[key]; ok && old.Cancel != nil {
		old.Cancel()
	}
	r.sessions[key] = &sessionEntry{
		Session: sess,
		Cancel:  cancel,
	}
	log.Info().Str("module", "app.registry").Str("identity", string(identity)).Str("room", string(room)).Msg("bound session")
}

func (r *Registry) Get(room domain.RoomName, identity domain.ParticipantIdentity) (core.ParticipantSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[registryKey{Room: room, Identity: identity}]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes the entry only if sess is still the bound session. A stale
// connection unbinding on its way out must not evict the connection that
// replaced it.
func (r *Registry) Unbind(room domain.RoomName, identity domain.ParticipantIdentity, sess core.ParticipantSession) {
	key := registryKey{Room: room, Identity: identity}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[key]
	if !ok || e.Session != sess {
		return
	}
	delete(r.sessions, key)
	log.Info().Str("module", "app.registry").Str("identity", string(identity)).Str("room", string(room)).Msg("unbind session")
}

// Cancel fires the connection-scoped cancel func, which tears down the pumps.
func (r *Registry) Cancel(room domain.RoomName, identity domain.ParticipantIdentity) bool {
	r.mu.RLock()
	e, ok := r.sessions[registryKey{Room: room, Identity: identity}]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("identity", string(identity)).Str("room", string(room)).Msg("canceled session")
	return true
}
