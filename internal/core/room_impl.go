package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/domain"
)

var ErrNoSuchMember = errors.New("no such member")

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room       *domain.Room
	mu         sync.RWMutex
	byIdentity map[domain.ParticipantIdentity]ParticipantSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:       room,
		byIdentity: make(map[domain.ParticipantIdentity]ParticipantSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}

func (r *roomImpl) AddMember(ps ParticipantSession) {
	id := ps.Meta().Identity
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIdentity[id] = ps
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("identity", string(id)).Msg("member added")
}

func (r *roomImpl) RemoveMember(ps ParticipantSession) bool {
	identity := ps.Meta().Identity
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byIdentity[identity]; !ok || cur != ps {
		return false
	}
	delete(r.byIdentity, identity)
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("identity", string(identity)).Msg("member removed")
	return true
}

func (r *roomImpl) Lookup(identity domain.ParticipantIdentity) (ParticipantSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.byIdentity[identity]
	return ps, ok
}

func (r *roomImpl) Deliver(to domain.ParticipantIdentity, data Frame) error {
	r.mu.RLock()
	ps, ok := r.byIdentity[to]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSuchMember
	}
	return ps.Signal().TrySend(data)
}

func (r *roomImpl) Broadcast(from domain.ParticipantIdentity, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.byIdentity {
		if id == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []ParticipantDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ParticipantDTO, 0, len(r.byIdentity))
	for _, ps := range r.byIdentity {
		p := ps.Meta()
		out = append(out, ParticipantDTO{Identity: p.Identity, Name: p.Name, Agent: p.Agent})
	}
	return out
}
