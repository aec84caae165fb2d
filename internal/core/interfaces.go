package core

import "github.com/voicesell/bridge/internal/domain"

// Frame is a raw encoded wire frame.
type Frame []byte

// SignalConnection abstracts the per-participant messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// ParticipantSession binds a domain.Participant and its transport endpoint.
// This is what a room stores and routes to.
type ParticipantSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the adapter.
type PublishResult struct {
	SentTo  int
	Dropped []ParticipantSession
}

// ParticipantDTO is a read-only view for APIs (no transport fields).
type ParticipantDTO struct {
	Identity domain.ParticipantIdentity `json:"identity"`
	Name     string                     `json:"name"`
	Agent    bool                       `json:"agent"`
}

// RoomService is the core-facing API of a room. It owns the membership set
// but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []ParticipantDTO

	AddMember(ParticipantSession)
	// RemoveMember evicts ps only if it is still the room's current session
	// for its identity; it reports whether a removal happened. A stale
	// connection leaving must not evict the session that replaced it.
	RemoveMember(ps ParticipantSession) bool
	Lookup(identity domain.ParticipantIdentity) (ParticipantSession, bool)

	// Deliver sends an addressed frame to exactly one member.
	Deliver(to domain.ParticipantIdentity, data Frame) error
	// Broadcast fans a frame out to every member except the sender.
	Broadcast(from domain.ParticipantIdentity, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

type RoomFactory interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	StopRoom(name domain.RoomName)
}
