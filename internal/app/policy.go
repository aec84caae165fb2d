package app

import "github.com/voicesell/bridge/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room core.RoomService, member core.ParticipantSession) BackpressureAction
}

// SimplePolicy kicks a member whose send buffer is full. A participant that
// cannot drain signal frames cannot hold a usable session anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member core.ParticipantSession) BackpressureAction {
	return KickMember
}
