// Package domain contains entity without logic, just meta-data
package domain

type (
	RoomName            string
	ParticipantIdentity string
)

type Room struct {
	Name RoomName
}

// Participant is the per-room view of one endpoint, human or agent.
// No transport or lifecycle logic here.
type Participant struct {
	Identity ParticipantIdentity `json:"identity"`
	Name     string              `json:"name,omitempty"`
	Agent    bool                `json:"agent,omitempty"`
}

func NewParticipant(identity ParticipantIdentity, name string, agent bool) *Participant {
	return &Participant{Identity: identity, Name: name, Agent: agent}
}

// GrantSet is the exact permission set a token authorizes on its room.
type GrantSet struct {
	Join      bool `json:"roomJoin"`
	Publish   bool `json:"canPublish"`
	Subscribe bool `json:"canSubscribe"`
}

// AuthorizationGrant is one issued, signed room authorization. Immutable;
// valid for the signing scheme's embedded window; never persisted server-side.
type AuthorizationGrant struct {
	Token    string
	Room     RoomName
	Identity ParticipantIdentity
	Endpoint string
	Grants   GrantSet
}
