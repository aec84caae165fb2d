// Package wire defines the JSON frames exchanged over a room's data channel.
// All RPC payloads are opaque strings here; endpoints own their schemas.
package wire

import "encoding/json"

const (
	TypeRPCRequest  = "rpc_request"
	TypeRPCResponse = "rpc_response"
	TypeJoined      = "joined"
	TypeMemberJoin  = "participant_joined"
	TypeMemberLeft  = "participant_left"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"
)

// Envelope is the single frame shape on the wire; Type selects which fields
// are meaningful.
type Envelope struct {
	Type string `json:"type"`

	// rpc_request / rpc_response correlation.
	ID      string          `json:"id,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  string          `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`

	// joined / participant_joined / participant_left.
	Identity string `json:"identity,omitempty"`
	Room     string `json:"room,omitempty"`
	Agent    bool   `json:"agent,omitempty"`
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
