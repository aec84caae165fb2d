// Package client is the participant-side library: it fetches connection
// grants, drives the session connection state machine, and carries addressed
// RPC exchanges with the remote agent over the room transport.
package client

import (
	"context"

	"github.com/voicesell/bridge/internal/domain"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMediaDeviceError
	EventTransportError
	EventParticipantJoined
	EventParticipantLeft
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMediaDeviceError:
		return "media_device_error"
	case EventTransportError:
		return "transport_error"
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	}
	return "unknown"
}

// Event is one transport life cycle notification.
type Event struct {
	Kind     EventKind
	Identity domain.ParticipantIdentity
	Err      error
}

// RPCHandler serves one inbound addressed call. The returned string is the
// acknowledgment sent back to the caller.
type RPCHandler func(ctx context.Context, payload []byte) (string, error)

// Conn is an established room connection. Implementations deliver
// EventConnected once admitted and EventDisconnected exactly once on close.
type Conn interface {
	Events() <-chan Event
	PerformRPC(ctx context.Context, to domain.ParticipantIdentity, method string, payload []byte) (string, error)
	RegisterRPCHandler(method string, h RPCHandler)
	LocalIdentity() domain.ParticipantIdentity
	Close() error
}

// Transport opens room connections from an endpoint plus a signed token.
type Transport interface {
	Connect(ctx context.Context, endpoint, token string) (Conn, error)
}

// MediaSource is the capture device the transport acquires on connect.
// Acquisition failure is non-fatal for the transport itself and surfaces as
// an EventMediaDeviceError.
type MediaSource interface {
	Open(ctx context.Context) error
	Close() error
}

// RemoteError reports that the destination participant was absent,
// unreachable, or rejected the call.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}
