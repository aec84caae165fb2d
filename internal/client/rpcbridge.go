package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/domain"
)

const (
	// MethodSubmitLeadForm is the outbound call carrying the captured form.
	MethodSubmitLeadForm = "submit_lead_form"
	// MethodDisplayForm is the agent-initiated push asking the client to
	// show a pre-filled form.
	MethodDisplayForm = "display_form"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrRequestInFlight = errors.New("request already in flight")
	ErrRPCTimeout      = errors.New("rpc timed out")
)

// Bridge serializes form submissions into addressed RPC calls. At most one
// call is in flight at a time; the bridge never retries on its own, so a
// failed submission reaches the agent at most once.
type Bridge struct {
	mgr      *Manager
	timeout  time.Duration
	inFlight atomic.Bool
}

func NewBridge(mgr *Manager, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bridge{mgr: mgr, timeout: timeout}
}

// Submit sends the payload to the destination participant and waits for its
// acknowledgment within the configured bound.
func (b *Bridge) Submit(ctx context.Context, payload domain.LeadFormPayload, dest domain.ParticipantIdentity) (string, error) {
	conn, ok := b.mgr.Conn()
	if !ok {
		return "", ErrNotConnected
	}
	if !b.inFlight.CompareAndSwap(false, true) {
		return "", ErrRequestInFlight
	}
	defer b.inFlight.Store(false)

	data, err := payload.Encode()
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := conn.PerformRPC(cctx, dest, MethodSubmitLeadForm, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Str("module", "client.rpc").Str("to", string(dest)).Msg("submission timed out")
			return "", ErrRPCTimeout
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		var re *RemoteError
		if errors.As(err, &re) {
			return "", re
		}
		return "", &RemoteError{Message: err.Error()}
	}

	log.Info().Str("module", "client.rpc").Str("to", string(dest)).Msg("submission acknowledged")
	return result, nil
}

// HandleInbound registers a handler for agent-initiated calls. The handler
// only accepts calls while the session is Connected; calls arriving outside
// that window are rejected, not queued.
func (b *Bridge) HandleInbound(method string, h RPCHandler) {
	wrapped := func(ctx context.Context, payload []byte) (string, error) {
		if b.mgr.Current().Kind != StateConnected {
			return "", ErrNotConnected
		}
		return h(ctx, payload)
	}
	b.mgr.OnConnect(func(conn Conn) {
		conn.RegisterRPCHandler(method, wrapped)
	})
	// Bind to an already-live connection too.
	if conn, ok := b.mgr.Conn(); ok {
		conn.RegisterRPCHandler(method, wrapped)
	}
}
