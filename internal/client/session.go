package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/domain"
)

type StateKind int

const (
	StateIdle StateKind = iota
	StateFetchingGrant
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateFetchingGrant:
		return "fetching_grant"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureConfiguration
	FailureTransport
	FailureConnect
	FailureMediaDevice
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureConfiguration:
		return "configuration"
	case FailureTransport:
		return "transport"
	case FailureConnect:
		return "connect"
	case FailureMediaDevice:
		return "media_device"
	}
	return "unknown"
}

// State is the single tagged connection value; Reason is meaningful only for
// StateFailed.
type State struct {
	Kind   StateKind
	Reason FailureReason
}

// GrantSource yields a fresh authorization grant per call. *Provider is the
// production implementation.
type GrantSource interface {
	Fetch(ctx context.Context) (*domain.AuthorizationGrant, error)
}

var ErrSessionActive = errors.New("session already active")

// Manager owns the connection life cycle of one session slot. All transitions
// run through one transition point under the lock; asynchronous results carry
// the generation they belong to and are dropped when stale.
type Manager struct {
	source    GrantSource
	transport Transport

	mu      sync.Mutex
	state   State
	gen     uint64
	grant   *domain.AuthorizationGrant
	conn    Conn
	cancel  context.CancelFunc
	subs    []chan State
	binders []func(Conn)
}

func NewManager(source GrantSource, transport Transport) *Manager {
	return &Manager{
		source:    source,
		transport: transport,
		state:     State{Kind: StateIdle},
	}
}

func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Grant returns the grant held by the current session attempt, if any.
func (m *Manager) Grant() *domain.AuthorizationGrant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grant
}

// Conn returns the live connection only while Connected.
func (m *Manager) Conn() (Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != StateConnected || m.conn == nil {
		return nil, false
	}
	return m.conn, true
}

// Subscribe returns a channel receiving every state change. Slow subscribers
// lose intermediate states, never the lock.
func (m *Manager) Subscribe() <-chan State {
	ch := make(chan State, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// OnConnect registers a hook run against every newly established connection,
// before any event is processed. Used to bind inbound RPC handlers.
func (m *Manager) OnConnect(f func(Conn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binders = append(m.binders, f)
}

// Start begins a session attempt: grant fetch, then connect. Only legal from
// Idle; Reset first after a completed or failed session.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Kind != StateIdle {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.gen++
	gen := m.gen
	sctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.setStateLocked(State{Kind: StateFetchingGrant})
	m.mu.Unlock()

	go m.run(sctx, gen)
	return nil
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	g, err := m.source.Fetch(ctx)
	if err != nil {
		m.fail(gen, classifyFetchError(err))
		return
	}

	if !m.advance(gen, func() {
		m.grant = g
		m.setStateLocked(State{Kind: StateConnecting})
	}) {
		return
	}

	conn, err := m.transport.Connect(ctx, g.Endpoint, g.Token)
	if err != nil {
		m.fail(gen, FailureConnect)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	binders := make([]func(Conn), len(m.binders))
	copy(binders, m.binders)
	m.mu.Unlock()

	for _, bind := range binders {
		bind(conn)
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			m.handleEvent(gen, ev)
			switch ev.Kind {
			case EventDisconnected:
				return
			case EventMediaDeviceError:
				_ = conn.Close()
				return
			}
		}
	}
}

func (m *Manager) handleEvent(gen uint64, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		log.Debug().Str("module", "client.session").Str("event", ev.Kind.String()).Msg("stale event dropped")
		return
	}

	switch ev.Kind {
	case EventConnected:
		if m.state.Kind == StateConnecting {
			m.setStateLocked(State{Kind: StateConnected})
		}
	case EventMediaDeviceError:
		if m.state.Kind == StateConnecting || m.state.Kind == StateConnected {
			log.Warn().Err(ev.Err).Str("module", "client.session").Msg("media device failure")
			m.setStateLocked(State{Kind: StateFailed, Reason: FailureMediaDevice})
		}
	case EventTransportError:
		if m.state.Kind == StateConnecting {
			m.setStateLocked(State{Kind: StateFailed, Reason: FailureConnect})
		}
	case EventDisconnected:
		switch m.state.Kind {
		case StateConnected:
			m.setStateLocked(State{Kind: StateDisconnected})
		case StateConnecting:
			m.setStateLocked(State{Kind: StateFailed, Reason: FailureConnect})
		}
	case EventParticipantJoined, EventParticipantLeft:
		// Membership changes do not move the state machine.
	}
}

// End terminates the current session attempt. Late results from the attempt
// are invalidated by the generation bump and cannot touch newer state.
func (m *Manager) End() {
	m.mu.Lock()
	var conn Conn
	var cancel context.CancelFunc
	switch m.state.Kind {
	case StateFetchingGrant, StateConnecting, StateConnected:
		m.gen++
		conn = m.conn
		cancel = m.cancel
		m.setStateLocked(State{Kind: StateDisconnected})
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// Reset returns a finished session slot to Idle. The grant, room name, and
// identity are dropped; the next Start fetches a brand-new grant.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state.Kind {
	case StateDisconnected, StateFailed:
		m.gen++
		m.grant = nil
		m.conn = nil
		m.cancel = nil
		m.setStateLocked(State{Kind: StateIdle})
	}
}

func (m *Manager) fail(gen uint64, reason FailureReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.setStateLocked(State{Kind: StateFailed, Reason: reason})
}

func (m *Manager) advance(gen uint64, mutate func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	mutate()
	return true
}

func (m *Manager) setStateLocked(s State) {
	log.Info().Str("module", "client.session").Str("from", m.state.Kind.String()).Str("to", s.Kind.String()).Str("reason", s.Reason.String()).Msg("state transition")
	m.state = s
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func classifyFetchError(err error) FailureReason {
	if errors.Is(err, context.Canceled) {
		return FailureTransport
	}
	var te *TransportError
	if errors.As(err, &te) {
		if te.Status == 500 && strings.Contains(te.Message, "Missing configuration") {
			return FailureConfiguration
		}
		return FailureTransport
	}
	return FailureTransport
}
