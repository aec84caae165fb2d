package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/domain"
	"github.com/voicesell/bridge/internal/grant"
)

// TransportError is a non-2xx response from the issuance endpoint.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection details request failed: status %d: %s", e.Status, e.Message)
}

// ParseError is a malformed or incomplete issuance response body.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "connection details parse failed: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Provider fetches authorization grants from the issuance endpoint and holds
// the latest result. Overlapping refreshes resolve latest-wins: a stale
// in-flight response never clobbers a fresher one.
type Provider struct {
	endpoint string
	httpc    *http.Client

	mu      sync.Mutex
	gen     uint64
	grant   *domain.AuthorizationGrant
	loading bool
	err     error
	subs    []chan struct{}
}

func NewProvider(endpoint string, httpc *http.Client) *Provider {
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provider{endpoint: endpoint, httpc: httpc}
}

// Snapshot returns the current grant, loading flag, and error. At most one of
// grant/err is set, and never while loading.
func (p *Provider) Snapshot() (*domain.AuthorizationGrant, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grant, p.loading, p.err
}

// Subscribe returns a channel that ticks on every snapshot change.
func (p *Provider) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Refresh starts a new fetch in the background. No automatic retry: a failed
// result stays until the caller refreshes again.
func (p *Provider) Refresh(ctx context.Context) {
	gen := p.begin()
	go func() {
		g, err := p.fetch(ctx)
		p.deliver(gen, g, err)
	}()
}

// Fetch is the blocking form used by the session state machine.
func (p *Provider) Fetch(ctx context.Context) (*domain.AuthorizationGrant, error) {
	gen := p.begin()
	g, err := p.fetch(ctx)
	if !p.deliver(gen, g, err) {
		// A newer refresh superseded this call while it was in flight.
		return nil, context.Canceled
	}
	return g, err
}

func (p *Provider) begin() uint64 {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.loading = true
	p.grant = nil
	p.err = nil
	p.notifyLocked()
	p.mu.Unlock()
	return gen
}

func (p *Provider) deliver(gen uint64, g *domain.AuthorizationGrant, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		log.Debug().Str("module", "client.details").Msg("stale fetch result discarded")
		return false
	}
	p.loading = false
	p.grant = g
	p.err = err
	p.notifyLocked()
	return true
}

func (p *Provider) notifyLocked() {
	for _, ch := range p.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (p *Provider) fetch(ctx context.Context) (*domain.AuthorizationGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &TransportError{Status: resp.StatusCode, Message: body.Error}
	}

	var details struct {
		Token    string `json:"token"`
		RoomName string `json:"roomName"`
		WsURL    string `json:"wsUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, &ParseError{Err: err}
	}
	if details.Token == "" || details.RoomName == "" || details.WsURL == "" {
		return nil, &ParseError{Err: fmt.Errorf("incomplete response")}
	}

	claims, err := grant.PeekClaims(details.Token)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	return &domain.AuthorizationGrant{
		Token:    details.Token,
		Room:     domain.RoomName(details.RoomName),
		Identity: domain.ParticipantIdentity(claims.Subject),
		Endpoint: details.WsURL,
		Grants: domain.GrantSet{
			Join:      claims.Video.RoomJoin,
			Publish:   claims.Video.CanPublish,
			Subscribe: claims.Video.CanSubscribe,
		},
	}, nil
}
