// Package agent is the remote participant that receives submitted lead forms
// over the room's RPC channel and forwards them to the tenant webhook.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/client"
	"github.com/voicesell/bridge/internal/domain"
)

type Session struct {
	conn       client.Conn
	webhookURL string
	httpc      *http.Client
}

func NewSession(conn client.Conn, webhookURL string) *Session {
	s := &Session{
		conn:       conn,
		webhookURL: webhookURL,
		httpc:      &http.Client{Timeout: 15 * time.Second},
	}
	conn.RegisterRPCHandler(client.MethodSubmitLeadForm, s.handleLeadForm)
	return s
}

// Run blocks until the session ends: either the human participant leaves,
// the transport drops, or ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
			return ctx.Err()
		case ev, ok := <-s.conn.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case client.EventConnected:
				log.Info().Str("module", "agent").Str("identity", string(s.conn.LocalIdentity())).Msg("agent joined room")
			case client.EventParticipantLeft:
				log.Info().Str("module", "agent").Str("identity", string(ev.Identity)).Msg("participant left, closing session")
				_ = s.conn.Close()
			case client.EventDisconnected:
				return nil
			}
		}
	}
}

// PushDisplayForm asks the client to render a pre-filled form.
func (s *Session) PushDisplayForm(ctx context.Context, to domain.ParticipantIdentity, prefill map[string]string) error {
	b, err := json.Marshal(prefill)
	if err != nil {
		return fmt.Errorf("encode prefill: %w", err)
	}
	_, err = s.conn.PerformRPC(ctx, to, client.MethodDisplayForm, b)
	return err
}

func (s *Session) handleLeadForm(ctx context.Context, payload []byte) (string, error) {
	log.Info().Str("module", "agent").Int("bytes", len(payload)).Msg("received lead form")

	if s.webhookURL == "" {
		log.Error().Str("module", "agent").Msg("webhook url not configured, cannot forward lead")
		return "", errors.New("missing webhook configuration")
	}
	if !json.Valid(payload) {
		return "", errors.New("lead payload is not valid json")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		log.Error().Err(err).Str("module", "agent").Msg("webhook delivery failed")
		return "", fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("module", "agent").Msg("webhook rejected lead")
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Info().Str("module", "agent").Msg("lead forwarded to webhook")
	return "SUCCESS", nil
}
