package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voicesell/bridge/internal/agent"
	"github.com/voicesell/bridge/internal/client"
	"github.com/voicesell/bridge/internal/config"
	"github.com/voicesell/bridge/internal/domain"
	"github.com/voicesell/bridge/internal/grant"
)

// Standalone agent runner: joins one named room and serves it until the
// session ends. The in-server dispatcher covers normal operation; this
// binary exists for running the agent outside the server process.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	roomFlag := flag.String("room", "", "room name to join")
	flag.Parse()
	if *roomFlag == "" {
		log.Fatal().Msg("missing -room flag")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	issuer := grant.NewIssuer(cfg.APIKey, cfg.APISecret, cfg.WsURL, cfg.TokenTTL)
	g, err := issuer.IssueFor(cfg.Tenant.Agent(), domain.RoomName(*roomFlag), cfg.Tenant.CompanyName+" Agent", true)
	if err != nil {
		log.Fatal().Err(err).Msg("agent grant issuance failed")
	}

	conn, err := client.NewWebsocketTransport().Connect(ctx, g.Endpoint, g.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("agent connect failed")
	}

	sess := agent.NewSession(conn, cfg.WebhookURL)
	if err := sess.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("agent session ended with error")
	}
	log.Info().Msg("agent exited")
}
