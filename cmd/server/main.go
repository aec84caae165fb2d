package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/voicesell/bridge/internal/adapters/http"
	roomws "github.com/voicesell/bridge/internal/adapters/room"
	"github.com/voicesell/bridge/internal/agent"
	"github.com/voicesell/bridge/internal/app"
	"github.com/voicesell/bridge/internal/client"
	"github.com/voicesell/bridge/internal/config"
	"github.com/voicesell/bridge/internal/grant"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	issuer := grant.NewIssuer(cfg.APIKey, cfg.APISecret, cfg.WsURL, cfg.TokenTTL)
	verifier := grant.NewVerifier(cfg.APISecret)

	rooms := app.NewRoomManager()
	registry := app.NewRegistry()

	ctl := roomws.NewController(rooms, registry, verifier)
	ctl.ReadLimit = cfg.ReadLimit

	if cfg.Tenant.AgentIdentity != "" {
		dispatcher := &agent.Dispatcher{
			Issuer:     issuer,
			Tenant:     cfg.Tenant,
			Transport:  client.NewWebsocketTransport(),
			WebhookURL: cfg.WebhookURL,
		}
		ctl.OnFirstHumanJoin = dispatcher.Dispatch
	}

	r := router.SetupRouter(ctx, cfg, issuer, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("bridge server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
