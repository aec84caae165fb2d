package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	roomws "github.com/voicesell/bridge/internal/adapters/room"
	"github.com/voicesell/bridge/internal/config"
	"github.com/voicesell/bridge/internal/grant"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type connectionDetailsResponse struct {
	Token    string `json:"token"`
	RoomName string `json:"roomName"`
	WsURL    string `json:"wsUrl"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, issuer *grant.Issuer, ctl *roomws.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("BridgeSessions", store))
	r.Use(ClientTokenMiddleware())

	limiter := roomws.NewIssueRateLimiter(cfg.IssueLimit, cfg.IssueWindow)

	// Server assigns room and identity; nothing from the request is trusted.
	r.GET("/connection-details", func(c *gin.Context) {
		ct := c.GetString("client_token")
		if !limiter.Allow(ct) {
			log.Warn().Str("module", "adapters.http").Str("ct", ct).Msg("issuance rate limited")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}

		g, err := issuer.Issue(cfg.Tenant)
		if err != nil {
			if errors.Is(err, grant.ErrMissingConfiguration) {
				log.Error().Err(err).Str("module", "adapters.http").Msg("issuance misconfigured")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Missing configuration"})
				return
			}
			log.Error().Err(err).Str("module", "adapters.http").Msg("issuance failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		log.Info().Str("module", "adapters.http").Str("ct", ct).Str("room", string(g.Room)).Str("identity", string(g.Identity)).Msg("grant issued")
		c.JSON(http.StatusOK, connectionDetailsResponse{
			Token:    g.Token,
			RoomName: string(g.Room),
			WsURL:    g.Endpoint,
		})
	})

	// Read-only branding/capability descriptor for the page shell.
	r.GET("/app-config", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Tenant)
	})

	// Operational view of live rooms. Names are opaque uuids, so exposing
	// them leaks nothing a participant does not already hold.
	r.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.Rooms.List())
	})

	r.GET("/rtc", func(c *gin.Context) {
		ctl.HandleRTC(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
