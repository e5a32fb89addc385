// Package http wires the gin routes: static assets, the rooms API, the
// media endpoint and the websocket signaling upgrade.
package http

import (
	"context"
	nethttp "net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/adapters/ws"
	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a long-lived browser token, distinct from
// the per-socket connection id.
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

func SetupRouter(ctx context.Context, cfg *config.Config, registry *core.Registry, ctl *ws.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	media := NewMediaHandler(cfg.MediaDir)
	r.GET("/video/:name", media.Serve)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"rooms": registry.Rooms()})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		participants, ok := registry.Snapshot(id)
		if !ok {
			c.JSON(nethttp.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(nethttp.StatusOK, gin.H{"id": id, "participants": participants})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	return r
}
