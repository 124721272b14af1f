// Package http wires the REST surface and mounts the sync websocket.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tandemshop/tandem/internal/adapters/signal"
	"github.com/tandemshop/tandem/internal/config"
	"github.com/tandemshop/tandem/internal/store"
)

// ClientTokenMiddleware gives every browser a stable opaque token. The
// websocket identity is assigned separately per connection; this token
// only keys the web surface (invite landing, REST calls).
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, repo store.Repository, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TandemSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	h := &Handler{Store: repo, Cfg: cfg}

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/join/:id", h.JoinRedirect)

	api := r.Group("/api")
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.GET("/ice", h.ICEServers)
	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleWS(ctx, c)
	})

	return r
}
