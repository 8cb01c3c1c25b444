// Package http wires REST routes and the websocket endpoint.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mismatch-chat/relay/internal/adapters"
	"github.com/mismatch-chat/relay/internal/app"
	"github.com/mismatch-chat/relay/internal/config"
	"github.com/mismatch-chat/relay/internal/core"
	"github.com/mismatch-chat/relay/internal/storage"
)

// ClientTokenMiddleware gives every browser a stable token cookie so log
// lines can be correlated across reconnects.
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

// CORSMiddleware defaults to a permissive policy; the origin is narrowed
// through config.
func CORSMiddleware(allowed string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := allowed
		if origin == "*" {
			origin = c.GetHeader("Origin")
			if origin == "" {
				origin = "*"
			}
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, router *app.Router, store *storage.Store, rooms *core.Directory) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", cookieStore))
	r.Use(ClientTokenMiddleware())
	r.Use(CORSMiddleware(cfg.AllowedOrigin))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "message": "Server is running"})
	})

	h := &Handlers{Store: store, Rooms: rooms, HistoryLimit: cfg.HistoryLimit}
	api := r.Group("/api")
	api.POST("/users", h.CreateUser)
	api.POST("/users/:user_id/rooms", h.CreateRoom)
	api.GET("/rooms", h.GetRooms)
	api.POST("/rooms/join", h.JoinRoom)
	api.GET("/rooms/:room_id/messages", h.GetRoomMessages)

	ctl := adapters.NewChatWSController(router, cfg)
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleChat(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
