package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/auth"
	"github.com/ychat20/ychat-server/internal/config"
	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/service/rooms"
	"github.com/ychat20/ychat-server/internal/store"
)

// NewServer builds the HTTP server: REST API under /api, WebSocket on /ws.
func NewServer(hub *core.Hub, authService *auth.Service, roomService *rooms.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	apiHandlers := NewAPIHandlers(authService, st, logger)
	userHandlers := NewUserHandlers(st, logger)
	roomHandlers := NewRoomHandlers(roomService, hub.Router(), logger)
	messageHandlers := NewMessageHandlers(hub, logger)

	engine.GET("/health", healthHandler)
	engine.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg, logger)))

	api := engine.Group("/api")
	api.POST("/auth/register", apiHandlers.Register)
	api.POST("/auth/login", apiHandlers.Login)

	authed := api.Group("", AuthMiddleware(authService, logger))
	id := func(next func(*gin.Context, int64)) gin.HandlerFunc {
		return withIdentity(logger, next)
	}

	authed.GET("/auth/me", id(apiHandlers.Me))
	authed.GET("/users/search", id(userHandlers.SearchUsers))
	authed.PUT("/users/me", id(userHandlers.UpdateProfile))

	authed.POST("/rooms", id(roomHandlers.CreateRoom))
	authed.GET("/rooms", id(roomHandlers.ListRooms))
	authed.GET("/rooms/:id", id(roomHandlers.GetRoom))
	authed.POST("/rooms/:id/members", id(roomHandlers.AddMember))
	authed.DELETE("/rooms/:id/members/:userId", id(roomHandlers.RemoveMember))
	authed.GET("/rooms/:id/messages", id(roomHandlers.RoomMessages))

	authed.GET("/messages/history/:userId", id(messageHandlers.DirectHistory))
	authed.PUT("/messages/:id", id(messageHandlers.EditMessage))
	authed.DELETE("/messages/:id", id(messageHandlers.DeleteMessage))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
