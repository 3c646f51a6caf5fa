package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/avekern/seminar/internal/adapters/ws"
	"github.com/avekern/seminar/internal/config"
	"github.com/avekern/seminar/internal/domain"
	"github.com/avekern/seminar/internal/room"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware stands in for the platform's authentication
// layer: it hands the engine an opaque verified identity per client.
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

func SetupRouter(ctx context.Context, cfg *config.Config, rooms *room.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SeminarSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ctrl := ws.NewController(rooms, cfg)
	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("peer", c.GetString("client_token")).Msg("ws endpoint hit")
		ctrl.Handle(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, rooms.List())
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		rm, ok := rooms.Get(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_room"})
			return
		}
		snap, err := rm.Snapshot()
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_room"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	// The surrounding admin/analytics layer pushes advisory activity
	// and metric events here; the engine fans them out best-effort.
	api.POST("/rooms/:id/activity", func(c *gin.Context) {
		rm, ok := rooms.Get(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_room"})
			return
		}
		var payload json.RawMessage
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		rm.PublishActivity(domain.PeerID(c.GetString("client_token")), payload)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})

	return r
}
