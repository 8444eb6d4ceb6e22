package gateway

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/RahulC-DG/VoiceCreation/internal/auth"
	"github.com/RahulC-DG/VoiceCreation/internal/metrics"
)

// NewRouter wires the HTTP API, the session websocket and /metrics.
func NewRouter(h *Handler, proxy *SessionProxy, sessionMetrics *metrics.SessionMetrics, jwtManager *auth.JWTManager, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Health checks live at the root
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if sessionMetrics != nil {
		router.GET("/metrics", gin.WrapH(sessionMetrics.Handler()))
	}

	registerDocs(router)

	// The websocket validates its own token so it can answer before upgrading
	router.GET("/ws/session", proxy.HandleSession)

	api := router.Group("/api")
	api.Use(auth.RequireAuth(jwtManager))
	api.GET("/sessions/:id", h.GetSession)
	api.GET("/sessions/:id/tree", h.GetSessionTree)
	api.POST("/sessions/:id/stop", h.StopPreview)
	api.GET("/runs", h.ListRuns)

	return router
}

// RequestLogger logs one structured line per request
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		event := logger.Info()
		if c.Writer.Status() >= 500 {
			event = logger.Error()
		}
		event = event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent())

		if userID, ok := c.Get(auth.UserIDKey); ok {
			event = event.Interface("user_id", userID)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("request")
	}
}
