package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// NewEngine returns a gin engine with recovery and request logging. Only
// peers in trustedProxies may set the client IP through forwarding headers;
// with none, the client IP is always the socket peer.
func NewEngine(logger *slog.Logger, trustedProxies []string) (*gin.Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}
	router.Use(gin.Recovery(), RequestLogger(logger))
	return router, nil
}

func SetupRoutes(router *gin.Engine, h *Handler, hub *Hub, allowedOrigins string) {
	router.Use(CORSMiddleware(allowedOrigins))

	router.GET("/health", h.Health)

	// Device-facing and poller routes
	router.POST("/device-event", h.DeviceEvent)
	router.GET("/device-event", h.GetSnapshot)

	// Dashboard controls
	router.POST("/setup", h.Setup)
	router.POST("/confirm", h.Confirm)
	router.POST("/stop", h.Stop)
	router.POST("/reset", h.Reset)
	router.POST("/restart", h.Restart)
	router.POST("/location", h.SetLocation)
	router.GET("/report", h.DownloadReport)

	if hub != nil {
		h.wsClients = hub.ClientCount
		router.GET("/ws", hub.ServeWS)
	}
}

// CORSMiddleware allows the dashboard page to call the API from another origin.
// allowed is "*" or a comma separated list of origins.
func CORSMiddleware(allowed string) gin.HandlerFunc {
	origins := map[string]bool{}
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origins["*"] || len(origins) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origins[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
