package main

import (
	"net/http"
	"time"

	"vidcall-platform/internal/auth"
	"vidcall-platform/internal/httpapi"
	"vidcall-platform/internal/transport"
	"vidcall-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Keep this file free of business logic. Handlers delegate to internal modules.

func registerPublicRoutes(r *gin.Engine, a *app) {
	r.GET("/healthz", func(c *gin.Context) {
		if a.DB != nil {
			if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": "down"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Media engine callbacks, authenticated by the shared webhook secret.
	wh := transport.WebhookHandler{Hub: a.Hub, Secret: a.WebhookSecret}
	r.POST("/webhooks/transport/events", wh.HandleEvent)
}

func registerProtectedRoutes(r *gin.Engine, a *app, m *auth.Manager) {
	h := httpapi.Handlers{
		Auth:      m,
		Calls:     a.Calls,
		Ledger:    a.Ledger,
		Reporting: a.Reporting,
	}
	r.POST("/auth/refresh", h.Refresh)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(m))
	h.Register(v1)
}
