// Package httpapi exposes the control plane's command surface over HTTP:
// command submission, project/job read endpoints, health, and metrics.
//
// Grounded on the teacher's internal/server/router.go (gin.Default +
// gin-contrib/cors + a conditionally-wired handler group), generalized
// from the teacher's auth-gated multi-resource API to this control
// plane's narrower operator-backed command surface (spec.md §4.6,
// supplemental HTTP surface).
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/neurobridge-labs/reelforge/internal/metrics"
)

// RouterConfig carries the handlers NewRouter wires in. Handlers is never
// nil in practice (every cmd/* entrypoint builds one from the full app
// wiring) but the nil-check style mirrors the teacher's conditional
// handler wiring.
type RouterConfig struct {
	Handlers    *Handlers
	RateLimiter *RateLimiter
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: false,
	}))

	router.GET("/healthz", healthz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Handlers != nil {
		v1 := router.Group("/v1")
		if cfg.RateLimiter != nil {
			v1.Use(cfg.RateLimiter.Middleware())
		}
		{
			v1.POST("/commands", cfg.Handlers.PostCommand)
			v1.GET("/projects/:id", cfg.Handlers.GetProject)
			v1.GET("/projects/:id/jobs", cfg.Handlers.ListProjectJobs)
		}
	}

	return router
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
