// Package httpadm wires the HTTP observability surface: health, metrics,
// room listing and the WebSocket control endpoint.
package httpadm

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/adapters/wsctl"
	"github.com/dmaksimov/huddle/internal/app"
	"github.com/dmaksimov/huddle/internal/config"
)

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator, traffic app.TrafficSource, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": orch.Rooms.List()})
	})

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": orch.Registry.Count(),
			"rooms":    orch.Rooms.Count(),
			"traffic":  traffic.Stats(),
		})
	})

	ctl := &wsctl.Controller{Orch: orch, Queue: cfg.SendQueue}
	r.GET("/ws/control", func(c *gin.Context) {
		ctl.Handle(ctx, c)
	})

	log.Info().Str("module", "httpadm").Msg("router setup")
	return r
}
