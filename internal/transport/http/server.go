// Package http serves the hub's admin endpoints.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirebus/internal/config"
)

// HubStatus is the read-only view of a hub the admin surface needs.
type HubStatus interface {
	Clients() []string
	QueueLen() int
	Gatherer() prometheus.Gatherer
}

// NewServer builds the admin HTTP server. It is not started.
func NewServer(hub HubStatus, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.AdminAddr,
		Handler:           NewRouter(hub, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers the admin routes on a fresh gin engine.
func NewRouter(hub HubStatus, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	handlers := NewAdminHandlers(hub, logger)
	router.GET("/health", handlers.Health)
	router.GET("/clients", handlers.Clients)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(hub.Gatherer(), promhttp.HandlerOpts{})))

	return router
}
