// Package gateway provides the Luthien gateway's external interface layer
// (§4.6): the HTTP mux, dialect ingress handlers, the activity stream, and
// the server lifecycle.
//
// server.go contains the core Server struct definition and constructor.
// Related functionality is organized in separate files:
//   - lifecycle.go: server startup and graceful shutdown
//   - http_server.go: mux wiring and the HTTP listener lifecycle
//   - handlers.go: the dialect ingress, health, and activity stream handlers
package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/luthienresearch/luthien-gateway/internal/auth"
	"github.com/luthienresearch/luthien-gateway/internal/config"
	"github.com/luthienresearch/luthien-gateway/internal/observability"
	"github.com/luthienresearch/luthien-gateway/internal/pipeline"
	"github.com/luthienresearch/luthien-gateway/internal/pubsub"
	"github.com/luthienresearch/luthien-gateway/internal/ratelimit"
)

// Server is the Luthien gateway's HTTP server: it owns the listener
// lifecycle and wires incoming requests to the Pipeline Processor.
type Server struct {
	config *config.Config
	logger *observability.Logger

	processor *pipeline.Processor
	auth      *auth.Service
	broker    pubsub.Broker
	metrics   *observability.Metrics

	activityLimiters *ratelimit.RateLimiterRegistry

	startTime time.Time
	wg        sync.WaitGroup

	httpServer   *http.Server
	httpListener net.Listener
}

// Config wires a Server to the components it drives.
type Config struct {
	Cfg       *config.Config
	Logger    *observability.Logger
	Processor *pipeline.Processor
	Auth      *auth.Service
	Broker    pubsub.Broker
	Metrics   *observability.Metrics
}

// NewServer builds a Server. It does not start listening; call Start.
func NewServer(cfg Config) *Server {
	return &Server{
		config:    cfg.Cfg,
		logger:    cfg.Logger,
		processor: cfg.Processor,
		auth:      cfg.Auth,
		broker:    cfg.Broker,
		metrics:   cfg.Metrics,
		activityLimiters: ratelimit.NewRateLimiterRegistry(func(string) ratelimit.RateLimiter {
			return ratelimit.NewTokenBucket(float64(cfg.Cfg.Activity.RatePerSec), cfg.Cfg.Activity.RatePerSec)
		}),
	}
}
