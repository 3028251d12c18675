// Package server assembles the crunch service: event feed, trace registry,
// sweeper, ingest handler, and the HTTP/WebSocket surface.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/tracelight/crunch/internal/api/http"
	"github.com/tracelight/crunch/internal/api/middleware"
	"github.com/tracelight/crunch/internal/api/ws"
	"github.com/tracelight/crunch/internal/domain/trace"
	"github.com/tracelight/crunch/internal/infrastructure/config"
	"github.com/tracelight/crunch/internal/infrastructure/logging"
	"github.com/tracelight/crunch/internal/infrastructure/monitoring"
	"github.com/tracelight/crunch/internal/ingest"
	"github.com/tracelight/crunch/internal/sink"
	"github.com/tracelight/crunch/internal/transport"
)

// Server wraps the HTTP server and the crunch pipeline.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server

	registry *trace.Registry
	sweeper  *trace.Sweeper
	ingest   *ingest.Handler
	hub      *ws.Hub
	out      sink.Sink

	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics

	closeOnce sync.Once
}

// New creates a server instance from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("initializing crunch service",
		zap.String("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.URL),
		zap.Duration("sweep_interval", cfg.Crunch.SweepInterval),
		zap.Int("idle_credits", cfg.Crunch.IdleCredits),
	)

	metrics := monitoring.NewMetrics()

	// Output sinks: console always, HTTP forwarder when configured.
	var out sink.Sink = sink.NewConsole(os.Stdout)
	if cfg.Forward.URL != "" {
		logger.Info("forwarding summaries", zap.String("url", cfg.Forward.URL))
		out = sink.NewMulti(out, sink.NewHTTP(cfg.Forward.URL, cfg.Forward.Timeout))
	}

	registry := trace.NewRegistry(trace.RegistryConfig{
		IdleCredits:       cfg.Crunch.IdleCredits,
		CompletedCapacity: cfg.Crunch.CompletedCapacity,
		Sink:              out,
		Logger:            logger.Logger,
		Metrics:           metrics,
	})
	sweeper := trace.NewSweeper(registry, cfg.Crunch.SweepInterval)

	hub := ws.NewHub(logger.Logger, metrics)
	bus := transport.NewBus(cfg.Crunch.BusBuffer, logger.Logger, metrics)

	// The cruncher consumes either the in-process bus or a remote stream.
	// Locally published events always reach hub subscribers; they feed the
	// local cruncher only when it is the consumer.
	var feed transport.Transport = bus
	publisher := transport.Fanout(hub, bus)
	if cfg.Upstream.URL != "" {
		feed = transport.NewWSClient(cfg.Upstream.URL, logger.Logger, metrics)
		publisher = transport.Fanout(hub)
	}

	ingestHandler := ingest.New(ingest.Config{
		Transport:         feed,
		Registry:          registry,
		Logger:            logger.Logger,
		Metrics:           metrics,
		HeartbeatInterval: cfg.Crunch.HeartbeatInterval,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(registry, publisher, logger.Logger, cfg.Server.Service)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/stats", handlers.Stats)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Event feed surface
	router.POST("/events", handlers.IngestEvent)
	router.GET("/stream", hub.HandleConnection)

	// Demo routes emit trace events through the tracing middleware, the way
	// any instrumented service in the fabric would.
	traced := router.Group("/", middleware.Tracing(middleware.TracingConfig{
		Service:   cfg.Server.Service,
		Publisher: publisher,
		Logger:    logger.Logger,
	}))
	traced.GET("/demo/*path", handlers.DemoPath)
	traced.GET("/new/:thing", handlers.DemoNew)

	logger.Info("server initialized")

	return &Server{
		router:   router,
		registry: registry,
		sweeper:  sweeper,
		ingest:   ingestHandler,
		hub:      hub,
		out:      out,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Router exposes the gin engine, primarily for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the crunch pipeline and the HTTP server, blocking until the
// server stops.
func (s *Server) Run() error {
	s.sweeper.Start()
	if err := s.ingest.Start(); err != nil {
		s.sweeper.Stop()
		return err
	}

	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))

	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts everything down: HTTP first, then the sweep timer, then the
// ingest handler (which flushes every remaining trace), then the hub. The
// timers come down before the final flush so a tick cannot race it.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("shutting down")

		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				s.logger.Warn("http shutdown failed", zap.Error(err))
			}
		}

		s.sweeper.Stop()
		s.ingest.Stop()
		s.hub.Shutdown()

		if err := s.out.Close(); err != nil {
			s.logger.Warn("sink close failed", zap.Error(err))
		}

		s.logger.Sync()
	})
	return nil
}
