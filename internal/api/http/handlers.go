// Package http provides the service's REST handlers: health and stats for
// operators, an HTTP ingestion path for event producers, and the demo
// routes exercised by the request tracing middleware.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tracelight/crunch/internal/api/middleware"
	"github.com/tracelight/crunch/internal/domain/trace"
	"github.com/tracelight/crunch/internal/shared/types"
	"github.com/tracelight/crunch/internal/transport"
)

// Handlers holds dependencies for the REST endpoints.
type Handlers struct {
	registry  *trace.Registry
	publisher transport.Publisher
	logger    *zap.Logger
	service   string
	startTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(registry *trace.Registry, publisher transport.Publisher, logger *zap.Logger, service string) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		registry:  registry,
		publisher: publisher,
		logger:    logger,
		service:   service,
		startTime: time.Now(),
	}
}

// Root returns the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.service,
		"status":  "running",
	})
}

// Health returns service health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.startTime).String(),
	})
}

// IngestEvent accepts one log event over HTTP and publishes it into the
// event feed. Validation here is structural only (a trace id must exist);
// the ingestion boundary filter owns the timestamp rule.
func (h *Handlers) IngestEvent(c *gin.Context) {
	var ev types.LogEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event format"})
		return
	}
	if ev.TraceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event has no traceId"})
		return
	}

	h.publisher.Publish(&ev)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// DemoPath handles the demo routes, logging through the tracing middleware.
func (h *Handlers) DemoPath(c *gin.Context) {
	path := c.Param("path")
	if path == "" || path == "/" {
		path = "Pathless"
	}

	h.logger.Info("got a request", zap.String("path", path))
	c.String(http.StatusOK, "Got path %s", path)
}

// DemoNew handles the demo route that claims its own category.
func (h *Handlers) DemoNew(c *gin.Context) {
	thing := c.Param("thing")
	middleware.SetCategory(c, "new-thing")

	h.logger.Info("got a request for a new thing", zap.String("thing", thing))
	c.String(http.StatusOK, "New thing %s", thing)
}
