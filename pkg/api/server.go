// Package api is the HTTP boundary. Every domain operation goes through
// the tool dispatcher; the server only decodes calls, stamps request
// identity, and reports process health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/developer-mesh/agent-hub/pkg/config"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/tools"
)

// Server serves the tool-dispatch wire surface plus health and metrics.
type Server struct {
	router     *gin.Engine
	server     *http.Server
	dispatcher *tools.Dispatcher
	logger     observability.Logger
	probes     []tools.HealthProbe
	gatherer   prometheus.Gatherer
}

// NewServer wires routes and middleware. gatherer may be nil, which
// leaves /metrics unmounted; probes back /readyz.
func NewServer(cfg config.APIConfig, dispatcher *tools.Dispatcher, logger observability.Logger, gatherer prometheus.Gatherer, probes ...tools.HealthProbe) *Server {
	router := gin.New()

	s := &Server{
		router:     router,
		dispatcher: dispatcher,
		logger:     logger,
		probes:     probes,
		gatherer:   gatherer,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	router.Use(RequestID())
	router.Use(Identity())
	router.Use(RequestLogger(logger))
	router.Use(Recovery(logger))

	router.GET("/healthz", s.healthzHandler)
	router.GET("/readyz", s.readyzHandler)
	if cfg.EnableMetrics && gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/tools/call", s.callHandler)
	v1.GET("/tools", s.capabilitiesHandler)

	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// callHandler decodes one {tool, arguments} call and relays the
// dispatcher's envelope. Dispatch outcomes ride HTTP 200; the envelope
// carries the error kind in-band.
func (s *Server) callHandler(c *gin.Context) {
	var call tools.Call
	if err := c.ShouldBindJSON(&call); err != nil {
		s.reject(c, http.StatusBadRequest, tools.KindInvalid, "body must be a JSON object {tool, arguments}")
		return
	}
	if call.Tool == "" {
		s.reject(c, http.StatusBadRequest, tools.KindInvalid, "tool is required")
		return
	}
	env := s.dispatcher.Execute(c.Request.Context(), call)
	c.JSON(http.StatusOK, env)
}

func (s *Server) capabilitiesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.dispatcher.Capabilities()})
}

// healthzHandler is liveness: the process answers, nothing else.
func (s *Server) healthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyzHandler runs every probe under a short deadline and reports 503
// until all dependencies answer.
func (s *Server) readyzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]string, len(s.probes))
	for _, probe := range s.probes {
		if err := probe.Check(ctx); err != nil {
			ready = false
			checks[probe.Name] = err.Error()
			continue
		}
		checks[probe.Name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func (s *Server) reject(c *gin.Context, status int, kind tools.ErrorKind, message string) {
	c.JSON(status, &tools.Envelope{
		Success: false,
		Error:   &tools.Error{Kind: kind, Message: message},
		Meta: tools.Meta{
			RequestID: observability.GetRequestID(c.Request.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}
