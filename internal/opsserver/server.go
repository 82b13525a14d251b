package opsserver

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/relayctl/internal/auth"
	"github.com/danmuck/relayctl/internal/control"
	"github.com/danmuck/relayctl/internal/observability"
	"github.com/danmuck/relayctl/internal/relay"
)

// Options shapes the operations HTTP surface.
type Options struct {
	App         string
	Addr        string
	CorsOrigins []string
	// ControlToken, when set, requires a matching bearer token on the
	// control POST. Read-only endpoints stay open either way.
	ControlToken string
}

// Server exposes health, relay status, metrics, recorded drops and a
// control command POST over HTTP. Relay phases are sequential; the
// process swaps in the active phase with SetRelay.
type Server struct {
	opts    Options
	bus     *control.Bus
	sink    *relay.RingSink
	router  *gin.Engine
	guard   auth.Guard
	log     zerolog.Logger
	started time.Time
	current atomic.Pointer[relay.Relay]
}

func New(opts Options, bus *control.Bus, sink *relay.RingSink, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		opts:    opts,
		bus:     bus,
		sink:    sink,
		router:  r,
		guard:   auth.NewGuard(opts.ControlToken),
		log:     logger,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// SetRelay publishes the active relay phase to the status surface.
func (s *Server) SetRelay(r *relay.Relay) {
	s.current.Store(r)
}

func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) Serve() error {
	s.log.Info().Str("addr", s.opts.Addr).Msg("ops server listening")
	return s.router.Run(s.opts.Addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.opts.App,
			"version": "0.0.1",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		r := s.current.Load()
		if r == nil {
			c.JSON(http.StatusOK, gin.H{"relay": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"relay": r.Name(),
			"state": r.State().String(),
			"stats": r.Stats(),
		})
	})

	s.router.GET("/drops", func(c *gin.Context) {
		if s.sink == nil {
			c.JSON(http.StatusOK, gin.H{"total": 0, "drops": []relay.Record{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"total": s.sink.Total(),
			"drops": s.sink.List(),
		})
	})

	s.router.POST("/control", func(c *gin.Context) {
		if err := s.guard.Authorize(c.GetHeader("Authorization")); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		var req struct {
			Command string `json:"command"`
			Name    string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payload := strings.TrimSpace(req.Command)
		if req.Name != "" {
			payload += " " + req.Name
		}
		cmd, err := control.ParseCommand([]byte(payload))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.bus.Publish(cmd)
		s.log.Info().Str("command", cmd.Kind.String()).Str("name", cmd.Name).Msg("control command published")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "command": cmd.Kind.String(), "name": cmd.Name})
	})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
