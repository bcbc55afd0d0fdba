package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mudkeep/mudkeep/internal/config"
	"github.com/mudkeep/mudkeep/internal/logger"
	"github.com/mudkeep/mudkeep/internal/proxy"
)

// Server is the management HTTP server: health, metrics and a JSON
// view of the session table.
type Server struct {
	router     *gin.Engine
	cfg        *config.APIConfig
	proxy      *proxy.Server
	reload     func() error
	httpServer *http.Server
}

// NewServer creates the management API server. reload re-reads the
// configuration, same as SIGHUP; it may be nil to disable the route.
func NewServer(cfg *config.APIConfig, metricsPath string, p *proxy.Server, reload func() error) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		cfg:    cfg,
		proxy:  p,
		reload: reload,
	}

	router.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	v1.Use(s.loggingMiddleware())
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/sessions", s.handleSessions)
		v1.POST("/config/reload", s.handleReload)
	}

	return s
}

// loggingMiddleware logs API requests
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"status", status,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", time.Since(start),
		}
		if status >= 400 {
			logger.Warn("API request", fields...)
		} else {
			logger.Info("API request", fields...)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	snap, err := s.proxy.Snapshot(2 * time.Second)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	status := "healthy"
	if !snap.Online {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"backend_online": snap.Online,
		"timestamp":      time.Now().Unix(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.proxy.Snapshot(2 * time.Second)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backend_online":   snap.Online,
		"uptime_seconds":   int64(snap.Uptime.Seconds()),
		"sessions":         len(snap.Sessions),
		"integrity_errors": snap.Integrity,
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	snap, err := s.proxy.Snapshot(2 * time.Second)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": snap.Sessions,
		"count":    len(snap.Sessions),
	})
}

func (s *Server) handleReload(c *gin.Context) {
	if s.reload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reload not available"})
		return
	}
	if err := s.reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("reload failed: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "configuration reloaded",
		"timestamp": time.Now().Unix(),
	})
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("API server listening", "address", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
