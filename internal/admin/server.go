// Package admin serves the HTTP side door of a running framelink server:
// liveness, readiness, Prometheus metrics, and a view of the live
// connection registry.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/danmuck/framelink/internal/messaging"
	"github.com/danmuck/framelink/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrConnectionNotFound = errors.New("admin: connection not found")

// Registry is the slice of *messaging.Server the admin routes read.
type Registry interface {
	State() messaging.ServerState
	Addr() net.Addr
	Connections() []*messaging.Connection
}

type ConnectionInfo struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	State         string `json:"state"`
	Remote        string `json:"remote"`
	ChunkSize     int    `json:"chunk_size"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

type Server struct {
	Addr     string
	Started  time.Time
	registry Registry
	router   *gin.Engine
	http     *http.Server
}

func New(addr string, registry Registry) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     addr,
		Started:  time.Now(),
		registry: registry,
		router:   r,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.Started).String(),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.registry.State()
		status := http.StatusOK
		if state != messaging.ServerStarted {
			status = http.StatusServiceUnavailable
		}
		body := gin.H{
			"ready": status == http.StatusOK,
			"state": state.String(),
		}
		if addr := s.registry.Addr(); addr != nil {
			body["addr"] = addr.String()
		}
		c.JSON(status, body)
	})

	s.router.GET("/metrics", gin.WrapH(observability.Handler()))

	s.router.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": s.ListConnections()})
	})

	s.router.POST("/connections/:id/shutdown", func(c *gin.Context) {
		id := c.Param("id")
		if err := s.ShutdownConnection(id); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrConnectionNotFound) {
				status = http.StatusNotFound
			} else if errors.Is(err, messaging.ErrAlreadyClosed) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "id": id})
	})
}

// ListConnections returns the live registry sorted by id.
func (s *Server) ListConnections() []ConnectionInfo {
	live := s.registry.Connections()
	out := make([]ConnectionInfo, 0, len(live))
	for _, c := range live {
		remote := ""
		if addr := c.RemoteAddr(); addr != nil {
			remote = addr.String()
		}
		out = append(out, ConnectionInfo{
			ID:            c.ID(),
			Role:          string(c.Role()),
			State:         c.State().String(),
			Remote:        remote,
			ChunkSize:     c.ChunkSize(),
			BytesSent:     c.BytesSent(),
			BytesReceived: c.BytesReceived(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) ShutdownConnection(id string) error {
	for _, c := range s.registry.Connections() {
		if c.ID() != id {
			continue
		}
		if err := c.Shutdown(); err != nil {
			return err
		}
		log.Info().Str("conn_id", id).Msg("admin connection shutdown")
		return nil
	}
	return ErrConnectionNotFound
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	log.Info().Str("addr", s.Addr).Msg("admin listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
