// Package ops exposes the connector state over a small HTTP surface for
// health checks and operators.
package ops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/streamhub-io/pubsub-source/connector"
)

type Server struct {
	engine *gin.Engine
	http   *http.Server
	mode   string
	port   int64
	conn   *connector.Connector
	lg     *zap.Logger
}

type Option func(*Server)

func WithMode(mode string) Option {
	return func(s *Server) {
		s.mode = mode
	}
}

func WithPort(port int64) Option {
	return func(s *Server) {
		if port > 0 {
			s.port = port
		}
	}
}

func NewServer(lg *zap.Logger, conn *connector.Connector, opts ...Option) *Server {
	s := &Server{
		mode: gin.ReleaseMode,
		port: 8080,
		conn: conn,
		lg:   lg,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(s.mode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/state", s.state)
	return s
}

// Start serves in the background until Shutdown is called.
func (s *Server) Start() {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.engine,
	}
	go func() {
		s.lg.Info("starting ops server ...", zap.String("address", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.lg.Error("ops server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	if s.conn.State() == connector.StateStopped {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.conn.Stats())
}
