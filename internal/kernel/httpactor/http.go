// Package httpactor binds a router on a host:port and drives graceful
// shutdown, generalizing the gin + http.Server pairing used by the
// submission API into a reusable actor (C6).
package httpactor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
)

// Config holds the tunables the spec calls out defaults for.
type Config struct {
	Host string
	Port int

	// Workers does not map to a Go http.Server knob (Go's server is not
	// worker-pool based) and is not read by Start; it only carries the
	// default that DefaultConfig sets.
	Workers int

	KeepAlive       time.Duration
	ShutdownTimeout time.Duration

	// Router, when nil, gets the default /ping + /health routes.
	Router *gin.Engine
}

// DefaultConfig returns the spec's literal defaults: 4 workers, 75s
// keep-alive, 30s shutdown timeout.
func DefaultConfig(host string, port int) Config {
	return Config{
		Host:            host,
		Port:            port,
		Workers:         4,
		KeepAlive:       75 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server actor.
type Server struct {
	key    string
	cfg    Config
	logger *zap.Logger

	srv      *http.Server
	serveErr chan error
}

var _ actor.Actor = (*Server)(nil)

// New creates an HTTP server actor bound to key.
func New(key string, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{key: key, cfg: cfg, logger: logger}
}

func (s *Server) Key() string { return s.key }

func (s *Server) Start(ctx context.Context) error {
	router := s.cfg.Router
	if router == nil {
		router = defaultRouter(s.key)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:        addr,
		Handler:     router,
		IdleTimeout: s.cfg.KeepAlive,
	}

	ln, err := newListener(addr)
	if err != nil {
		return fmt.Errorf("httpactor: bind failed: %w", err)
	}

	s.serveErr = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
			return
		}
		s.serveErr <- nil
	}()

	return nil
}

// Process handles only the shared Start/Stop envelope; the HTTP actor
// has no actor-specific inbound messages. Errors from http.Server.Serve,
// which runs outside the mailbox loop, are not reported to the sink;
// Stop logs one if it arrives after shutdown.
func (s *Server) Process(ctx context.Context, msg any) (actor.Outcome, error) {
	outcome, _ := actor.HandleServiceMsg(msg)
	return outcome, nil
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpactor: shutdown: %w", err)
	}

	select {
	case err := <-s.serveErr:
		if err != nil {
			s.logger.Warn("http server reported error after shutdown", zap.Error(err))
		}
	case <-time.After(time.Second):
	}

	return nil
}

func defaultRouter(service string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "pong",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "up",
			"service":   service,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
