// Package server assembles the gin HTTP server: structured request
// logging and panic recovery via gin-contrib/zap, TLS when configured,
// and the handler set registered by the caller — the teacher's
// internal/server middleware stack, generalised to this domain's
// handlers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/config"
)

// RegisterFunc attaches one handler group's routes to the router.
type RegisterFunc func(r gin.IRouter)

// Server wraps gin's engine and the underlying http.Server so Start/Stop
// observe the shutdown ordering SPEC_FULL.md specifies (HTTP server
// stops first, before the Task Engine and Console Multiplexer drain).
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// New builds a gin engine in release mode with zap-backed request
// logging/recovery, registers every group via registerFuncs, and exposes
// Prometheus's default handler at /metrics.
func New(cfg config.ServerConfig, logger *zap.Logger, registerFuncs ...RegisterFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginzap.Logger(3*time.Second, logger), ginzap.RecoveryWithZap(logger, true))

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, register := range registerFuncs {
		register(engine)
	}

	return &Server{
		engine: engine,
		logger: logger,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: engine,
		},
	}
}

// Start serves HTTP (or HTTPS if cfg.TLSCert/TLSKey are set) until Stop
// is called, reporting unexpected failures on errCh.
func (s *Server) Start(cfg config.ServerConfig, errCh chan<- error) {
	go func() {
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			err = s.http.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = s.http.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Stop gracefully shuts the HTTP server down, the first step of
// SPEC_FULL.md's shutdown ordering.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
