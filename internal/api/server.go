// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the daemon's HTTP surface: the WebSocket push
// channel carrying the message catalog, a small REST read side, health
// probes and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/labctl/internal/api/middleware"
	"github.com/ManuGH/labctl/internal/bus"
	devmanager "github.com/ManuGH/labctl/internal/device/manager"
	"github.com/ManuGH/labctl/internal/log"
	seqmanager "github.com/ManuGH/labctl/internal/sequence/manager"
	trgmanager "github.com/ManuGH/labctl/internal/trigger/manager"
)

// Config tunes the HTTP surface.
type Config struct {
	Listen         string
	AllowedOrigins []string
	RateLimitRPS   int
	// TracingService enables otel middleware when non-empty.
	TracingService string
}

// Server wires the HTTP surface over the managers.
type Server struct {
	cfg       Config
	bus       *bus.Bus
	devices   *devmanager.Manager
	sequences *seqmanager.Manager
	triggers  *trgmanager.Manager

	ready atomic.Bool
}

// New builds the server. Call SetReady once startup discovery finished.
func New(cfg Config, b *bus.Bus, devices *devmanager.Manager, sequences *seqmanager.Manager, triggers *trgmanager.Manager) *Server {
	return &Server{
		cfg:       cfg,
		bus:       b,
		devices:   devices,
		sequences: sequences,
		triggers:  triggers,
	}
}

// SetReady flips the readiness probe.
func (s *Server) SetReady() { s.ready.Store(true) }

// Router builds the route tree with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins: s.cfg.AllowedOrigins,
		TracingService: s.cfg.TracingService,
		RateLimitRPS:   s.cfg.RateLimitRPS,
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.handleDeviceList)
		r.Get("/devices/{deviceID}", s.handleDeviceState)
		r.Get("/devices/{deviceID}/history", s.handleDeviceHistory)
		r.Get("/devices/{deviceID}/waveform", s.handleScopeWaveform)
		r.Get("/devices/{deviceID}/screenshot", s.handleScopeScreenshot)
		r.Post("/devices/{deviceID}/scope", s.handleScopeCommand)
	})

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then drains.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.WithComponent("api").Info().Str("listen", s.cfg.Listen).Msg("http server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
