// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StackConfig configures the canonical ingress middleware stack, shared by
// every HTTP surface so cross-cutting concerns never drift.
type StackConfig struct {
	AllowedOrigins []string
	CSP            string

	// TracingService enables OpenTelemetry spans when non-empty.
	TracingService string

	// RateLimitRPS throttles per client IP. <= 0 disables.
	RateLimitRPS int
}

// NewRouter constructs a chi router with the canonical stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the stack in its canonical order.
func ApplyStack(r chi.Router, cfg StackConfig) {
	// Recoverer is the outermost safety net; RequestID follows so every
	// later layer can correlate.
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(SecurityHeaders(cfg.CSP))
	r.Use(Metrics())
	if cfg.TracingService != "" {
		r.Use(otelhttp.NewMiddleware(cfg.TracingService))
	}
	r.Use(Logging)
	r.Use(RateLimit(cfg.RateLimitRPS, time.Second))
}
