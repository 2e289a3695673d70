// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package middleware provides the HTTP ingress middleware stack.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/ManuGH/labctl/internal/log"
)

// Recoverer keeps panics inside downstream handlers from crashing the
// daemon. It logs the panic with its stack and returns a 500 JSON body.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)
				reqID := log.RequestIDFromContext(r.Context())

				log.WithComponent("panic-recovery").Error().
					Str(log.FieldEvent, "panic.recovered").
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str(log.FieldRequestID, reqID).
					Interface("panic_value", rec).
					Str("stack_trace", string(buf[:n])).
					Msg("panic recovered in HTTP handler")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":     "internal server error",
					"requestId": reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
