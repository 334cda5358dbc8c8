// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lostsec/killfeed/internal/config"
	"github.com/lostsec/killfeed/internal/middleware"
)

// NewRouter wires the query surface onto a chi router with the
// production middleware stack: real-IP extraction, request IDs, panic
// recovery, Prometheus instrumentation, CORS, and per-IP rate limiting.
func NewRouter(handler *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Route("/api/v1/killmails", func(r chi.Router) {
		if cfg.RateLimitReqs > 0 {
			r.Use(httprate.Limit(cfg.RateLimitReqs, cfg.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Get("/", handler.KillmailList)
		r.Get("/{id}", handler.KillmailGet)
		r.Get("/{id}/fitting", handler.KillmailFitting)
	})

	r.Get("/healthz", handler.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
