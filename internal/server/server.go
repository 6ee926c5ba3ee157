// Package server implements the HTTP transport layer for the llmgate
// gateway.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fitstack/llmgate/internal/app"
	"github.com/fitstack/llmgate/internal/config"
	"github.com/fitstack/llmgate/internal/storage"
)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Gateway *app.Gateway
	Config  *config.Manager
	Store   storage.Store       // usage/receipt reads for the admin API
	Metrics prometheus.Gatherer // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.clientAddr)
	r.Use(s.logging)

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	s.mountMetrics(r)

	// Client-facing API
	r.Post("/v1/generate", s.handleGenerate)

	// Admin API: model and rule management, usage analytics.
	r.Route("/admin", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.Post("/models", s.handleCreateModel)
		r.Put("/models/{id}", s.handleUpdateModel)
		r.Get("/rules", s.handleListRules)
		r.Put("/rules", s.handleReplaceRules)
		r.Get("/usage", s.handleQueryUsage)
		r.Get("/receipts/{request_id}", s.handleQueryReceipts)
	})

	return r
}

type server struct {
	deps Deps
}
