package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// mountMetrics exposes the Prometheus scrape endpoint when a gatherer is
// configured.
func (s *server) mountMetrics(r chi.Router) {
	if s.deps.Metrics == nil {
		return
	}
	r.Method("GET", "/metrics", promhttp.HandlerFor(s.deps.Metrics, promhttp.HandlerOpts{}))
}
