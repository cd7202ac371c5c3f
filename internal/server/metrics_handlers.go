package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/router"
)

// StatsSource reports per-backend call statistics.
type StatsSource interface {
	Stats() llm.ProviderStats
}

// HandleLLMMetrics returns backend call statistics as JSON.
// GET /api/v1/metrics/llm
func HandleLLMMetrics(sources []StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := LLMMetricsResponse{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Providers: make([]llm.ProviderStats, 0, len(sources)),
		}
		for _, s := range sources {
			response.Providers = append(response.Providers, s.Stats())
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
			return
		}
	}
}

// RegisterMetricsRoutes registers the Prometheus scrape endpoint and the JSON
// backend statistics.
func RegisterMetricsRoutes(mux *http.ServeMux, sources []StatsSource) {
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/metrics/llm", HandleLLMMetrics(sources))
}

// HandleRouterMetrics returns the routing counters as JSON.
// GET /api/v1/metrics/router
func HandleRouterMetrics(src RoutingStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := src.Stats()
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		writeJSON(w, http.StatusOK, RouterMetricsResponse{
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Stats:         stats,
			FallbackRatio: stats.FallbackRatio(),
		})
	}
}

// HandleResetRouterMetrics clears the routing counters.
// DELETE /api/v1/metrics/router
func HandleResetRouterMetrics(src RoutingStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src.ResetStats()
		w.WriteHeader(http.StatusNoContent)
	}
}

// RegisterRouterMetricsRoutes registers the routing statistics endpoints.
func RegisterRouterMetricsRoutes(mux *http.ServeMux, src RoutingStats) {
	mux.HandleFunc("GET /api/v1/metrics/router", HandleRouterMetrics(src))
	mux.HandleFunc("DELETE /api/v1/metrics/router", HandleResetRouterMetrics(src))
}

var _ RoutingStats = (*router.Router)(nil)
