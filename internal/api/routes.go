package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/middleware"
)

// NewServeMux registers the API and health routes and wraps them in the
// middleware chain. m may be nil, which skips request metrics.
func NewServeMux(h *Handler, checker *health.Checker, m *metrics.Metrics, timeout time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/shards/{shard}/records", h.AddRecords)
	mux.HandleFunc("POST /api/v1/shards/{shard}/query", h.Query)
	mux.HandleFunc("GET /api/v1/shards/{shard}/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/shards/{shard}/snapshot", h.Snapshot)
	mux.HandleFunc("GET /api/v1/shards", h.AllStats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var handler http.Handler = mux
	if timeout > 0 {
		handler = middleware.Timeout(timeout)(handler)
	}
	handler = middleware.RequestID(handler)
	if m != nil {
		handler = middleware.Metrics(m)(handler)
	}
	return handler
}
