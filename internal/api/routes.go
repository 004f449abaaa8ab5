package api

import (
	"net/http"

	"boost-service/internal/metrics"
)

// NewMux registers every route of the service. webhook is mounted as is: it
// owns its own acknowledgement and timeout handling.
func NewMux(h *Handler, webhook http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /boosts", h.CreateBoost)
	mux.HandleFunc("GET /transactions/{externalTrxId}", h.GetTransaction)
	mux.HandleFunc("GET /boost-requests", h.ListBoostRequests)
	mux.HandleFunc("GET /boost-requests/{id}", h.GetBoostRequest)
	mux.HandleFunc("POST /boost-requests/{id}/approve", h.Approve)
	mux.HandleFunc("POST /boost-requests/{id}/reject", h.Reject)
	mux.Handle("POST /webhooks/payment", webhook)

	return mux
}
