package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all routes. The legacy GET authorization endpoint is
// unauthenticated, as the terminals it serves predate the API key scheme;
// everything under /api/v1 requires the key.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/readyz", h.Readyz).Methods("GET")
	r.HandleFunc("/metadata", h.instrument("/metadata", h.Metadata)).Methods("GET")
	r.HandleFunc("/autorizacion", h.instrument("/autorizacion", h.LegacyAuthorization)).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/authorizations",
		h.instrument("/authorizations", h.requireAPIKey(h.CreateAuthorization))).Methods("POST")
	apiV1.HandleFunc("/cards",
		h.instrument("/cards", h.requireAPIKey(h.CreateCard))).Methods("POST")
	apiV1.HandleFunc("/cards",
		h.instrument("/cards", h.requireAPIKey(h.ListCards))).Methods("GET")
	apiV1.HandleFunc("/cards/{pan}",
		h.instrument("/cards/{pan}", h.requireAPIKey(h.GetCard))).Methods("GET")
	apiV1.HandleFunc("/cards/{pan}",
		h.instrument("/cards/{pan}", h.requireAPIKey(h.PatchCard))).Methods("PATCH")
	apiV1.HandleFunc("/cards/{pan}/payments",
		h.instrument("/cards/{pan}/payments", h.requireAPIKey(h.CreatePayment))).Methods("POST")
	apiV1.HandleFunc("/cards/{pan}/transactions",
		h.instrument("/cards/{pan}/transactions", h.requireAPIKey(h.ListCardTransactions))).Methods("GET")

	return r
}
