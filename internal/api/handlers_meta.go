package api

import (
	"encoding/json"
	"net/http"
)

// Metadata handles GET /metadata: issuer discovery for merchant
// integrations.
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, metadataPayload{
		IssuerID: h.cfg.IssuerID,
		Issuer:   h.cfg.IssuerName,
		Host:     h.cfg.PublicBaseURL,
		Formats:  []string{"JSON", "XML"},
		Scripts:  metadataScripts{Authorization: "/autorizacion"},
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// Readyz reports readiness only when the store answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"ready": false, "error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"ready": true})
}
