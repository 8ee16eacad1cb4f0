package api

import (
	"net/http"
	"strings"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/authorize"
)

const conflictCode = "IDEMPOTENCY_KEY_REUSED_WITH_DIFFERENT_PARAMETERS"

// CreateAuthorization handles POST /api/v1/authorizations: the purchase
// authorization operation. 201 for a fresh outcome, 200 for an idempotent
// replay, 409 for a key conflict.
func (h *Handler) CreateAuthorization(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readAuthInput(w, r)
	if !ok {
		return
	}

	dec, err := h.engine.Authorize(r.Context(), authorize.Request{
		CardPAN:        in.Card,
		CVV:            in.CVV,
		Amount:         in.Amount,
		Merchant:       in.Merchant,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		h.log.Error("authorization failed", "err", err)
		respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		return
	}

	if dec.Conflict {
		countDecisionMetrics("conflict", "")
		respondError(w, r, http.StatusConflict, errorPayload{
			Code:     conflictCode,
			Previous: priorOf(dec),
		})
		return
	}

	countDecisionMetrics(string(dec.Status), dec.Reason)
	status := http.StatusCreated
	if dec.Replayed {
		status = http.StatusOK
	}
	respond(w, r, status, h.authorizationPayloadOf(dec))
}

// LegacyAuthorization handles GET /autorizacion, the query-string flavor
// kept for merchant terminals that predate the JSON API. It always answers
// 200; conflicts are reported in the body.
func (h *Handler) LegacyAuthorization(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readAuthInput(w, r)
	if !ok {
		return
	}

	dec, err := h.engine.Authorize(r.Context(), authorize.Request{
		CardPAN:        in.Card,
		CVV:            in.CVV,
		Amount:         in.Amount,
		Merchant:       in.Merchant,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		h.log.Error("authorization failed", "err", err)
		respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		return
	}

	if dec.Conflict {
		countDecisionMetrics("conflict", "")
		respondError(w, r, http.StatusOK, errorPayload{
			Code:     conflictCode,
			Previous: priorOf(dec),
		})
		return
	}

	countDecisionMetrics(string(dec.Status), dec.Reason)
	payload := h.authorizationPayloadOf(dec)
	if decideFormat(r) == formatJSON {
		respond(w, r, http.StatusOK, map[string]authorizationPayload{"autorizacion": payload})
		return
	}
	respond(w, r, http.StatusOK, legacyAuthorizationPayload{
		Issuer:    payload.Issuer,
		Card:      payload.Card,
		Status:    payload.Status,
		AuthCode:  payload.AuthCode,
		Reason:    payload.Reason,
		CreatedAt: payload.CreatedAt,
	})
}

// readAuthInput parses, normalizes and validates the attempt. A false
// return means the response has already been written.
func (h *Handler) readAuthInput(w http.ResponseWriter, r *http.Request) (*authInput, bool) {
	values, err := extractValues(r)
	if err != nil {
		code := "INVALID_JSON"
		if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "xml") {
			code = "INVALID_XML"
		}
		respondError(w, r, http.StatusBadRequest, errorPayload{Code: code, Reason: "Malformed body"})
		return nil, false
	}
	in := normalizeAuthInput(r, values)
	if errs := validateAuthInput(in); len(errs) > 0 {
		respondValidationError(w, r, errs)
		return nil, false
	}
	return in, true
}

func (h *Handler) authorizationPayloadOf(dec *authorize.Decision) authorizationPayload {
	return authorizationPayload{
		Issuer:    h.cfg.IssuerName,
		Card:      dec.MaskedCard,
		Status:    string(dec.Status),
		AuthCode:  dec.AuthCode,
		Reason:    dec.Reason,
		CreatedAt: timestamp(dec.CreatedAt),
	}
}

func priorOf(dec *authorize.Decision) *priorPayload {
	if dec.Prior == nil {
		return nil
	}
	return &priorPayload{
		Card:     dec.Prior.MaskedCard,
		Amount:   dec.Prior.Amount.StringFixed(2),
		Merchant: dec.Prior.Merchant,
	}
}
