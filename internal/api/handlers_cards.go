package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/authorize"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/store"
)

// CreateCard handles POST /api/v1/cards: administrative provisioning of an
// issued card. The CVV is digested immediately and never stored clear.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	values, err := extractValues(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, errorPayload{Code: "INVALID_BODY", Reason: "Malformed body"})
		return
	}

	pan := cleanDigits(values.pick("numero", "tarjeta", "card"))
	name := strings.TrimSpace(values.pick("nombre", "nombre_titular", "name"))
	expiry := strings.TrimSpace(values.pick("fecha_venc", "vencimiento", "exp"))
	code := strings.TrimSpace(values.pick("cvv", "num_seguridad"))
	limitRaw := values.pick("limite", "monto_autorizado")
	availableRaw := values.pick("disponible")

	var errs []fieldError
	if len(pan) != 16 {
		errs = append(errs, fieldError{Field: "numero", Reason: "INVALID_PAN"})
	}
	if name == "" {
		errs = append(errs, fieldError{Field: "nombre", Reason: "REQUIRED"})
	}
	if !validExpiry(expiry) {
		errs = append(errs, fieldError{Field: "fecha_venc", Reason: "INVALID_FORMAT"})
	}
	if len(cleanDigits(code)) != 3 || len(code) != 3 {
		errs = append(errs, fieldError{Field: "cvv", Reason: "INVALID_FORMAT"})
	}
	limit, ok := parseNonNegativeAmount(limitRaw)
	if !ok {
		errs = append(errs, fieldError{Field: "limite", Reason: "INVALID_AMOUNT"})
	}
	available := limit
	if availableRaw != "" {
		if available, ok = parseNonNegativeAmount(availableRaw); !ok {
			errs = append(errs, fieldError{Field: "disponible", Reason: "INVALID_AMOUNT"})
		} else if available.GreaterThan(limit) {
			errs = append(errs, fieldError{Field: "disponible", Reason: "EXCEEDS_LIMIT"})
		}
	}
	if len(errs) > 0 {
		respondValidationError(w, r, errs)
		return
	}

	card, err := h.store.CreateCard(r.Context(), store.NewCard{
		PAN:        pan,
		HolderName: normalizeName(name),
		Expiry:     expiry,
		CVVDigest:  h.verifier.Digest(code),
		Limit:      limit,
		Available:  available,
		Status:     cardStatusOf(values.pick("estado", "status")),
	})
	if err != nil {
		if errors.Is(err, store.ErrCardExists) {
			respondError(w, r, http.StatusConflict, errorPayload{Code: "CARD_ALREADY_EXISTS"})
			return
		}
		h.log.Error("card create failed", "err", err)
		respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		return
	}
	respond(w, r, http.StatusCreated, h.cardPayloadOf(card))
}

// ListCards handles GET /api/v1/cards. Always JSON: this feeds the admin
// console, which has no XML mode.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.store.ListCards(r.Context())
	if err != nil {
		h.log.Error("card list failed", "err", err)
		respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		return
	}
	out := make([]cardPayload, 0, len(cards))
	for i := range cards {
		out = append(out, h.cardPayloadOf(&cards[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

// GetCard handles GET /api/v1/cards/{pan}.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	pan := cleanDigits(mux.Vars(r)["pan"])
	card, err := h.store.GetCard(r.Context(), pan)
	if err != nil {
		h.log.Error("card read failed", "err", err)
		respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		return
	}
	if card == nil {
		respondError(w, r, http.StatusNotFound, errorPayload{Code: "CARD_NOT_FOUND"})
		return
	}
	respond(w, r, http.StatusOK, h.cardPayloadOf(card))
}

// PatchCard handles PATCH /api/v1/cards/{pan}: status changes and absolute
// available-balance sets, validated against the limit under the row lock.
func (h *Handler) PatchCard(w http.ResponseWriter, r *http.Request) {
	pan := cleanDigits(mux.Vars(r)["pan"])
	values, err := extractValues(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, errorPayload{Code: "INVALID_BODY", Reason: "Malformed body"})
		return
	}

	patch := store.CardPatch{}
	if raw := values.pick("estado", "status"); raw != "" {
		if !validCardStatus(raw) {
			respondValidationError(w, r, []fieldError{{Field: "estado", Reason: "INVALID_VALUE"}})
			return
		}
		st := cardStatusOf(raw)
		patch.Status = &st
	}
	if raw := values.pick("disponible"); raw != "" {
		a, ok := parseNonNegativeAmount(raw)
		if !ok {
			respondValidationError(w, r, []fieldError{{Field: "disponible", Reason: "INVALID_AMOUNT"}})
			return
		}
		patch.Available = &a
	}

	card, err := h.store.UpdateCard(r.Context(), pan, patch)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrCardNotFound):
			respondError(w, r, http.StatusNotFound, errorPayload{Code: "CARD_NOT_FOUND"})
		case errors.Is(err, store.ErrInvalidAvailable):
			respondError(w, r, http.StatusUnprocessableEntity, errorPayload{
				Code:   "INVALID_AVAILABLE",
				Reason: "0 <= disponible <= limite",
			})
		default:
			h.log.Error("card patch failed", "err", err)
			respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		}
		return
	}
	respond(w, r, http.StatusOK, h.cardPayloadOf(card))
}

// CreatePayment handles POST /api/v1/cards/{pan}/payments: an issuer credit
// raising the available balance up to the limit. Supports idempotent
// retries like the authorization endpoint.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	pan := cleanDigits(mux.Vars(r)["pan"])
	values, err := extractValues(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, errorPayload{Code: "INVALID_BODY", Reason: "Malformed body"})
		return
	}

	amount, ok := parseAmount(values.pick("monto", "amount"))
	if !ok {
		respondValidationError(w, r, []fieldError{{Field: "monto", Reason: "INVALID_AMOUNT"}})
		return
	}
	reference := normalizeMerchant(values.pick("referencia", "reference"))
	if len(reference) > 64 {
		reference = reference[:64]
	}
	if reference == "" {
		reference = "PAYMENT"
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(values.pick("idempotencykey", "idempotency_key"))
	}
	if len(key) > maxIdempotencyKeyLen {
		key = key[:maxIdempotencyKeyLen]
	}

	out, err := h.engine.Payment(r.Context(), authorize.PaymentRequest{
		CardPAN:        pan,
		Amount:         amount,
		Reference:      reference,
		IdempotencyKey: key,
	})
	if err != nil {
		if errors.Is(err, authorize.ErrCardNotFound) {
			respondError(w, r, http.StatusNotFound, errorPayload{Code: "CARD_NOT_FOUND"})
			return
		}
		h.log.Error("payment failed", "err", err)
		respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		return
	}

	if out.Conflict {
		respondError(w, r, http.StatusConflict, errorPayload{
			Code: conflictCode,
			Previous: &priorPayload{
				Card:     out.Prior.MaskedCard,
				Amount:   out.Prior.Amount.StringFixed(2),
				Merchant: out.Prior.Merchant,
			},
		})
		return
	}

	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	respond(w, r, status, paymentPayload{
		Issuer:    h.cfg.IssuerName,
		Card:      out.MaskedCard,
		Amount:    out.Amount.StringFixed(2),
		Available: out.Available.StringFixed(2),
		Reference: out.Reference,
		CreatedAt: timestamp(out.CreatedAt),
	})
}

// ListCardTransactions handles GET /api/v1/cards/{pan}/transactions.
// Always JSON, newest first.
func (h *Handler) ListCardTransactions(w http.ResponseWriter, r *http.Request) {
	pan := cleanDigits(mux.Vars(r)["pan"])
	card, err := h.store.GetCard(r.Context(), pan)
	if err != nil {
		h.log.Error("card read failed", "err", err)
		respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		return
	}
	if card == nil {
		respondError(w, r, http.StatusNotFound, errorPayload{Code: "CARD_NOT_FOUND"})
		return
	}

	trxs, err := h.store.ListTransactions(r.Context(), pan)
	if err != nil {
		h.log.Error("transaction list failed", "err", err)
		respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "INTERNAL_ERROR"})
		return
	}

	out := make([]transactionPayload, 0, len(trxs))
	for _, t := range trxs {
		out = append(out, transactionPayload{
			ID:           strconv.FormatInt(t.ID, 10),
			CardPAN:      t.CardPAN,
			Kind:         string(t.Kind),
			Amount:       t.Amount.StringFixed(2),
			Merchant:     t.Merchant,
			Status:       string(t.Status),
			AuthCode:     t.AuthCode,
			DenialReason: t.DenialReason,
			CreatedAt:    timestamp(t.CreatedAt),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

func (h *Handler) cardPayloadOf(c *domain.Card) cardPayload {
	return cardPayload{
		Issuer:     h.cfg.IssuerName,
		PAN:        c.PAN,
		HolderName: c.HolderName,
		Expiry:     c.Expiry,
		Limit:      c.Limit.StringFixed(2),
		Available:  c.Available.StringFixed(2),
		Status:     string(c.Status),
		CreatedAt:  timestamp(c.CreatedAt),
		UpdatedAt:  timestamp(c.UpdatedAt),
	}
}

func cardStatusOf(raw string) domain.CardStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "blocked", "bloqueada":
		return domain.CardBlocked
	case "expired", "vencida", "expirada":
		return domain.CardExpired
	default:
		return domain.CardActive
	}
}

func validCardStatus(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "activa", "blocked", "bloqueada", "expired", "vencida", "expirada":
		return true
	}
	return false
}

// parseNonNegativeAmount accepts zero, unlike purchase amounts.
func parseNonNegativeAmount(raw string) (decimal.Decimal, bool) {
	if !amountPattern.MatchString(raw) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}
