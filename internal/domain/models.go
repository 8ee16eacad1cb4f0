package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus is the administrative state of an issued card.
type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardBlocked CardStatus = "blocked"
	CardExpired CardStatus = "expired"
)

// TransactionKind distinguishes cardholder debits from issuer credits.
type TransactionKind string

const (
	KindPurchase TransactionKind = "purchase"
	KindPayment  TransactionKind = "payment"
)

// TransactionStatus is the terminal outcome of an attempt. There is no
// observable pending state: a transaction is written already decided.
type TransactionStatus string

const (
	StatusApproved TransactionStatus = "approved"
	StatusDenied   TransactionStatus = "denied"
)

// Denial reasons recorded on denied transactions.
const (
	ReasonInvalidCVV        = "INVALID_CVV"
	ReasonUnknownCard       = "UNKNOWN_CARD"
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	ReasonCardBlocked       = "CARD_BLOCKED"
	ReasonCardExpired       = "CARD_EXPIRED"
)

// DeniedAuthCode is the zero sentinel carried by every denied outcome.
const DeniedAuthCode = "000000"

// Card is an issued card. CVVDigest is the peppered HMAC of the security
// code; the clear value is never stored.
// Invariant: 0 <= Available <= Limit.
type Card struct {
	PAN        string          `json:"numero"`
	HolderName string          `json:"nombre_titular"`
	Expiry     string          `json:"fecha_venc"` // YYYYMM
	CVVDigest  string          `json:"-"`
	Limit      decimal.Decimal `json:"monto_autorizado"`
	Available  decimal.Decimal `json:"monto_disponible"`
	Status     CardStatus      `json:"estado"`
	CreatedAt  time.Time       `json:"creada_en"`
	UpdatedAt  time.Time       `json:"actualizada_en"`
}

// Transaction is one row of the append-only ledger. Rows are immutable once
// committed; the idempotency key tag is the single exception, released when
// an expired key is re-claimed.
type Transaction struct {
	ID             int64             `json:"id"`
	CardPAN        string            `json:"tarjeta_numero"`
	Kind           TransactionKind   `json:"tipo"`
	Amount         decimal.Decimal   `json:"monto"`
	Merchant       string            `json:"comercio"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Status         TransactionStatus `json:"status"`
	AuthCode       string            `json:"autorizacion_numero"`
	DenialReason   string            `json:"detalle_denegacion,omitempty"`
	CreatedAt      time.Time         `json:"creada_en"`
}

// MaskPAN renders a card number for anything that crosses the system
// boundary: only the last four digits survive.
func MaskPAN(pan string) string {
	last4 := pan
	if len(pan) > 4 {
		last4 = pan[len(pan)-4:]
	}
	return "****-****-****-" + last4
}
