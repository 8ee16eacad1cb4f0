package authorize

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
)

var (
	// ErrCardNotFound is returned by operations that require an existing card
	// row, such as payments. Purchase authorization never returns it: an
	// unknown card there is a denial, not an error.
	ErrCardNotFound = errors.New("card not found")

	// ErrKeyClaimed signals that a concurrent attempt committed first under
	// the same idempotency key. The store maps its uniqueness violation to
	// this sentinel; the engine converts it into a replay-read.
	ErrKeyClaimed = errors.New("idempotency key already claimed")
)

// PurchaseInsert carries a credential-verified purchase attempt into the
// ledger. The store evaluates card status and available balance, assigns the
// final status, auth code and denial reason, and debits the balance for
// approvals, all atomically with the insert under the held row lock.
type PurchaseInsert struct {
	CardPAN        string
	Amount         decimal.Decimal
	Merchant       string
	IdempotencyKey string
	ReclaimKey     bool
}

// DenialInsert writes a pre-decided denial (credential mismatch). No balance
// effect.
type DenialInsert struct {
	CardPAN        string
	Amount         decimal.Decimal
	Merchant       string
	IdempotencyKey string
	ReclaimKey     bool
	Reason         string
}

// PaymentInsert credits the card, capped at its authorized limit.
type PaymentInsert struct {
	CardPAN        string
	Amount         decimal.Decimal
	Reference      string
	IdempotencyKey string
	ReclaimKey     bool
}

// AuthTx is the transactional scope the engine works in. LockCard must be
// called before any insert so that the balance read and the balance effect
// are serialized per card; the lock is held until the transaction commits or
// rolls back.
type AuthTx interface {
	// LockCard acquires an exclusive row lock on the card. Returns (nil, nil)
	// when no such card exists.
	LockCard(ctx context.Context, pan string) (*domain.Card, error)
	InsertPurchase(ctx context.Context, ins PurchaseInsert) (*domain.Transaction, error)
	InsertDenial(ctx context.Context, ins DenialInsert) (*domain.Transaction, error)
	InsertPayment(ctx context.Context, ins PaymentInsert) (*domain.Transaction, error)
}

// Store is the durable resource the engine authorizes against.
type Store interface {
	// FindPurchaseByKey returns the oldest committed purchase attempt tagged
	// with key, or (nil, nil) when the key is unused.
	FindPurchaseByKey(ctx context.Context, key string) (*domain.Transaction, error)

	// FindPaymentByKey is the payment-kind lookup, additionally scoped to the
	// card being credited.
	FindPaymentByKey(ctx context.Context, key, pan string) (*domain.Transaction, error)

	// GetCard reads a card without locking it. Returns (nil, nil) when absent.
	GetCard(ctx context.Context, pan string) (*domain.Card, error)

	// Authorize runs fn inside a single transaction. If fn returns an error
	// the transaction rolls back leaving no ledger row and no balance
	// mutation; otherwise it commits.
	Authorize(ctx context.Context, fn func(tx AuthTx) error) error
}
