package authorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
)

// PaymentRequest is an issuer-initiated credit to a card. No credential is
// involved: payments always approve.
type PaymentRequest struct {
	CardPAN        string
	Amount         decimal.Decimal
	Reference      string
	IdempotencyKey string
}

// PaymentOutcome mirrors Decision for the payment path. Available is the
// card's balance after the credit (current balance on replay).
type PaymentOutcome struct {
	Conflict      bool
	Replayed      bool
	MaskedCard    string
	Amount        decimal.Decimal
	Available     decimal.Decimal
	Reference     string
	CreatedAt     time.Time
	TransactionID int64
	Prior         *PriorUse
}

// Payment credits the card, capping the balance at the authorized limit.
// Idempotency keys are scoped to (key, payment kind, card). Returns
// ErrCardNotFound when the card does not exist.
func (e *Engine) Payment(ctx context.Context, req PaymentRequest) (*PaymentOutcome, error) {
	reclaim := false
	if req.IdempotencyKey != "" {
		prior, err := e.store.FindPaymentByKey(ctx, req.IdempotencyKey, req.CardPAN)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if prior != nil {
			switch e.classifyPayment(prior, req) {
			case useConflict:
				return &PaymentOutcome{
					Conflict: true,
					Prior: &PriorUse{
						MaskedCard: domain.MaskPAN(prior.CardPAN),
						Amount:     prior.Amount,
						Merchant:   prior.Merchant,
					},
				}, nil
			case useReplay:
				return e.replayPayment(ctx, prior)
			case useExpired:
				reclaim = true
			}
		}
	}

	out, err := e.attemptPayment(ctx, req, reclaim)
	if errors.Is(err, ErrKeyClaimed) {
		prior, ferr := e.store.FindPaymentByKey(ctx, req.IdempotencyKey, req.CardPAN)
		if ferr != nil {
			return nil, fmt.Errorf("replay read after key race: %w", ferr)
		}
		if prior == nil {
			return nil, err
		}
		return e.replayPayment(ctx, prior)
	}
	return out, err
}

func (e *Engine) classifyPayment(prior *domain.Transaction, req PaymentRequest) keyUse {
	if !prior.Amount.Equal(req.Amount) {
		return useConflict
	}
	if e.fresh(prior.CreatedAt) {
		return useReplay
	}
	return useExpired
}

// replayPayment re-delivers a prior credit. The balance effect already
// happened, so the current available is read back rather than recomputed.
func (e *Engine) replayPayment(ctx context.Context, prior *domain.Transaction) (*PaymentOutcome, error) {
	card, err := e.store.GetCard(ctx, prior.CardPAN)
	if err != nil {
		return nil, fmt.Errorf("card read on replay: %w", err)
	}
	if card == nil {
		return nil, ErrCardNotFound
	}
	return &PaymentOutcome{
		Replayed:      true,
		MaskedCard:    domain.MaskPAN(prior.CardPAN),
		Amount:        prior.Amount,
		Available:     card.Available,
		Reference:     prior.Merchant,
		CreatedAt:     prior.CreatedAt,
		TransactionID: prior.ID,
	}, nil
}

func (e *Engine) attemptPayment(ctx context.Context, req PaymentRequest, reclaim bool) (*PaymentOutcome, error) {
	var out *PaymentOutcome
	err := e.store.Authorize(ctx, func(tx AuthTx) error {
		card, err := tx.LockCard(ctx, req.CardPAN)
		if err != nil {
			return err
		}
		if card == nil {
			return ErrCardNotFound
		}
		trx, err := tx.InsertPayment(ctx, PaymentInsert{
			CardPAN:        req.CardPAN,
			Amount:         req.Amount,
			Reference:      req.Reference,
			IdempotencyKey: req.IdempotencyKey,
			ReclaimKey:     reclaim,
		})
		if err != nil {
			return err
		}
		available := card.Available.Add(req.Amount)
		if available.GreaterThan(card.Limit) {
			available = card.Limit
		}
		out = &PaymentOutcome{
			MaskedCard:    domain.MaskPAN(req.CardPAN),
			Amount:        req.Amount,
			Available:     available,
			Reference:     req.Reference,
			CreatedAt:     trx.CreatedAt,
			TransactionID: trx.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
