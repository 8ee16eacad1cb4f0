// Package authorize implements the issuer's authorization engine: it decides
// purchase attempts (approved/denied) and payment credits against the card
// store and transaction ledger, with idempotent retry semantics.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/cvv"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
)

// DefaultRetention is how long a committed attempt stays replayable under
// its idempotency key.
const DefaultRetention = 24 * time.Hour

// Engine orchestrates credential verification, idempotency resolution and
// the transactional check-and-debit.
type Engine struct {
	store     Store
	verifier  *cvv.Verifier
	retention time.Duration

	now func() time.Time // test hook
}

func NewEngine(store Store, verifier *cvv.Verifier, retention time.Duration) *Engine {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Engine{
		store:     store,
		verifier:  verifier,
		retention: retention,
		now:       time.Now,
	}
}

// Request is a purchase authorization attempt. All fields except
// IdempotencyKey are required and assumed pre-validated (PAN format and Luhn,
// positive two-decimal amount, normalized merchant).
type Request struct {
	CardPAN        string
	CVV            string
	Amount         decimal.Decimal
	Merchant       string
	IdempotencyKey string
}

// PriorUse describes the first use of a conflicting idempotency key. The
// card is masked; the full PAN is never re-exposed.
type PriorUse struct {
	MaskedCard string
	Amount     decimal.Decimal
	Merchant   string
}

// Decision is the outcome of an authorization attempt. Exactly one of the
// following holds: Conflict is set, or Status is approved/denied. Denials
// carry Reason and the zero auth code sentinel; approvals carry a nonzero
// AuthCode. Replayed marks a verbatim re-delivery of a prior outcome.
type Decision struct {
	Status        domain.TransactionStatus
	Conflict      bool
	Replayed      bool
	MaskedCard    string
	AuthCode      string
	Reason        string
	CreatedAt     time.Time
	TransactionID int64
	Prior         *PriorUse
}

// Approved reports whether the decision is a non-conflict approval.
func (d *Decision) Approved() bool {
	return !d.Conflict && d.Status == domain.StatusApproved
}

// keyUse classifies a prior attempt found under the request's key.
type keyUse int

const (
	useReplay keyUse = iota
	useConflict
	useExpired
)

// Authorize decides a purchase attempt. Business denials and idempotency
// conflicts are normal decisions, never errors; an error return means a
// transient store failure and the whole call is safe to retry with the same
// key.
func (e *Engine) Authorize(ctx context.Context, req Request) (*Decision, error) {
	reclaim := false
	if req.IdempotencyKey != "" {
		prior, err := e.store.FindPurchaseByKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if prior != nil {
			switch e.classifyPurchase(prior, req) {
			case useConflict:
				return conflictDecision(prior), nil
			case useReplay:
				return replayDecision(prior), nil
			case useExpired:
				reclaim = true
			}
		}
	}

	dec, err := e.attemptPurchase(ctx, req, reclaim)
	if errors.Is(err, ErrKeyClaimed) {
		// Lost the first-committed-attempt race. The winner's row is
		// authoritative: replay it, or surface a conflict if the racing
		// parameters differ.
		prior, ferr := e.store.FindPurchaseByKey(ctx, req.IdempotencyKey)
		if ferr != nil {
			return nil, fmt.Errorf("replay read after key race: %w", ferr)
		}
		if prior == nil {
			return nil, err
		}
		if e.classifyPurchase(prior, req) == useConflict {
			return conflictDecision(prior), nil
		}
		return replayDecision(prior), nil
	}
	return dec, err
}

// classifyPurchase applies the resolver matrix: parameter mismatch is a
// conflict regardless of freshness; a fresh match replays; a stale match
// means the key is claimed anew.
func (e *Engine) classifyPurchase(prior *domain.Transaction, req Request) keyUse {
	if prior.CardPAN != req.CardPAN || !prior.Amount.Equal(req.Amount) || prior.Merchant != req.Merchant {
		return useConflict
	}
	if e.fresh(prior.CreatedAt) {
		return useReplay
	}
	return useExpired
}

func (e *Engine) fresh(createdAt time.Time) bool {
	return e.now().Sub(createdAt) < e.retention
}

func (e *Engine) attemptPurchase(ctx context.Context, req Request, reclaim bool) (*Decision, error) {
	var dec *Decision
	err := e.store.Authorize(ctx, func(tx AuthTx) error {
		card, err := tx.LockCard(ctx, req.CardPAN)
		if err != nil {
			return err
		}
		if card == nil {
			// No card row to reference, so nothing is persisted: the denial
			// is synthetic. Deliberate audit gap, kept as-is.
			dec = &Decision{
				Status:     domain.StatusDenied,
				MaskedCard: domain.MaskPAN(req.CardPAN),
				AuthCode:   domain.DeniedAuthCode,
				Reason:     domain.ReasonUnknownCard,
				CreatedAt:  e.now().UTC(),
			}
			return nil
		}
		if !e.verifier.Verify(card.CVVDigest, req.CVV) {
			trx, err := tx.InsertDenial(ctx, DenialInsert{
				CardPAN:        req.CardPAN,
				Amount:         req.Amount,
				Merchant:       req.Merchant,
				IdempotencyKey: req.IdempotencyKey,
				ReclaimKey:     reclaim,
				Reason:         domain.ReasonInvalidCVV,
			})
			if err != nil {
				return err
			}
			dec = decisionFrom(trx)
			return nil
		}
		// The insert itself evaluates status and balance and debits on
		// approval; its outcome is authoritative.
		trx, err := tx.InsertPurchase(ctx, PurchaseInsert{
			CardPAN:        req.CardPAN,
			Amount:         req.Amount,
			Merchant:       req.Merchant,
			IdempotencyKey: req.IdempotencyKey,
			ReclaimKey:     reclaim,
		})
		if err != nil {
			return err
		}
		dec = decisionFrom(trx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dec, nil
}

func decisionFrom(trx *domain.Transaction) *Decision {
	return &Decision{
		Status:        trx.Status,
		MaskedCard:    domain.MaskPAN(trx.CardPAN),
		AuthCode:      trx.AuthCode,
		Reason:        trx.DenialReason,
		CreatedAt:     trx.CreatedAt,
		TransactionID: trx.ID,
	}
}

func replayDecision(prior *domain.Transaction) *Decision {
	d := decisionFrom(prior)
	d.Replayed = true
	return d
}

func conflictDecision(prior *domain.Transaction) *Decision {
	return &Decision{
		Conflict: true,
		Prior: &PriorUse{
			MaskedCard: domain.MaskPAN(prior.CardPAN),
			Amount:     prior.Amount,
			Merchant:   prior.Merchant,
		},
	}
}
