// Package store provides the durable card store and transaction ledger on
// Postgres, plus an in-memory implementation with the same semantics for
// tests and local development.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/authorize"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
)

var (
	ErrCardNotFound     = errors.New("card not found")
	ErrCardExists       = errors.New("card already exists")
	ErrInvalidAvailable = errors.New("available must satisfy 0 <= available <= limit")
)

// txTimeout bounds every authorization transaction. Exceeding it surfaces
// as a transient failure, never a silent hang.
const txTimeout = 5 * time.Second

// NewCard carries the fields for card provisioning. CVVDigest is the
// already-peppered digest; the store never sees a clear security code.
type NewCard struct {
	PAN        string
	HolderName string
	Expiry     string
	CVVDigest  string
	Limit      decimal.Decimal
	Available  decimal.Decimal
	Status     domain.CardStatus
}

// CardPatch is an administrative update. Nil fields are left untouched.
// Available is an absolute set, validated against the limit under the row
// lock.
type CardPatch struct {
	Status    *domain.CardStatus
	Available *decimal.Decimal
}

// Store is the Postgres-backed implementation.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CreateCard inserts a new card. Duplicate PANs return ErrCardExists.
func (s *Store) CreateCard(ctx context.Context, nc NewCard) (*domain.Card, error) {
	var c domain.Card
	err := s.db.QueryRow(ctx,
		`INSERT INTO cards (pan, holder_name, expiry, cvv_digest, credit_limit, available, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING pan, holder_name, expiry, cvv_digest, credit_limit, available, status, created_at, updated_at`,
		nc.PAN, nc.HolderName, nc.Expiry, nc.CVVDigest, nc.Limit, nc.Available, nc.Status,
	).Scan(&c.PAN, &c.HolderName, &c.Expiry, &c.CVVDigest, &c.Limit, &c.Available, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrCardExists
		}
		return nil, fmt.Errorf("card insert failed: %w", err)
	}
	return &c, nil
}

// GetCard reads a card without locking. Returns (nil, nil) when absent, as
// the authorize contract requires.
func (s *Store) GetCard(ctx context.Context, pan string) (*domain.Card, error) {
	var c domain.Card
	err := s.db.QueryRow(ctx,
		`SELECT pan, holder_name, expiry, cvv_digest, credit_limit, available, status, created_at, updated_at
		 FROM cards WHERE pan = $1`, pan,
	).Scan(&c.PAN, &c.HolderName, &c.Expiry, &c.CVVDigest, &c.Limit, &c.Available, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("card query failed: %w", err)
	}
	return &c, nil
}

// ListCards returns all cards, newest first.
func (s *Store) ListCards(ctx context.Context) ([]domain.Card, error) {
	rows, err := s.db.Query(ctx,
		`SELECT pan, holder_name, expiry, cvv_digest, credit_limit, available, status, created_at, updated_at
		 FROM cards ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("card list failed: %w", err)
	}
	defer rows.Close()

	cards := []domain.Card{}
	for rows.Next() {
		var c domain.Card
		if err := rows.Scan(&c.PAN, &c.HolderName, &c.Expiry, &c.CVVDigest, &c.Limit, &c.Available, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// UpdateCard applies an administrative patch under the card's row lock so
// the available/limit invariant is checked against a stable balance.
func (s *Store) UpdateCard(ctx context.Context, pan string, patch CardPatch) (*domain.Card, error) {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var c domain.Card
	err = tx.QueryRow(ctx,
		`SELECT pan, holder_name, expiry, cvv_digest, credit_limit, available, status, created_at, updated_at
		 FROM cards WHERE pan = $1 FOR UPDATE`, pan,
	).Scan(&c.PAN, &c.HolderName, &c.Expiry, &c.CVVDigest, &c.Limit, &c.Available, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}

	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.Available != nil {
		a := *patch.Available
		if a.IsNegative() || a.GreaterThan(c.Limit) {
			return nil, ErrInvalidAvailable
		}
		c.Available = a
	}

	err = tx.QueryRow(ctx,
		`UPDATE cards SET status = $2, available = $3, updated_at = now()
		 WHERE pan = $1 RETURNING updated_at`,
		pan, c.Status, c.Available,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("card update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return &c, nil
}

// ListTransactions returns the card's ledger rows, newest first.
func (s *Store) ListTransactions(ctx context.Context, pan string) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, card_pan, kind, amount, merchant, COALESCE(idempotency_key, ''), status, auth_code, COALESCE(denial_reason, ''), created_at
		 FROM transactions WHERE card_pan = $1 ORDER BY created_at DESC, id DESC`, pan)
	if err != nil {
		return nil, fmt.Errorf("transaction list failed: %w", err)
	}
	defer rows.Close()

	trxs := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.CardPAN, &t.Kind, &t.Amount, &t.Merchant, &t.IdempotencyKey, &t.Status, &t.AuthCode, &t.DenialReason, &t.CreatedAt); err != nil {
			return nil, err
		}
		trxs = append(trxs, t)
	}
	return trxs, rows.Err()
}

// FindPurchaseByKey returns the oldest purchase attempt tagged with key.
func (s *Store) FindPurchaseByKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return s.findByKey(ctx, key, domain.KindPurchase, "")
}

// FindPaymentByKey returns the oldest payment tagged with key for the card.
func (s *Store) FindPaymentByKey(ctx context.Context, key, pan string) (*domain.Transaction, error) {
	return s.findByKey(ctx, key, domain.KindPayment, pan)
}

func (s *Store) findByKey(ctx context.Context, key string, kind domain.TransactionKind, pan string) (*domain.Transaction, error) {
	q := `SELECT id, card_pan, kind, amount, merchant, COALESCE(idempotency_key, ''), status, auth_code, COALESCE(denial_reason, ''), created_at
	      FROM transactions WHERE idempotency_key = $1 AND kind = $2`
	args := []any{key, kind}
	if pan != "" {
		q += ` AND card_pan = $3`
		args = append(args, pan)
	}
	q += ` ORDER BY created_at ASC LIMIT 1`

	var t domain.Transaction
	err := s.db.QueryRow(ctx, q, args...).Scan(
		&t.ID, &t.CardPAN, &t.Kind, &t.Amount, &t.Merchant, &t.IdempotencyKey, &t.Status, &t.AuthCode, &t.DenialReason, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	return &t, nil
}

// Authorize runs fn in one transaction. Everything fn does — the row lock,
// the ledger insert, the balance mutation — commits or rolls back as a unit.
func (s *Store) Authorize(ctx context.Context, fn func(tx authorize.AuthTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&authTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// authTx is the transactional scope handed to the engine. It remembers the
// locked card so inserts evaluate against the balance read under the lock.
type authTx struct {
	tx   pgx.Tx
	card *domain.Card
}

func (a *authTx) LockCard(ctx context.Context, pan string) (*domain.Card, error) {
	var c domain.Card
	err := a.tx.QueryRow(ctx,
		`SELECT pan, holder_name, expiry, cvv_digest, credit_limit, available, status, created_at, updated_at
		 FROM cards WHERE pan = $1 FOR UPDATE`, pan,
	).Scan(&c.PAN, &c.HolderName, &c.Expiry, &c.CVVDigest, &c.Limit, &c.Available, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	a.card = &c
	return &c, nil
}

// InsertPurchase evaluates card status and balance and writes the decided
// row. Approvals debit the balance in the same statement batch; the caller's
// transaction guarantees atomicity.
func (a *authTx) InsertPurchase(ctx context.Context, ins authorize.PurchaseInsert) (*domain.Transaction, error) {
	if a.card == nil {
		return nil, errors.New("purchase insert without a locked card")
	}

	status := domain.StatusApproved
	authCode := newAuthCode()
	reason := ""
	switch {
	case a.card.Status == domain.CardBlocked:
		status, authCode, reason = domain.StatusDenied, domain.DeniedAuthCode, domain.ReasonCardBlocked
	case a.card.Status == domain.CardExpired:
		status, authCode, reason = domain.StatusDenied, domain.DeniedAuthCode, domain.ReasonCardExpired
	case a.card.Available.LessThan(ins.Amount):
		status, authCode, reason = domain.StatusDenied, domain.DeniedAuthCode, domain.ReasonInsufficientFunds
	}

	trx, err := a.insert(ctx, insertRow{
		pan: ins.CardPAN, kind: domain.KindPurchase, amount: ins.Amount,
		merchant: ins.Merchant, key: ins.IdempotencyKey, reclaim: ins.ReclaimKey,
		status: status, authCode: authCode, reason: reason,
	})
	if err != nil {
		return nil, err
	}

	if status == domain.StatusApproved {
		if _, err := a.tx.Exec(ctx,
			`UPDATE cards SET available = available - $1, updated_at = now() WHERE pan = $2`,
			ins.Amount, ins.CardPAN); err != nil {
			return nil, fmt.Errorf("balance debit failed: %w", err)
		}
	}
	return trx, nil
}

func (a *authTx) InsertDenial(ctx context.Context, ins authorize.DenialInsert) (*domain.Transaction, error) {
	return a.insert(ctx, insertRow{
		pan: ins.CardPAN, kind: domain.KindPurchase, amount: ins.Amount,
		merchant: ins.Merchant, key: ins.IdempotencyKey, reclaim: ins.ReclaimKey,
		status: domain.StatusDenied, authCode: domain.DeniedAuthCode, reason: ins.Reason,
	})
}

// InsertPayment credits the card, capped at its authorized limit.
func (a *authTx) InsertPayment(ctx context.Context, ins authorize.PaymentInsert) (*domain.Transaction, error) {
	trx, err := a.insert(ctx, insertRow{
		pan: ins.CardPAN, kind: domain.KindPayment, amount: ins.Amount,
		merchant: ins.Reference, key: ins.IdempotencyKey, reclaim: ins.ReclaimKey,
		status: domain.StatusApproved, authCode: newAuthCode(), reason: "",
	})
	if err != nil {
		return nil, err
	}
	if _, err := a.tx.Exec(ctx,
		`UPDATE cards SET available = LEAST(available + $1, credit_limit), updated_at = now() WHERE pan = $2`,
		ins.Amount, ins.CardPAN); err != nil {
		return nil, fmt.Errorf("balance credit failed: %w", err)
	}
	return trx, nil
}

type insertRow struct {
	pan      string
	kind     domain.TransactionKind
	amount   decimal.Decimal
	merchant string
	key      string
	reclaim  bool
	status   domain.TransactionStatus
	authCode string
	reason   string
}

func (a *authTx) insert(ctx context.Context, row insertRow) (*domain.Transaction, error) {
	if row.reclaim && row.key != "" {
		// Release the key tag on the expired attempt so the unique index
		// accepts the new claim. The expired row's business fields stay
		// untouched. The scope matches the claim: global for purchases,
		// per card for payments.
		q := `UPDATE transactions SET idempotency_key = NULL WHERE idempotency_key = $1 AND kind = $2`
		args := []any{row.key, row.kind}
		if row.kind == domain.KindPayment {
			q += ` AND card_pan = $3`
			args = append(args, row.pan)
		}
		if _, err := a.tx.Exec(ctx, q, args...); err != nil {
			return nil, fmt.Errorf("key release failed: %w", err)
		}
	}

	trx := domain.Transaction{
		CardPAN:        row.pan,
		Kind:           row.kind,
		Amount:         row.amount,
		Merchant:       row.merchant,
		IdempotencyKey: row.key,
		Status:         row.status,
		AuthCode:       row.authCode,
		DenialReason:   row.reason,
	}
	err := a.tx.QueryRow(ctx,
		`INSERT INTO transactions (card_pan, kind, amount, merchant, idempotency_key, status, auth_code, denial_reason)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''))
		 RETURNING id, created_at`,
		row.pan, row.kind, row.amount, row.merchant, row.key, row.status, row.authCode, row.reason,
	).Scan(&trx.ID, &trx.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, authorize.ErrKeyClaimed
		}
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}
	return &trx, nil
}
