package store

import (
	"context"
	"fmt"
)

// Schema statements, applied in order by EnsureSchema. The partial unique
// indexes arbitrate concurrent first use of an idempotency key: the losing
// insert fails with a uniqueness violation and the engine replays the
// winner's row. Purchase keys are claimed globally; payment keys are claimed
// per card, mirroring the per-card payment lookup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cards (
		pan          TEXT PRIMARY KEY,
		holder_name  TEXT NOT NULL,
		expiry       TEXT NOT NULL,
		cvv_digest   TEXT NOT NULL,
		credit_limit NUMERIC(12,2) NOT NULL CHECK (credit_limit >= 0),
		available    NUMERIC(12,2) NOT NULL CHECK (available >= 0),
		status       TEXT NOT NULL DEFAULT 'active',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (available <= credit_limit)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id              BIGSERIAL PRIMARY KEY,
		card_pan        TEXT NOT NULL REFERENCES cards(pan),
		kind            TEXT NOT NULL,
		amount          NUMERIC(12,2) NOT NULL CHECK (amount > 0),
		merchant        TEXT NOT NULL,
		idempotency_key TEXT,
		status          TEXT NOT NULL,
		auth_code       TEXT NOT NULL DEFAULT '000000',
		denial_reason   TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_purchase_key_idx
		ON transactions (idempotency_key)
		WHERE idempotency_key IS NOT NULL AND kind = 'purchase'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_payment_key_card_idx
		ON transactions (idempotency_key, card_pan)
		WHERE idempotency_key IS NOT NULL AND kind = 'payment'`,
	`CREATE INDEX IF NOT EXISTS transactions_card_created_idx
		ON transactions (card_pan, created_at DESC)`,
}

// EnsureSchema creates the card and ledger tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
