package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/authorize"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
)

func seedMemory(t *testing.T, available string) *Memory {
	t.Helper()
	m := NewMemory()
	_, err := m.CreateCard(context.Background(), NewCard{
		PAN:        "4111111111111111",
		HolderName: "HOLDER",
		Expiry:     "203112",
		CVVDigest:  "digest",
		Limit:      decimal.RequireFromString("1000.00"),
		Available:  decimal.RequireFromString(available),
		Status:     domain.CardActive,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m
}

func TestCreateCardDuplicate(t *testing.T) {
	m := seedMemory(t, "1000.00")

	_, err := m.CreateCard(context.Background(), NewCard{
		PAN:       "4111111111111111",
		Limit:     decimal.RequireFromString("500.00"),
		Available: decimal.RequireFromString("500.00"),
		Status:    domain.CardActive,
	})
	if !errors.Is(err, ErrCardExists) {
		t.Fatalf("err = %v, want ErrCardExists", err)
	}
}

func TestUpdateCardRejectsAvailableOutsideBounds(t *testing.T) {
	m := seedMemory(t, "500.00")

	over := decimal.RequireFromString("1000.01")
	if _, err := m.UpdateCard(context.Background(), "4111111111111111", CardPatch{Available: &over}); !errors.Is(err, ErrInvalidAvailable) {
		t.Errorf("available above limit: err = %v, want ErrInvalidAvailable", err)
	}

	negative := decimal.RequireFromString("-0.01")
	if _, err := m.UpdateCard(context.Background(), "4111111111111111", CardPatch{Available: &negative}); !errors.Is(err, ErrInvalidAvailable) {
		t.Errorf("negative available: err = %v, want ErrInvalidAvailable", err)
	}

	atLimit := decimal.RequireFromString("1000.00")
	card, err := m.UpdateCard(context.Background(), "4111111111111111", CardPatch{Available: &atLimit})
	if err != nil {
		t.Fatalf("available at limit: %v", err)
	}
	if !card.Available.Equal(atLimit) {
		t.Errorf("available = %s, want 1000.00", card.Available)
	}
}

func TestAuthorizeRollsBackOnError(t *testing.T) {
	m := seedMemory(t, "500.00")
	boom := errors.New("boom")

	err := m.Authorize(context.Background(), func(tx authorize.AuthTx) error {
		if _, err := tx.LockCard(context.Background(), "4111111111111111"); err != nil {
			return err
		}
		if _, err := tx.InsertPurchase(context.Background(), authorize.PurchaseInsert{
			CardPAN:  "4111111111111111",
			Amount:   decimal.RequireFromString("100.00"),
			Merchant: "STORE1",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	card, _ := m.GetCard(context.Background(), "4111111111111111")
	if !card.Available.Equal(decimal.RequireFromString("500.00")) {
		t.Errorf("rollback left available = %s", card.Available)
	}
	trxs, _ := m.ListTransactions(context.Background(), "4111111111111111")
	if len(trxs) != 0 {
		t.Errorf("rollback left %d transactions", len(trxs))
	}
}

func TestInsertRejectsClaimedKey(t *testing.T) {
	m := seedMemory(t, "500.00")

	insert := func(reclaim bool) error {
		return m.Authorize(context.Background(), func(tx authorize.AuthTx) error {
			if _, err := tx.LockCard(context.Background(), "4111111111111111"); err != nil {
				return err
			}
			_, err := tx.InsertPurchase(context.Background(), authorize.PurchaseInsert{
				CardPAN:        "4111111111111111",
				Amount:         decimal.RequireFromString("10.00"),
				Merchant:       "STORE1",
				IdempotencyKey: "key-1",
				ReclaimKey:     reclaim,
			})
			return err
		})
	}

	if err := insert(false); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(false); !errors.Is(err, authorize.ErrKeyClaimed) {
		t.Fatalf("second insert: err = %v, want ErrKeyClaimed", err)
	}
}

func TestReclaimReleasesExpiredKeyTag(t *testing.T) {
	m := seedMemory(t, "500.00")

	insert := func(reclaim bool) error {
		return m.Authorize(context.Background(), func(tx authorize.AuthTx) error {
			if _, err := tx.LockCard(context.Background(), "4111111111111111"); err != nil {
				return err
			}
			_, err := tx.InsertPurchase(context.Background(), authorize.PurchaseInsert{
				CardPAN:        "4111111111111111",
				Amount:         decimal.RequireFromString("10.00"),
				Merchant:       "STORE1",
				IdempotencyKey: "key-1",
				ReclaimKey:     reclaim,
			})
			return err
		})
	}

	if err := insert(false); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(true); err != nil {
		t.Fatalf("reclaim insert: %v", err)
	}

	// The key now tags exactly the new row; the old row kept its business
	// fields but lost the tag.
	trxs, _ := m.ListTransactions(context.Background(), "4111111111111111")
	if len(trxs) != 2 {
		t.Fatalf("transactions = %d, want 2", len(trxs))
	}
	tagged := 0
	for _, trx := range trxs {
		if trx.IdempotencyKey == "key-1" {
			tagged++
		}
	}
	if tagged != 1 {
		t.Errorf("rows tagged with key = %d, want 1", tagged)
	}
	found, _ := m.FindPurchaseByKey(context.Background(), "key-1")
	if found == nil || found.ID != trxs[0].ID {
		t.Errorf("key resolves to the wrong row: %+v", found)
	}
}

func TestPaymentKeyClaimScopedByCard(t *testing.T) {
	m := seedMemory(t, "500.00")
	if _, err := m.CreateCard(context.Background(), NewCard{
		PAN:       "4012888888881881",
		Expiry:    "203112",
		CVVDigest: "digest",
		Limit:     decimal.RequireFromString("1000.00"),
		Available: decimal.RequireFromString("500.00"),
		Status:    domain.CardActive,
	}); err != nil {
		t.Fatalf("seed second card: %v", err)
	}

	payment := func(pan string) error {
		return m.Authorize(context.Background(), func(tx authorize.AuthTx) error {
			if _, err := tx.LockCard(context.Background(), pan); err != nil {
				return err
			}
			_, err := tx.InsertPayment(context.Background(), authorize.PaymentInsert{
				CardPAN:        pan,
				Amount:         decimal.RequireFromString("20.00"),
				Reference:      "PAYROLL",
				IdempotencyKey: "pay-key",
			})
			return err
		})
	}

	if err := payment("4111111111111111"); err != nil {
		t.Fatalf("first card: %v", err)
	}
	// Same key on another card is an independent claim.
	if err := payment("4012888888881881"); err != nil {
		t.Fatalf("second card: %v", err)
	}
	// Same key on the same card collides.
	if err := payment("4111111111111111"); !errors.Is(err, authorize.ErrKeyClaimed) {
		t.Fatalf("repeat on first card: err = %v, want ErrKeyClaimed", err)
	}
}

func TestPaymentKeyScopedByKind(t *testing.T) {
	m := seedMemory(t, "500.00")

	err := m.Authorize(context.Background(), func(tx authorize.AuthTx) error {
		if _, err := tx.LockCard(context.Background(), "4111111111111111"); err != nil {
			return err
		}
		if _, err := tx.InsertPurchase(context.Background(), authorize.PurchaseInsert{
			CardPAN:        "4111111111111111",
			Amount:         decimal.RequireFromString("10.00"),
			Merchant:       "STORE1",
			IdempotencyKey: "shared",
		}); err != nil {
			return err
		}
		// Same key under the payment kind is an independent claim.
		_, err := tx.InsertPayment(context.Background(), authorize.PaymentInsert{
			CardPAN:        "4111111111111111",
			Amount:         decimal.RequireFromString("20.00"),
			Reference:      "PAYROLL",
			IdempotencyKey: "shared",
		})
		return err
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	purchase, _ := m.FindPurchaseByKey(context.Background(), "shared")
	payment, _ := m.FindPaymentByKey(context.Background(), "shared", "4111111111111111")
	if purchase == nil || payment == nil || purchase.ID == payment.ID {
		t.Errorf("kinds must claim the key independently: purchase=%+v payment=%+v", purchase, payment)
	}
}
