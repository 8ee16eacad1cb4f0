package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bitvalo34/ccvi-visa-emisor/internal/authorize"
	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
)

// Memory implements the same store contracts as the Postgres store, with a
// single mutex standing in for row locks: Authorize holds it for the whole
// transactional scope, which serializes balance effects exactly like FOR
// UPDATE does per card (coarser, but sufficient for tests and local runs).
type Memory struct {
	mu     sync.Mutex
	cards  map[string]*domain.Card
	trxs   []*domain.Transaction
	nextID int64
}

func NewMemory() *Memory {
	return &Memory{cards: make(map[string]*domain.Card)}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateCard(ctx context.Context, nc NewCard) (*domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cards[nc.PAN]; ok {
		return nil, ErrCardExists
	}
	now := time.Now().UTC()
	c := &domain.Card{
		PAN:        nc.PAN,
		HolderName: nc.HolderName,
		Expiry:     nc.Expiry,
		CVVDigest:  nc.CVVDigest,
		Limit:      nc.Limit,
		Available:  nc.Available,
		Status:     nc.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.cards[nc.PAN] = c
	out := *c
	return &out, nil
}

func (m *Memory) GetCard(ctx context.Context, pan string) (*domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[pan]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (m *Memory) ListCards(ctx context.Context) ([]domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cards := make([]domain.Card, 0, len(m.cards))
	for _, c := range m.cards {
		cards = append(cards, *c)
	}
	sort.Slice(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.After(cards[j].CreatedAt)
		}
		return cards[i].PAN < cards[j].PAN
	})
	return cards, nil
}

func (m *Memory) UpdateCard(ctx context.Context, pan string, patch CardPatch) (*domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[pan]
	if !ok {
		return nil, ErrCardNotFound
	}
	if patch.Available != nil {
		a := *patch.Available
		if a.IsNegative() || a.GreaterThan(c.Limit) {
			return nil, ErrInvalidAvailable
		}
		c.Available = a
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	c.UpdatedAt = time.Now().UTC()
	out := *c
	return &out, nil
}

func (m *Memory) ListTransactions(ctx context.Context, pan string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trxs := []domain.Transaction{}
	for i := len(m.trxs) - 1; i >= 0; i-- {
		if m.trxs[i].CardPAN == pan {
			trxs = append(trxs, *m.trxs[i])
		}
	}
	return trxs, nil
}

func (m *Memory) FindPurchaseByKey(ctx context.Context, key string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByKey(key, domain.KindPurchase, ""), nil
}

func (m *Memory) FindPaymentByKey(ctx context.Context, key, pan string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByKey(key, domain.KindPayment, pan), nil
}

// findByKey returns the oldest tagged row. Callers hold the mutex.
func (m *Memory) findByKey(key string, kind domain.TransactionKind, pan string) *domain.Transaction {
	for _, t := range m.trxs {
		if t.IdempotencyKey == key && t.Kind == kind && (pan == "" || t.CardPAN == pan) {
			out := *t
			return &out
		}
	}
	return nil
}

// Authorize runs fn under the store mutex. On error the pre-transaction
// state is restored, matching the full-rollback guarantee of the Postgres
// store.
func (m *Memory) Authorize(ctx context.Context, fn func(tx authorize.AuthTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]domain.Card, len(m.cards))
	for pan, c := range m.cards {
		snapshot[pan] = *c
	}
	trxLen := len(m.trxs)
	keyed := make(map[int64]string)
	for _, t := range m.trxs {
		if t.IdempotencyKey != "" {
			keyed[t.ID] = t.IdempotencyKey
		}
	}

	if err := fn(&memTx{m: m}); err != nil {
		m.trxs = m.trxs[:trxLen]
		for pan := range m.cards {
			c := snapshot[pan]
			m.cards[pan] = &c
		}
		for _, t := range m.trxs {
			if key, ok := keyed[t.ID]; ok {
				t.IdempotencyKey = key
			}
		}
		return err
	}
	return nil
}

type memTx struct {
	m    *Memory
	card *domain.Card // snapshot taken at lock time
}

func (a *memTx) LockCard(ctx context.Context, pan string) (*domain.Card, error) {
	c, ok := a.m.cards[pan]
	if !ok {
		return nil, nil
	}
	out := *c
	a.card = &out
	return &out, nil
}

func (a *memTx) InsertPurchase(ctx context.Context, ins authorize.PurchaseInsert) (*domain.Transaction, error) {
	if a.card == nil {
		return nil, ErrCardNotFound
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

	trx, err := a.insert(insertRow{
		pan: ins.CardPAN, kind: domain.KindPurchase, amount: ins.Amount,
		merchant: ins.Merchant, key: ins.IdempotencyKey, reclaim: ins.ReclaimKey,
		status: status, authCode: authCode, reason: reason,
	})
	if err != nil {
		return nil, err
	}

	if status == domain.StatusApproved {
		live := a.m.cards[ins.CardPAN]
		live.Available = live.Available.Sub(ins.Amount)
		live.UpdatedAt = time.Now().UTC()
	}
	return trx, nil
}

func (a *memTx) InsertDenial(ctx context.Context, ins authorize.DenialInsert) (*domain.Transaction, error) {
	return a.insert(insertRow{
		pan: ins.CardPAN, kind: domain.KindPurchase, amount: ins.Amount,
		merchant: ins.Merchant, key: ins.IdempotencyKey, reclaim: ins.ReclaimKey,
		status: domain.StatusDenied, authCode: domain.DeniedAuthCode, reason: ins.Reason,
	})
}

func (a *memTx) InsertPayment(ctx context.Context, ins authorize.PaymentInsert) (*domain.Transaction, error) {
	trx, err := a.insert(insertRow{
		pan: ins.CardPAN, kind: domain.KindPayment, amount: ins.Amount,
		merchant: ins.Reference, key: ins.IdempotencyKey, reclaim: ins.ReclaimKey,
		status: domain.StatusApproved, authCode: newAuthCode(), reason: "",
	})
	if err != nil {
		return nil, err
	}
	live := a.m.cards[ins.CardPAN]
	live.Available = live.Available.Add(ins.Amount)
	if live.Available.GreaterThan(live.Limit) {
		live.Available = live.Limit
	}
	live.UpdatedAt = time.Now().UTC()
	return trx, nil
}

func (a *memTx) insert(row insertRow) (*domain.Transaction, error) {
	if row.key != "" {
		for _, t := range a.m.trxs {
			if t.IdempotencyKey != row.key || t.Kind != row.kind {
				continue
			}
			// Payment keys are claimed per card; purchase keys globally.
			if row.kind == domain.KindPayment && t.CardPAN != row.pan {
				continue
			}
			if !row.reclaim {
				return nil, authorize.ErrKeyClaimed
			}
			t.IdempotencyKey = ""
		}
	}

	a.m.nextID++
	trx := &domain.Transaction{
		ID:             a.m.nextID,
		CardPAN:        row.pan,
		Kind:           row.kind,
		Amount:         row.amount,
		Merchant:       row.merchant,
		IdempotencyKey: row.key,
		Status:         row.status,
		AuthCode:       row.authCode,
		DenialReason:   row.reason,
		CreatedAt:      time.Now().UTC(),
	}
	a.m.trxs = append(a.m.trxs, trx)
	out := *trx
	return &out, nil
}
