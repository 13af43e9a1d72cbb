package credit_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prenda-erp/prenda-erp/internal/credit"
	"github.com/prenda-erp/prenda-erp/internal/ledger/ledgertest"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// memStore layers credit tables over ledgertest with the same commit-on-success rule.
type memStore struct {
	mu        sync.Mutex
	ledger    *ledgertest.Store
	credits   map[uuid.UUID]credit.Credit
	payments  []credit.Payment
	keys      map[string]bool
	snapshots map[string]credit.MoraSnapshot
	failOn    map[string]error
	seq       int
}

func newMemStore() *memStore {
	return &memStore{
		ledger:    ledgertest.NewStore(),
		credits:   map[uuid.UUID]credit.Credit{},
		keys:      map[string]bool{},
		snapshots: map[string]credit.MoraSnapshot{},
		failOn:    map[string]error{},
	}
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, credit.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{Tx: s.ledger.Begin(), store: s, credits: map[uuid.UUID]credit.Credit{}, keys: map[string]bool{}, snapshots: map[string]credit.MoraSnapshot{}}
	for k, v := range s.credits {
		tx.credits[k] = v
	}
	for k, v := range s.keys {
		tx.keys[k] = v
	}
	for k, v := range s.snapshots {
		tx.snapshots[k] = v
	}
	tx.payments = append([]credit.Payment(nil), s.payments...)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.ledger.Commit(tx.Tx)
	s.credits = tx.credits
	s.payments = tx.payments
	s.keys = tx.keys
	s.snapshots = tx.snapshots
	return nil
}

func (s *memStore) credit(id uuid.UUID) credit.Credit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credits[id]
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

type memTx struct {
	*ledgertest.Tx
	store     *memStore
	credits   map[uuid.UUID]credit.Credit
	payments  []credit.Payment
	keys      map[string]bool
	snapshots map[string]credit.MoraSnapshot
}

func (tx *memTx) fail(op string) error {
	return tx.store.failOn[op]
}

func (tx *memTx) UpsertClient(ctx context.Context, tenantID uuid.UUID, doc, name string) (uuid.UUID, error) {
	return uuid.NewSHA1(tenantID, []byte(doc)), nil
}

func (tx *memTx) InsertCollateral(ctx context.Context, c credit.Collateral) (credit.Collateral, error) {
	c.ID = uuid.New()
	return c, nil
}

func (tx *memTx) NextCreditCode(ctx context.Context, tenantID uuid.UUID) (string, error) {
	tx.store.seq++
	return fmt.Sprintf("CR-TEST-%06d", tx.store.seq), nil
}

func (tx *memTx) InsertCredit(ctx context.Context, c credit.Credit) (credit.Credit, error) {
	c.ID = uuid.New()
	tx.credits[c.ID] = c
	return c, nil
}

func (tx *memTx) GetCredit(ctx context.Context, id uuid.UUID) (credit.Credit, error) {
	c, ok := tx.credits[id]
	if !ok {
		return credit.Credit{}, credit.ErrCreditNotFound
	}
	return c, nil
}

func (tx *memTx) GetCreditForUpdate(ctx context.Context, id uuid.UUID) (credit.Credit, error) {
	return tx.GetCredit(ctx, id)
}

func (tx *memTx) UpdateCredit(ctx context.Context, c credit.Credit) error {
	if err := tx.fail("UpdateCredit"); err != nil {
		return err
	}
	if _, ok := tx.credits[c.ID]; !ok {
		return credit.ErrCreditNotFound
	}
	tx.credits[c.ID] = c
	return nil
}

func (tx *memTx) ReserveIdempotencyKey(ctx context.Context, key string) error {
	if tx.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	tx.keys[key] = true
	return nil
}

func (tx *memTx) InsertPayment(ctx context.Context, p credit.Payment) error {
	if err := tx.fail("InsertPayment"); err != nil {
		return err
	}
	tx.payments = append(tx.payments, p)
	return nil
}

func (tx *memTx) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (credit.Payment, error) {
	for _, p := range tx.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return credit.Payment{}, credit.ErrPaymentNotFound
}

func (tx *memTx) LatestActivePayment(ctx context.Context, creditID uuid.UUID) (credit.Payment, error) {
	for i := len(tx.payments) - 1; i >= 0; i-- {
		p := tx.payments[i]
		if p.CreditID == creditID && !p.Voided {
			return p, nil
		}
	}
	return credit.Payment{}, credit.ErrPaymentNotFound
}

func (tx *memTx) MarkPaymentVoided(ctx context.Context, id uuid.UUID, reason string, actorID uuid.UUID, at time.Time) error {
	for i, p := range tx.payments {
		if p.ID != id {
			continue
		}
		if p.Voided {
			return credit.ErrPaymentVoided
		}
		p.Voided = true
		p.VoidReason = reason
		p.VoidedBy = &actorID
		p.VoidedAt = &at
		tx.payments[i] = p
		return nil
	}
	return credit.ErrPaymentNotFound
}

func (tx *memTx) ListPayments(ctx context.Context, creditID uuid.UUID) ([]credit.Payment, error) {
	var out []credit.Payment
	for _, p := range tx.payments {
		if p.CreditID == creditID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memTx) ListOpenCredits(ctx context.Context) ([]credit.Credit, error) {
	var out []credit.Credit
	for _, c := range tx.credits {
		if c.Status.Payable() && c.Balance.IsPositive() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (tx *memTx) UpsertMoraSnapshot(ctx context.Context, s credit.MoraSnapshot) error {
	tx.snapshots[s.CreditID.String()+s.Date.Format("2006-01-02")] = s
	return nil
}
