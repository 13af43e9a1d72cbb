package reconcile_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prenda-erp/prenda-erp/internal/ledger/ledgertest"
	"github.com/prenda-erp/prenda-erp/internal/reconcile"
)

type memStore struct {
	mu     sync.Mutex
	ledger *ledgertest.Store
	rows   map[uuid.UUID]reconcile.Discrepancy
}

func newMemStore() *memStore {
	return &memStore{ledger: ledgertest.NewStore(), rows: map[uuid.UUID]reconcile.Discrepancy{}}
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, reconcile.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{Tx: s.ledger.Begin(), rows: make(map[uuid.UUID]reconcile.Discrepancy, len(s.rows))}
	for k, v := range s.rows {
		tx.rows[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.ledger.Commit(tx.Tx)
	s.rows = tx.rows
	return nil
}

func (s *memStore) discrepancies() []reconcile.Discrepancy {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reconcile.Discrepancy, 0, len(s.rows))
	for _, d := range s.rows {
		out = append(out, d)
	}
	return out
}

type memTx struct {
	*ledgertest.Tx
	rows map[uuid.UUID]reconcile.Discrepancy
}

func (tx *memTx) UpsertDiscrepancy(ctx context.Context, d reconcile.Discrepancy) error {
	tx.rows[d.ID] = d
	return nil
}

func (tx *memTx) ListDiscrepancies(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]reconcile.Discrepancy, error) {
	var out []reconcile.Discrepancy
	for _, d := range tx.rows {
		if tenantID != uuid.Nil && d.TenantID != tenantID {
			continue
		}
		if d.Date.Before(from) || !d.Date.Before(to) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
