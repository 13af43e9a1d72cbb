package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/platform/db"
)

// Repository persists discrepancy rows next to the ledger tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reconcile: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

type txRepository struct {
	ledger.TxRepository
	tx pgx.Tx
}

func (r *txRepository) UpsertDiscrepancy(ctx context.Context, d Discrepancy) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO descuadres (id, tenant_id, caja_id, usuario_id, fecha, saldo_esperado, saldo_real, diferencia, detectado_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (caja_id, fecha) DO UPDATE
SET saldo_esperado = EXCLUDED.saldo_esperado, saldo_real = EXCLUDED.saldo_real,
    diferencia = EXCLUDED.diferencia, detectado_at = EXCLUDED.detectado_at`,
		d.ID, d.TenantID, d.RegisterID, d.OperatorID, d.Date, d.Expected, d.Actual, d.Difference, d.DetectedAt)
	if err != nil {
		return fmt.Errorf("reconcile: upsert discrepancy: %w", err)
	}
	return nil
}

func (r *txRepository) ListDiscrepancies(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Discrepancy, error) {
	var tenant any
	if tenantID != uuid.Nil {
		tenant = tenantID
	}
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, caja_id, usuario_id, fecha, saldo_esperado, saldo_real, diferencia, detectado_at
FROM descuadres
WHERE fecha >= $1 AND fecha < $2 AND ($3::uuid IS NULL OR tenant_id = $3::uuid)
ORDER BY fecha DESC, caja_id`, from, to, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Discrepancy
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.ID, &d.TenantID, &d.RegisterID, &d.OperatorID, &d.Date, &d.Expected, &d.Actual, &d.Difference, &d.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
