package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/prenda-erp/prenda-erp/internal/platform/db"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// TxRepository exposes the register and movement operations available inside a transaction.
type TxRepository interface {
	InsertRegister(ctx context.Context, reg Register) (Register, error)
	GetRegister(ctx context.Context, id uuid.UUID) (Register, error)
	GetRegisterForUpdate(ctx context.Context, id uuid.UUID) (Register, error)
	GetOpenRegisterForOperator(ctx context.Context, tenantID, operatorID uuid.UUID) (Register, error)
	AdjustRegisterBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	CloseRegister(ctx context.Context, id uuid.UUID, declared decimal.Decimal, at time.Time) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	GetMovement(ctx context.Context, id uuid.UUID) (Movement, error)
	GetMovementForUpdate(ctx context.Context, id uuid.UUID) (Movement, error)
	MarkMovementVoided(ctx context.Context, id uuid.UUID, reason string, actorID uuid.UUID, at time.Time) error
	SumEffective(ctx context.Context, registerID uuid.UUID) (decimal.Decimal, error)
	ListMovements(ctx context.Context, registerID uuid.UUID) ([]Movement, error)
	ListRegistersOpenedBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Register, error)
}

// Repository persists registers and movements in Postgres.
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
		return errors.New("ledger: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository wraps an open transaction so other packages can post
// movements atomically with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

const registerColumns = `id, tenant_id, usuario_id, saldo_inicial, saldo_actual, estado, fecha_apertura, fecha_cierre, monto_cierre_declarado`

const movementColumns = `id, tenant_id, caja_id, tipo, concepto, monto, descripcion, usuario_id, fecha,
anulado, COALESCE(motivo_anulacion, ''), anulado_by, anulado_at, es_reversion, movimiento_original_id, credito_id, pago_id`

func scanRegister(row pgx.Row) (Register, error) {
	var reg Register
	err := row.Scan(&reg.ID, &reg.TenantID, &reg.OperatorID, &reg.OpeningBalance, &reg.Balance, &reg.Status, &reg.OpenedAt, &reg.ClosedAt, &reg.DeclaredClosing)
	if errors.Is(err, pgx.ErrNoRows) {
		return Register{}, ErrRegisterNotFound
	}
	return reg, err
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.TenantID, &m.RegisterID, &m.Type, &m.Concept, &m.Amount, &m.Description, &m.AuthorID, &m.CreatedAt,
		&m.Voided, &m.VoidReason, &m.VoidedBy, &m.VoidedAt, &m.IsReversal, &m.OriginalID, &m.CreditID, &m.PaymentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrMovementNotFound
	}
	return m, err
}

func (r *txRepository) InsertRegister(ctx context.Context, reg Register) (Register, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO cajas_operativas (tenant_id, usuario_id, saldo_inicial, saldo_actual, estado, fecha_apertura)
VALUES ($1, $2, $3, $3, $4, $5) RETURNING `+registerColumns, reg.TenantID, reg.OperatorID, reg.OpeningBalance, RegisterOpen, reg.OpenedAt)
	out, err := scanRegister(row)
	if shared.IsUniqueViolation(err) {
		return Register{}, ErrOpenRegisterExists
	}
	return out, err
}

func (r *txRepository) GetRegister(ctx context.Context, id uuid.UUID) (Register, error) {
	return scanRegister(r.tx.QueryRow(ctx, `SELECT `+registerColumns+` FROM cajas_operativas WHERE id = $1`, id))
}

func (r *txRepository) GetRegisterForUpdate(ctx context.Context, id uuid.UUID) (Register, error) {
	return scanRegister(r.tx.QueryRow(ctx, `SELECT `+registerColumns+` FROM cajas_operativas WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) GetOpenRegisterForOperator(ctx context.Context, tenantID, operatorID uuid.UUID) (Register, error) {
	reg, err := scanRegister(r.tx.QueryRow(ctx, `SELECT `+registerColumns+` FROM cajas_operativas
WHERE tenant_id = $1 AND usuario_id = $2 AND estado = $3 FOR UPDATE`, tenantID, operatorID, RegisterOpen))
	if errors.Is(err, ErrRegisterNotFound) {
		return Register{}, shared.ErrNoOpenRegister
	}
	return reg, err
}

func (r *txRepository) AdjustRegisterBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx, `UPDATE cajas_operativas SET saldo_actual = saldo_actual + $2 WHERE id = $1 RETURNING saldo_actual`, id, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrRegisterNotFound
	}
	return balance, err
}

func (r *txRepository) CloseRegister(ctx context.Context, id uuid.UUID, declared decimal.Decimal, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE cajas_operativas SET estado = $2, fecha_cierre = $3, monto_cierre_declarado = $4 WHERE id = $1`, id, RegisterClosed, at, declared)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRegisterNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO movimientos_caja (tenant_id, caja_id, tipo, concepto, monto, descripcion, usuario_id, fecha, es_reversion, movimiento_original_id, credito_id, pago_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING `+movementColumns,
		m.TenantID, m.RegisterID, m.Type, m.Concept, m.Amount, m.Description, m.AuthorID, m.CreatedAt, m.IsReversal, m.OriginalID, m.CreditID, m.PaymentID)
	return scanMovement(row)
}

func (r *txRepository) GetMovement(ctx context.Context, id uuid.UUID) (Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM movimientos_caja WHERE id = $1`, id))
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, id uuid.UUID) (Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM movimientos_caja WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) MarkMovementVoided(ctx context.Context, id uuid.UUID, reason string, actorID uuid.UUID, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE movimientos_caja SET anulado = TRUE, motivo_anulacion = $2, anulado_by = $3, anulado_at = $4
WHERE id = $1 AND anulado = FALSE`, id, reason, actorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementVoided
	}
	return nil
}

func (r *txRepository) SumEffective(ctx context.Context, registerID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN tipo = 'EGRESO' THEN -monto ELSE monto END), 0)
FROM movimientos_caja WHERE caja_id = $1 AND anulado = FALSE AND es_reversion = FALSE`, registerID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum movements: %w", err)
	}
	return sum, nil
}

func (r *txRepository) ListMovements(ctx context.Context, registerID uuid.UUID) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM movimientos_caja WHERE caja_id = $1 ORDER BY fecha, id`, registerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListRegistersOpenedBetween returns registers opened in [from, to). A nil
// tenant lists every tenant.
func (r *txRepository) ListRegistersOpenedBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Register, error) {
	var tenant any
	if tenantID != uuid.Nil {
		tenant = tenantID
	}
	rows, err := r.tx.Query(ctx, `SELECT `+registerColumns+` FROM cajas_operativas
WHERE fecha_apertura >= $1 AND fecha_apertura < $2 AND ($3::uuid IS NULL OR tenant_id = $3::uuid)
ORDER BY fecha_apertura, id`, from, to, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Register
	for rows.Next() {
		reg, err := scanRegister(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}
