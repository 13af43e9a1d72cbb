package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/platform/db"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

const idempotencyModule = "credito.pago"

// Repository persists contracts, collateral and payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("credit: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

type txRepository struct {
	ledger.TxRepository
	tx pgx.Tx
}

const creditColumns = `c.id, c.tenant_id, c.codigo, c.cliente_id, cl.numero_documento, cl.nombres, c.garantia_id, c.caja_id,
c.movimiento_desembolso_id, c.monto_prestado, c.tasa_interes, c.frecuencia, c.numero_cuotas, c.dias_plazo,
c.fecha_desembolso, c.fecha_vencimiento, c.fecha_inicio_interes, c.saldo_pendiente, c.estado, c.fecha_cancelacion,
c.renovaciones, c.created_by, c.created_at, c.updated_at`

const creditFrom = ` FROM creditos c JOIN clientes cl ON cl.id = c.cliente_id`

func scanCredit(row pgx.Row) (Credit, error) {
	var c Credit
	err := row.Scan(&c.ID, &c.TenantID, &c.Code, &c.ClientID, &c.ClientDoc, &c.ClientName, &c.CollateralID, &c.RegisterID,
		&c.DisbursementMovementID, &c.Principal, &c.MonthlyRate, &c.Frequency, &c.Installments, &c.TermDays,
		&c.DisbursedAt, &c.DueDate, &c.InterestFrom, &c.Balance, &c.Status, &c.CancelledAt,
		&c.RenewalCount, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credit{}, ErrCreditNotFound
	}
	return c, err
}

func (r *txRepository) UpsertClient(ctx context.Context, tenantID uuid.UUID, doc, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.tx.QueryRow(ctx, `INSERT INTO clientes (tenant_id, numero_documento, nombres)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, numero_documento) DO UPDATE SET nombres = EXCLUDED.nombres
RETURNING id`, tenantID, doc, name).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("credit: upsert client: %w", err)
	}
	return id, nil
}

func (r *txRepository) InsertCollateral(ctx context.Context, c Collateral) (Collateral, error) {
	photos := c.Photos
	if photos == nil {
		photos = []string{}
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO garantias (tenant_id, cliente_id, descripcion, categoria, estado_conservacion, valor_mercado, fotos)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, c.TenantID, c.ClientID, c.Description, c.Category, c.Condition, c.MarketValue, photos).Scan(&c.ID)
	if err != nil {
		return Collateral{}, fmt.Errorf("credit: insert collateral: %w", err)
	}
	return c, nil
}

func (r *txRepository) NextCreditCode(ctx context.Context, tenantID uuid.UUID) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('creditos_codigo_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("credit: next code: %w", err)
	}
	return fmt.Sprintf("CR-%d-%06d", time.Now().Year(), seq), nil
}

func (r *txRepository) InsertCredit(ctx context.Context, c Credit) (Credit, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO creditos (tenant_id, codigo, cliente_id, garantia_id, caja_id, monto_prestado, tasa_interes,
frecuencia, numero_cuotas, dias_plazo, fecha_desembolso, fecha_vencimiento, fecha_inicio_interes, saldo_pendiente, estado,
renovaciones, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18) RETURNING id`,
		c.TenantID, c.Code, c.ClientID, c.CollateralID, c.RegisterID, c.Principal, c.MonthlyRate,
		c.Frequency, c.Installments, c.TermDays, c.DisbursedAt, c.DueDate, c.InterestFrom, c.Balance, c.Status,
		c.RenewalCount, c.CreatedBy, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Credit{}, fmt.Errorf("%w: credit code %s", shared.ErrConflict, c.Code)
		}
		return Credit{}, fmt.Errorf("credit: insert: %w", err)
	}
	return c, nil
}

func (r *txRepository) GetCredit(ctx context.Context, id uuid.UUID) (Credit, error) {
	return scanCredit(r.tx.QueryRow(ctx, `SELECT `+creditColumns+creditFrom+` WHERE c.id = $1`, id))
}

func (r *txRepository) GetCreditForUpdate(ctx context.Context, id uuid.UUID) (Credit, error) {
	return scanCredit(r.tx.QueryRow(ctx, `SELECT `+creditColumns+creditFrom+` WHERE c.id = $1 FOR UPDATE OF c`, id))
}

func (r *txRepository) UpdateCredit(ctx context.Context, c Credit) error {
	tag, err := r.tx.Exec(ctx, `UPDATE creditos SET saldo_pendiente = $2, fecha_vencimiento = $3, fecha_inicio_interes = $4,
estado = $5, fecha_cancelacion = $6, renovaciones = $7, movimiento_desembolso_id = $8, updated_at = $9
WHERE id = $1`, c.ID, c.Balance, c.DueDate, c.InterestFrom, c.Status, c.CancelledAt, c.RenewalCount, c.DisbursementMovementID, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("credit: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCreditNotFound
	}
	return nil
}

func (r *txRepository) ReserveIdempotencyKey(ctx context.Context, key string) error {
	return shared.InsertIdempotencyKey(ctx, r.tx, key, idempotencyModule)
}

const paymentColumns = `id, tenant_id, credito_id, caja_id, movimiento_id, monto, metodo_pago, tipo_operacion,
capital_aplicado, interes_aplicado, mora_aplicada, snapshot, COALESCE(idempotency_key, ''), metadata, usuario_id, fecha,
anulado, COALESCE(motivo_anulacion, ''), anulado_by, anulado_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var snapshot, meta []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.CreditID, &p.RegisterID, &p.MovementID, &p.Amount, &p.Method, &p.Operation,
		&p.Applied.Capital, &p.Applied.Interest, &p.Applied.Mora, &snapshot, &p.IdempotencyKey, &meta, &p.ActorID, &p.CreatedAt,
		&p.Voided, &p.VoidReason, &p.VoidedBy, &p.VoidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &p.Before); err != nil {
			return Payment{}, fmt.Errorf("credit: decode payment snapshot: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return Payment{}, fmt.Errorf("credit: decode payment metadata: %w", err)
		}
	}
	return p, nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) error {
	snapshot, err := json.Marshal(p.Before)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	var key any
	if p.IdempotencyKey != "" {
		key = p.IdempotencyKey
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO pagos (id, tenant_id, credito_id, caja_id, movimiento_id, monto, metodo_pago, tipo_operacion,
capital_aplicado, interes_aplicado, mora_aplicada, snapshot, idempotency_key, metadata, usuario_id, fecha)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		p.ID, p.TenantID, p.CreditID, p.RegisterID, p.MovementID, p.Amount, p.Method, p.Operation,
		p.Applied.Capital, p.Applied.Interest, p.Applied.Mora, snapshot, key, meta, p.ActorID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("credit: insert payment: %w", err)
	}
	return nil
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM pagos WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) LatestActivePayment(ctx context.Context, creditID uuid.UUID) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM pagos
WHERE credito_id = $1 AND anulado = FALSE ORDER BY fecha DESC, created_seq DESC LIMIT 1`, creditID))
}

func (r *txRepository) MarkPaymentVoided(ctx context.Context, id uuid.UUID, reason string, actorID uuid.UUID, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE pagos SET anulado = TRUE, motivo_anulacion = $2, anulado_by = $3, anulado_at = $4
WHERE id = $1 AND anulado = FALSE`, id, reason, actorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentVoided
	}
	return nil
}

func (r *txRepository) ListPayments(ctx context.Context, creditID uuid.UUID) ([]Payment, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+paymentColumns+` FROM pagos WHERE credito_id = $1 ORDER BY fecha, created_seq`, creditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) ListOpenCredits(ctx context.Context) ([]Credit, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+creditColumns+creditFrom+`
WHERE c.estado NOT IN ('CANCELADO', 'VENDIDO', 'ANULADO', 'EN_REMATE') AND c.saldo_pendiente > 0
ORDER BY c.tenant_id, c.fecha_vencimiento`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepository) UpsertMoraSnapshot(ctx context.Context, s MoraSnapshot) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO mora_snapshots (credito_id, tenant_id, fecha, estado, dias_vencido, interes, mora, saldo_pendiente)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (credito_id, fecha) DO UPDATE
SET estado = EXCLUDED.estado, dias_vencido = EXCLUDED.dias_vencido, interes = EXCLUDED.interes,
    mora = EXCLUDED.mora, saldo_pendiente = EXCLUDED.saldo_pendiente`,
		s.CreditID, s.TenantID, s.Date, s.Status, s.OverdueDays, s.Interest, s.Mora, s.Balance)
	if err != nil {
		return fmt.Errorf("credit: upsert mora snapshot: %w", err)
	}
	return nil
}
