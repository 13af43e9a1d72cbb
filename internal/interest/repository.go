package interest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the config_intereses blob per tenant.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadConfig returns the tenant's stored policy layered over the defaults.
// found is false when the tenant never stored one.
func (r *Repository) LoadConfig(ctx context.Context, tenantID uuid.UUID) (Config, bool, error) {
	if r == nil || r.pool == nil {
		return Config{}, false, errors.New("interest: repository not initialised")
	}
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT config_intereses FROM tenant_config WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Default(), false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("interest: load config: %w", err)
	}
	cfg := Default()
	if len(raw) == 0 {
		return cfg, false, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("interest: decode config: %w", err)
	}
	return cfg, true, nil
}

// SaveConfig upserts the complete policy.
func (r *Repository) SaveConfig(ctx context.Context, tenantID, actorID uuid.UUID, cfg Config) error {
	if r == nil || r.pool == nil {
		return errors.New("interest: repository not initialised")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var updatedBy any
	if actorID != uuid.Nil {
		updatedBy = actorID
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO tenant_config (tenant_id, config_intereses, updated_by, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (tenant_id) DO UPDATE
SET config_intereses = EXCLUDED.config_intereses, updated_by = EXCLUDED.updated_by, updated_at = NOW()`, tenantID, raw, updatedBy)
	if err != nil {
		return fmt.Errorf("interest: save config: %w", err)
	}
	return nil
}
