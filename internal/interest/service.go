package interest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prenda-erp/prenda-erp/internal/platform/cache"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Store abstracts config persistence.
type Store interface {
	LoadConfig(ctx context.Context, tenantID uuid.UUID) (Config, bool, error)
	SaveConfig(ctx context.Context, tenantID, actorID uuid.UUID, cfg Config) error
}

// AuditPort records config changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// UpdateResult is the envelope returned by Update.
type UpdateResult struct {
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
	Config  *Config `json:"config,omitempty"`
}

// Service resolves and updates tenant interest policy.
type Service struct {
	store  Store
	cache  *cache.JSON
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the config service. cache may be nil.
func NewService(store Store, c *cache.JSON, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: c, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns the effective policy for a tenant: cached, stored or default.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (Config, error) {
	key := tenantID.String()
	var cfg Config
	if err := s.cache.Get(ctx, key, &cfg); err == nil {
		return cfg, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("interest config cache read failed", slog.String("tenant_id", key), slog.Any("error", err))
	}
	cfg, _, err := s.store.LoadConfig(ctx, tenantID)
	if err != nil {
		return Config{}, err
	}
	if err := s.cache.Set(ctx, key, cfg); err != nil {
		s.logger.Warn("interest config cache write failed", slog.String("tenant_id", key), slog.Any("error", err))
	}
	return cfg, nil
}

// Update merges patch over the effective policy, validates and stores it whole.
// Failures are reported in the envelope rather than as an error.
func (s *Service) Update(ctx context.Context, tenantID, actorID uuid.UUID, patch Patch) UpdateResult {
	current, _, err := s.store.LoadConfig(ctx, tenantID)
	if err != nil {
		s.logger.Error("load interest config", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		return UpdateResult{Error: "no se pudo leer la configuración"}
	}
	next := patch.Apply(current)
	if err := next.Validate(); err != nil {
		return UpdateResult{Error: err.Error()}
	}
	if err := s.store.SaveConfig(ctx, tenantID, actorID, next); err != nil {
		s.logger.Error("save interest config", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		return UpdateResult{Error: "no se pudo guardar la configuración"}
	}
	if err := s.cache.Delete(ctx, tenantID.String()); err != nil {
		s.logger.Warn("interest config cache evict failed", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "config.intereses.update",
			Entity:   "tenant_config",
			EntityID: tenantID.String(),
			Meta: map[string]any{
				"before": current,
				"after":  next,
			},
			At: s.now(),
		})
	}
	return UpdateResult{Success: true, Config: &next}
}
