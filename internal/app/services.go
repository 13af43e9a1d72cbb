package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/prenda-erp/prenda-erp/internal/credit"
	"github.com/prenda-erp/prenda-erp/internal/interest"
	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/ltv"
	"github.com/prenda-erp/prenda-erp/internal/observability"
	"github.com/prenda-erp/prenda-erp/internal/platform/cache"
	"github.com/prenda-erp/prenda-erp/internal/rbac"
	"github.com/prenda-erp/prenda-erp/internal/reconcile"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// Services is the wired domain layer shared by the API, the CLI and the worker.
type Services struct {
	Audit     *shared.AuditLogger
	Locker    *shared.Locker
	RBAC      *rbac.Service
	Interest  *interest.Service
	Ledger    *ledger.Service
	Credit    *credit.Service
	Reconcile *reconcile.Service
}

// BuildServices wires repositories and services over the pool and redis
// client. redisClient may be nil, which disables caching and locking.
func BuildServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	policy, err := ltv.NewPolicy(ltv.DefaultBounds)
	if err != nil {
		return nil, err
	}

	audit := shared.NewAuditLogger(pool)
	rbacService := rbac.NewService(rbac.NewRepository(pool), cache.NewJSON(redisClient, "prenda:rbac", cfg.ConfigCacheTTL))
	interestService := interest.NewService(
		interest.NewRepository(pool),
		cache.NewJSON(redisClient, "prenda:config", cfg.ConfigCacheTTL),
		audit,
		logger,
	)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), audit, rbacService, metrics)

	status := credit.DefaultStatusPolicy()
	if cfg.CreditDueSoonDays > 0 {
		status.DueSoonDays = cfg.CreditDueSoonDays
	}
	if cfg.CreditPreAuctionDays > 0 {
		status.PreAuctionDays = cfg.CreditPreAuctionDays
	}
	creditService := credit.NewService(credit.NewRepository(pool), policy, interestService, credit.Options{
		Audit:   audit,
		Perms:   rbacService,
		Metrics: metrics,
		Status:  status,
	})

	reconcileService := reconcile.NewService(reconcile.NewRepository(pool), reconcile.Options{
		Metrics: metrics,
		Logger:  logger,
		Printer: reconcile.NewPrinter(cfg.AppLang),
		Workers: cfg.ReconcileWorkers,
	})

	return &Services{
		Audit:     audit,
		Locker:    shared.NewLocker(redisClient),
		RBAC:      rbacService,
		Interest:  interestService,
		Ledger:    ledgerService,
		Credit:    creditService,
		Reconcile: reconcileService,
	}, nil
}
