package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/prenda-erp/prenda-erp/cmd/prenda/cli"
	"github.com/prenda-erp/prenda-erp/internal/app"
	"github.com/prenda-erp/prenda-erp/internal/credit"
	"github.com/prenda-erp/prenda-erp/internal/interest"
	"github.com/prenda-erp/prenda-erp/internal/ledger"
	"github.com/prenda-erp/prenda-erp/internal/observability"
	"github.com/prenda-erp/prenda-erp/internal/platform/cache"
	"github.com/prenda-erp/prenda-erp/internal/platform/db"
	"github.com/prenda-erp/prenda-erp/internal/rbac"
	"github.com/prenda-erp/prenda-erp/internal/reconcile"
	"github.com/prenda-erp/prenda-erp/jobs"
)

const usage = `usage: prenda [command]

commands:
  serve                                  run the HTTP API (default)
  reconcile --date=YYYY-MM-DD [--tenant=ID] [--json]
  jobs trigger <caja:reconcile|credito:mora> [--date=YYYY-MM-DD]
  jobs inspect
  jobs scheduled [--size=N]
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	code := 0
	switch command {
	case "serve":
		code = serve(ctx, stop, cfg, logger)
	case "reconcile":
		code = runReconcile(ctx, cfg, logger, args)
	case "jobs":
		code = runJobs(ctx, cfg, args, os.Stdout, os.Stderr)
	case "-h", "--help", "help":
		_, _ = fmt.Fprint(os.Stdout, usage)
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer closeRedis(redisClient, logger)

	metrics := observability.NewMetrics()
	services, err := app.BuildServices(cfg, logger, pool, redisClient, metrics)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		return 1
	}
	if err := services.RBAC.Seed(ctx); err != nil {
		logger.Warn("seed permissions", slog.Any("error", err))
	}

	rbacMiddleware := rbac.Middleware{Service: services.RBAC, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Guard:              rbacMiddleware,
		LedgerHandler:      ledger.NewHandler(logger, services.Ledger),
		CreditHandler:      credit.NewHandler(logger, services.Credit),
		InterestHandler:    interest.NewHandler(logger, services.Interest, rbacMiddleware),
		ReconcileHandler:   reconcile.NewHandler(logger, services.Reconcile),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, services.RBAC, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func runReconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	date := fs.String("date", time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"), "day to reconcile (YYYY-MM-DD)")
	tenant := fs.String("tenant", "", "restrict to one tenant id")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	service := reconcile.NewService(reconcile.NewRepository(pool), reconcile.Options{
		Logger:  logger,
		Printer: reconcile.NewPrinter(cfg.AppLang),
	})
	helper, err := cli.NewReconcileCLI(service, reconcile.NewPrinter(cfg.AppLang))
	if err != nil {
		logger.Error("reconcile cli", slog.Any("error", err))
		return 1
	}
	return helper.ReconcileCommand(ctx, cli.ReconcileOptions{
		Date:       *date,
		Tenant:     *tenant,
		JSONOutput: *asJSON,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	helper, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = helper.Close() }()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		date := fs.String("date", "", "day to process (YYYY-MM-DD)")
		if len(args) < 2 {
			_, _ = fmt.Fprintln(stderr, "jobs trigger: task name required")
			return 2
		}
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		info, err := helper.Trigger(ctx, args[1], *date)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "inspect":
		stats, err := helper.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs inspect: %v\n", err)
			return 1
		}
		_ = enc.Encode(stats)
	case "scheduled":
		fs := flag.NewFlagSet("jobs scheduled", flag.ContinueOnError)
		size := fs.Int("size", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		tasks, err := helper.ListScheduled(ctx, *size)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs scheduled: %v\n", err)
			return 1
		}
		for _, t := range tasks {
			_, _ = fmt.Fprintf(stdout, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	default:
		_, _ = fmt.Fprintf(stderr, "jobs: unknown subcommand %q\n", args[0])
		return 2
	}
	return 0
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
