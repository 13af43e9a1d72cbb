package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/prenda-erp/prenda-erp/internal/observability"
	"github.com/prenda-erp/prenda-erp/internal/platform/httpx"
	"github.com/prenda-erp/prenda-erp/internal/shared"
)

const (
	// HeaderTenant carries the tenant id set by the upstream auth gateway.
	HeaderTenant = "X-Tenant-ID"
	// HeaderActor carries the authenticated user id set by the upstream auth gateway.
	HeaderActor = "X-User-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the API middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		limit = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// Identity copies the tenant and actor headers into the request context.
// Missing headers leave the context untouched; malformed ids are rejected.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := strings.TrimSpace(r.Header.Get(HeaderTenant)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				httpx.RespondError(w, fmt.Errorf("%w: invalid %s header", shared.ErrValidation, HeaderTenant))
				return
			}
			ctx = shared.ContextWithTenant(ctx, id)
		}
		if raw := strings.TrimSpace(r.Header.Get(HeaderActor)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				httpx.RespondError(w, fmt.Errorf("%w: invalid %s header", shared.ErrValidation, HeaderActor))
				return
			}
			ctx = shared.ContextWithActor(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
