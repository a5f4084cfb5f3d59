package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/tally-pos/tally-pos/internal/observability"
	"github.com/tally-pos/tally-pos/internal/platform/httpx"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRatePerMinute  = 600
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack returns the API chain in order: request identity and panic
// recovery, timeout, security headers, compression, per-IP rate limit and
// metrics. A zero RATE_LIMIT_PER_MINUTE disables the limiter.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout, rate, production := defaultRequestTimeout, defaultRatePerMinute, false
	if c := cfg.Config; c != nil {
		if c.AppRequestTimeout > 0 {
			timeout = c.AppRequestTimeout
		}
		rate = c.RateLimitPerMinute
		production = c.IsProduction()
	}

	chain := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		secureHeaders(production, logger),
		middleware.Compress(5, "application/json"),
	}
	if rate > 0 {
		chain = append(chain, rateLimit(rate))
	}
	if cfg.Metrics != nil {
		chain = append(chain, cfg.Metrics.Middleware)
	}
	return chain
}

// secureHeaders sets a locked-down header set suited to a JSON API. HTTPS
// redirects only apply in production.
func secureHeaders(production bool, logger *slog.Logger) func(http.Handler) http.Handler {
	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:            stsSeconds(production),
		IsDevelopment:         !production,
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sec.Process(w, r); err != nil {
				logger.Warn("request rejected by secure headers",
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
				)
				httpx.Fail(w, http.StatusBadRequest, "request blocked")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func stsSeconds(production bool) int64 {
	if production {
		return 31536000
	}
	return 0
}

func rateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}
