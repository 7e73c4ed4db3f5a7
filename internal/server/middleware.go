package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/pendergraft/verifier/internal/middleware/logging"
	"github.com/pendergraft/verifier/internal/middleware/ratelimit"
	"github.com/pendergraft/verifier/internal/middleware/realip"
	"github.com/pendergraft/verifier/internal/middleware/security"
	"github.com/pendergraft/verifier/internal/observability/metrics"
)

func (s *Server) setupMiddleware() {
	// Order matters: the client IP must be known before filtering and
	// limiting, and malicious requests are dropped before any work is done.

	// 1. Real IP extraction
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Security filter (bypasses health checks)
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))

	// 3. Body size limit
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	// 4. General rate limit (bypasses health checks)
	if s.cfg.RateLimit.Enabled {
		s.router.Use(s.newLimiter(s.cfg.RateLimit.RequestsPerMin, s.cfg.RateLimit.BurstSize))
	}

	// 5. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// 6. CORS
	s.router.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}).Handler)
}

// verifyLimit returns the stricter limiter for routes that compile or scan
// stored code.
func (s *Server) verifyLimit() func(http.Handler) http.Handler {
	if !s.cfg.RateLimit.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.newLimiter(s.cfg.RateLimit.VerifyPerMin, s.cfg.RateLimit.VerifyBurstSize)
}

func (s *Server) newLimiter(perMin, burst int) func(http.Handler) http.Handler {
	rl := ratelimit.New(ratelimit.Config{
		Enabled:        true,
		RequestsPerMin: perMin,
		BurstSize:      burst,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	})
	s.limiters = append(s.limiters, rl)
	return rl.Middleware()
}

// requestTimeout bounds read-only routes. Verification is bounded by the
// compile timeout instead.
func (s *Server) requestTimeout() func(http.Handler) http.Handler {
	if s.cfg.Server.RequestTimeout <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second)
}
