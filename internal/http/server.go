package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"bollette/internal/cache"
	"bollette/internal/core"
	applog "bollette/internal/log"
	"bollette/internal/middleware/ratelimit"
	"bollette/internal/middleware/trace"
	"bollette/internal/services"
)

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	CacheSize          int
	CacheTTL           time.Duration
	RateLimitPerMinute int
	Clock              core.Clock
	Logger             *applog.Logger
}

type Server struct {
	http.Server
	bills  *services.BillService
	cycles *services.CycleProcessor
	clock  core.Clock

	logger          *applog.Logger
	structured      *applog.StructuredLogger
	traceMiddleware *trace.Middleware
	rateLimiter     *ratelimit.Limiter

	// Cycle overviews keyed by yyyy-MM, purged on every mutation
	overviewCache *cache.LRUCache[core.CycleOverview]
	cacheManager  *cache.Manager

	appMetrics   *appMetrics
	shutdownOnce sync.Once
}

// appMetrics holds application counters exposed on /metrics.
type appMetrics struct {
	uptime         time.Time
	transactions   int64
	cacheHits      int64
	cacheMisses    int64
	cyclesAdvanced int64
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// cycles may be nil, in which case POST /api/cycles/advance answers 503.
func NewServer(addr string, bills *services.BillService, cycles *services.CycleProcessor, opts Options) *Server {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	httpLogger := opts.Logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		bills:           bills,
		cycles:          cycles,
		clock:           opts.Clock,
		logger:          httpLogger,
		structured:      applog.NewStructuredLogger(httpLogger),
		traceMiddleware: trace.NewMiddleware(opts.Logger.WithComponent(applog.ComponentTrace)),
		rateLimiter:     ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		overviewCache:   cache.NewLRUCache[core.CycleOverview](opts.CacheSize, opts.CacheTTL),
		cacheManager:    cache.NewManager(),
		appMetrics:      &appMetrics{uptime: time.Now()},
	}

	s.cacheManager.Register(s.overviewCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/bills", s.handleListBills)
	mux.HandleFunc("POST /api/bills", s.handleCreateBill)
	mux.HandleFunc("GET /api/bills/{id}", s.handleGetBill)
	mux.HandleFunc("PATCH /api/bills/{id}", s.handleUpdateBill)
	mux.HandleFunc("DELETE /api/bills/{id}", s.handleDeleteBill)
	mux.HandleFunc("POST /api/bills/{id}/archive", s.handleArchiveBill)
	mux.HandleFunc("POST /api/bills/{id}/transactions", s.handleAddTransaction)

	mux.HandleFunc("PATCH /api/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	mux.HandleFunc("GET /api/cycles/{cycle}/overview", s.handleOverview)
	mux.HandleFunc("POST /api/cycles/advance", s.handleAdvanceCycles)

	limited := s.rateLimiter.Middleware(trace.ClientIP, ratelimit.IsMutation,
		func(w http.ResponseWriter, r *http.Request) {
			s.logger.WarnContext(r.Context(), "Rate limit exceeded",
				applog.FieldClientIP, trace.ClientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			TooManyRequestsError().Write(w)
		})(mux)

	var handler http.Handler = limited
	handler = applog.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = applog.Middleware(httpLogger)(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// InvalidateOverviews drops every cached cycle overview. Callers that change
// bills outside the API, such as the in-process cycle loop, use it too.
func (s *Server) InvalidateOverviews() {
	s.overviewCache.Purge()
}

func (s *Server) currentCycle() string {
	return core.DateOf(s.clock.Now()).Cycle()
}

func requestID(r *http.Request) string {
	return trace.GetRequestID(r.Context())
}
