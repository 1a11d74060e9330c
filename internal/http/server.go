package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"budgetplanner/internal/auth"
	"budgetplanner/internal/cache"
	applog "budgetplanner/internal/log"
	"budgetplanner/internal/middleware/ratelimit"
	"budgetplanner/internal/middleware/security"
	"budgetplanner/internal/middleware/trace"
	"budgetplanner/internal/services"
)

// RecurringQueue hands recurring processing to the worker.
type RecurringQueue interface {
	PublishRecurringRequest(ctx context.Context, userID, month string) error
}

// Options configures NewServer. Zero values select defaults.
type Options struct {
	Addr               string
	RateLimitPerMinute int
	CacheTTL           time.Duration
	CacheSize          int
	// Queue, when set, receives month activations instead of running them inline.
	Queue RecurringQueue
	// Ready reports whether dependencies are usable; nil means always ready.
	Ready  func(ctx context.Context) error
	Now    func() time.Time
	Logger *applog.Logger
}

type Server struct {
	http.Server
	ledger    *services.Ledger
	summaries *cache.SummaryCache
	caches    *cache.Manager
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	queue     RecurringQueue
	ready     func(ctx context.Context) error
	now       func() time.Time

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(ledger *services.Ledger, opts Options) *Server {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 500
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}

	s := &Server{
		ledger:    ledger,
		summaries: cache.NewSummaryCache(opts.CacheSize, opts.CacheTTL),
		caches:    cache.NewManager(),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:  security.NewDetector(),
		queue:     opts.Queue,
		ready:     opts.Ready,
		now:       opts.Now,
	}
	s.caches.Register(s.summaries)
	s.caches.StartCleanup(time.Minute)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(opts.Logger.WithComponent(applog.ComponentHTTP)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(logger *applog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(trace.Middleware)
	r.Use(applog.Middleware(logger))
	r.Use(applog.RequestLogger(s.detector.ExtractClientIP))
	r.Use(chimw.Recoverer)
	r.Use(s.detector.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no such route").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed").Write(w)
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(s.limitWrites)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Get("/{id}", s.handleGetAccount)
			r.Delete("/{id}", s.handleDeleteAccount)
			r.Put("/{id}/balance", s.handleSetBalance)
		})

		r.Route("/months/{month}", func(r chi.Router) {
			r.Get("/", s.handleMonthSummary)
			r.Put("/income", s.handleSetIncome)
			r.Put("/rule", s.handleSetRule)
			r.Post("/activate", s.handleActivateMonth)
			r.Get("/items", s.handleListItems)
			r.Post("/items", s.handleAddItem)
			r.Delete("/items/{id}", s.handleDeleteItem)
		})

		r.Route("/recurring", func(r chi.Router) {
			r.Get("/", s.handleListRecurring)
			r.Post("/", s.handleCreateRecurring)
			r.Get("/upcoming", s.handleUpcoming)
			r.Delete("/{id}", s.handleDeleteRecurring)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", s.handleListGoals)
			r.Post("/", s.handleCreateGoal)
			r.Get("/{id}", s.handleGetGoal)
			r.Delete("/{id}", s.handleDeleteGoal)
			r.Get("/{id}/deposits", s.handleListDeposits)
			r.Post("/{id}/deposits", s.handleDeposit)
		})
	})
	return r
}

// limitWrites applies the per-client rate limit to POST requests.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		slog.WarnContext(r.Context(), "Rate limit exceeded",
			"client_ip", s.detector.ExtractClientIP(r),
			"path", r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, please try again later").Write(w)
	})(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "Readiness check failed", "error", err)
			ErrorResponse(http.StatusServiceUnavailable, "not_ready", "dependencies unavailable").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
