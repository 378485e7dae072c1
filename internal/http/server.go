package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"spesa/internal/backend"
	applog "spesa/internal/log"
	"spesa/internal/metrics"
	"spesa/internal/middleware/ratelimit"
	"spesa/internal/middleware/security"
	"spesa/internal/middleware/trace"
	"spesa/internal/services"
)

// Options configures the HTTP surface.
type Options struct {
	Logger             *applog.Logger
	Metrics            *metrics.Metrics
	Ready              backend.ReadyFunc
	BackendName        string
	Currency           string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	TrustedProxies     []string
}

type Server struct {
	http.Server
	svc      *services.ExpenseService
	logger   *applog.Logger
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	detector *security.Detector
	ready    backend.ReadyFunc

	backendName string
	currency    string
	maxUpload   int64
	started     time.Time
	routes      map[string]bool

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, svc *services.ExpenseService, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 4 << 20
	}
	if opts.Currency == "" {
		opts.Currency = "€"
	}
	detector, err := security.NewDetector(opts.TrustedProxies...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:         svc,
		logger:      opts.Logger.WithComponent(applog.ComponentHTTP),
		metrics:     opts.Metrics,
		limiter:     ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:    detector,
		ready:       opts.Ready,
		backendName: opts.BackendName,
		currency:    opts.Currency,
		maxUpload:   opts.MaxUploadBytes,
		started:     time.Now(),
		routes:      make(map[string]bool),
	}

	mux := http.NewServeMux()
	s.handle(mux, "/api/getExpenses", s.handleGetExpenses, http.MethodGet)
	s.handle(mux, "/api/addExpense", s.handleAddExpense, http.MethodPost)
	s.handle(mux, "/api/updateExpense", s.handleUpdateExpense, http.MethodPost)
	s.handle(mux, "/api/addBatchExpenses", s.handleAddBatchExpenses, http.MethodPost)
	s.handle(mux, "/api/editForm", s.handleEditForm, http.MethodGet)
	s.handle(mux, "/api/fetchSummary", s.handleFetchSummary, http.MethodGet)
	s.handle(mux, "/api/getSummary", s.handleFetchSummary, http.MethodGet)
	s.handle(mux, "/api/monthlySummaries", s.handleMonthlySummaries, http.MethodGet)
	s.handle(mux, "/api/scanReceipt", s.handleScanReceipt, http.MethodPost)
	s.handle(mux, "/api/status", s.handleStatus, http.MethodGet)
	s.handle(mux, "/api/dismissAlert", s.handleDismissAlert, http.MethodPost)
	s.handle(mux, "/api/participants", s.handleParticipants, http.MethodGet)

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", s.metrics.Handler())
	for _, p := range []string{"/healthz", "/readyz", "/metrics"} {
		s.routes[p] = true
	}

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(detector.ExtractClientIP, opts.Logger, s.observe)

	var h http.Handler = mux
	h = s.limiter.Middleware(detector.ExtractClientIP, s.rateLimited)(h)
	h = s.flagSuspicious(h)
	h = headers.Middleware(h)
	h = applog.RequestIDMiddleware(trace.RequestID)(h)
	h = applog.Middleware(opts.Logger)(h)
	h = tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// handle registers an /api route with CORS, preflight and method checks.
func (s *Server) handle(mux *http.ServeMux, path string, fn http.HandlerFunc, methods ...string) {
	s.routes[path] = true
	allowed := append([]string{}, methods...)
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		setCORS(w, allowed)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if resp := RequireMethod(r, allowed...); resp != nil {
			resp.Write(w)
			return
		}
		fn(w, r)
	})
}

func setCORS(w http.ResponseWriter, methods []string) {
	allow := "OPTIONS"
	for _, m := range methods {
		allow = m + ", " + allow
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", allow)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordRateLimited()
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldPath, r.URL.Path)
	setCORS(w, []string{r.Method})
	ErrorResponse(http.StatusTooManyRequests, MsgRateLimited).Write(w)
}

func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.IsSuspicious(r) {
			s.logger.WarnContext(r.Context(), "Suspicious request",
				applog.FieldClientIP, s.detector.ExtractClientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

// observe feeds the request metrics. Unknown paths share one label.
func (s *Server) observe(r *http.Request, status int, elapsed time.Duration) {
	route := r.URL.Path
	if !s.routes[route] {
		route = "unmatched"
	}
	s.metrics.ObserveRequest(route, r.Method, status, elapsed)
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Close stops background work without serving; used by tests.
func (s *Server) Close() {
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		_ = s.Server.Close()
	})
}

func (s *Server) logRequestError(ctx context.Context, msg string, err error, errorType, op string) {
	applog.NewStructuredLogger(applog.FromContext(ctx)).LogError(ctx, msg, err, errorType, applog.ComponentHTTP, op, nil)
}
