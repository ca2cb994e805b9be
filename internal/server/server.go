// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	stdsignal "os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/lumely/riskcore/internal/config"
	"github.com/lumely/riskcore/internal/detector"
	"github.com/lumely/riskcore/internal/enforce"
	"github.com/lumely/riskcore/internal/facts"
	"github.com/lumely/riskcore/internal/logging"
	"github.com/lumely/riskcore/internal/metrics"
	"github.com/lumely/riskcore/internal/ratelimit"
	"github.com/lumely/riskcore/internal/region"
	"github.com/lumely/riskcore/internal/sched"
	"github.com/lumely/riskcore/internal/score"
	"github.com/lumely/riskcore/internal/security"
	"github.com/lumely/riskcore/internal/signal"
	"github.com/lumely/riskcore/internal/traces"
	"github.com/lumely/riskcore/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the risk pipeline dependencies
type Server struct {
	cfg *config.Config

	signals     signal.Store
	scores      score.Store
	profiles    region.ProfileStore
	assessments region.AssessmentStore
	enforcement enforce.Store

	emitter     *signal.Emitter
	detectors   *detector.Service
	aggregator  *score.Aggregator
	calculator  *region.Calculator
	engine      *enforce.Engine
	sweeper     *sched.Sweeper
	recorder    *facts.Recorder
	chargebacks enforce.ChargebackProvider

	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOTel func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChargebacks overrides the chargeback stats provider (for testing)
func WithChargebacks(p enforce.ChargebackProvider) Option {
	return func(s *Server) {
		s.chargebacks = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set logger/providers)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		signalStore := signal.NewPostgresStore(db)
		if err := signalStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate signal store", "error", err)
		}
		s.signals = signalStore

		scoreStore := score.NewPostgresStore(db)
		if err := scoreStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate score store", "error", err)
		}
		s.scores = scoreStore

		profileStore := region.NewPostgresProfileStore(db)
		if err := profileStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate profile store", "error", err)
		}
		s.profiles = profileStore

		assessmentStore := region.NewPostgresAssessmentStore(db)
		if err := assessmentStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate assessment store", "error", err)
		}
		s.assessments = assessmentStore

		enforcementStore := enforce.NewPostgresStore(db)
		if err := enforcementStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate enforcement store", "error", err)
		}
		s.enforcement = enforcementStore
	} else {
		s.signals = signal.NewMemoryStore()
		s.scores = score.NewMemoryStore()
		s.profiles = region.NewMemoryProfileStore()
		s.assessments = region.NewMemoryAssessmentStore()
		s.enforcement = enforce.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Fact providers. The recorder backs detectors/behavior/churn; Stripe
	// (when configured) replaces it for chargeback stats only.
	s.recorder = facts.NewRecorder()
	if s.chargebacks == nil {
		if cfg.StripeAPIKey != "" {
			s.chargebacks = facts.NewStripeChargebacks(cfg.StripeAPIKey, cfg.StripeTokensPerCent)
			s.logger.Info("stripe chargeback facts enabled")
		} else {
			s.chargebacks = s.recorder
		}
	}

	// Pipeline wiring.
	s.emitter = signal.NewEmitterSize(s.signals, s.logger, cfg.SignalQueueSize)
	s.detectors = detector.NewService(s.recorder.Providers(), s.emitter, s.logger)
	s.aggregator = score.NewAggregator(s.signals, s.scores, s.logger).
		WithLookback(cfg.Lookback())
	s.calculator = region.NewCalculator(s.scores, s.profiles, s.assessments,
		s.recorder, s.recorder, s.logger)
	s.engine = enforce.NewEngine(s.assessments, s.profiles, s.enforcement,
		s.chargebacks, s.logger)
	s.sweeper = sched.NewSweeper(s.signals, s.scores, s.aggregator, s.calculator,
		s.engine, sched.StaticRegion(cfg.DefaultRegion), s.detectors.Dedup(), s.logger).
		WithIntervals(cfg.RecomputeInterval, cfg.ExpiryInterval, cfg.CleanupInterval).
		WithBatchSize(cfg.SweepBatchSize).
		WithRetention(cfg.Retention())

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (internal API; collaborators call server-to-server)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		limiterCfg.BurstSize = s.cfg.RateLimitRPS * 2
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.IDParamMiddleware())

	// Signal emission: fire-and-forget, 202 always on accepted shape
	v1.POST("/signals", s.emitSignalHandler)

	// Fact ingestion: product surfaces push extracted facts here and the
	// matching detector checks run inline
	v1.POST("/events", s.ingestEventHandler)

	// Risk posture reads
	v1.GET("/users/:id/risk", s.getUserRiskHandler)
	v1.GET("/users/:id/risk/regional", s.getRegionalRiskHandler)
	v1.GET("/users/:id/actions/:action", s.isActionAllowedHandler)

	// Manual/administrative re-trigger of the full pipeline
	v1.POST("/users/:id/recalculate", s.recalculateHandler)

	// ADMIN ROUTES (authn/authz of admin callers is an external collaborator's
	// concern; the optional shared secret is a deployment convenience)
	admin := v1.Group("/admin")
	admin.Use(s.adminSecretMiddleware())
	{
		admin.GET("/signals", s.listSignalsHandler)
		admin.GET("/scores", s.listScoresHandler)
		admin.GET("/stats", s.statsHandler)

		admin.GET("/regions", s.listProfilesHandler)
		admin.GET("/regions/:id", s.getProfileHandler)
		admin.PUT("/regions/:id", s.upsertProfileHandler)
		admin.DELETE("/regions/:id", s.deleteProfileHandler)
	}
}

// adminSecretMiddleware enforces the X-Admin-Secret header when ADMIN_SECRET
// is configured. Without it (demo mode), admin routes are open.
func (s *Server) adminSecretMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret != "" && c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin secret required",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse is the /health payload
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "riskcore",
		"version": "0.1.0",
		"endpoints": gin.H{
			"signals":     "POST /v1/signals",
			"events":      "POST /v1/events",
			"risk":        "GET /v1/users/:id/risk",
			"regional":    "GET /v1/users/:id/risk/regional?region=<id>",
			"actions":     "GET /v1/users/:id/actions/:action",
			"recalculate": "POST /v1/users/:id/recalculate",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background jobs, blocking until a shutdown
// signal or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing
	shutdownOTel, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownOTel = shutdownOTel
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start scheduler sweeps
	go s.sweeper.Start(runCtx)

	// Start DB stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	stdsignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the HTTP server and background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (sweeper, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Flush and stop the signal emitter queue
	if s.emitter != nil {
		s.emitter.Close()
		s.logger.Info("signal emitter drained")
	}

	// Flush traces
	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Recorder returns the in-memory fact recorder (demo/test feed path)
func (s *Server) Recorder() *facts.Recorder {
	return s.recorder
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
