// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cartpulse/cartpulse/internal/admin"
	"github.com/cartpulse/cartpulse/internal/analytics"
	"github.com/cartpulse/cartpulse/internal/auth"
	"github.com/cartpulse/cartpulse/internal/billing"
	"github.com/cartpulse/cartpulse/internal/boltx"
	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/dashboard"
	"github.com/cartpulse/cartpulse/internal/events"
	"github.com/cartpulse/cartpulse/internal/health"
	"github.com/cartpulse/cartpulse/internal/idgen"
	"github.com/cartpulse/cartpulse/internal/logging"
	"github.com/cartpulse/cartpulse/internal/merchant"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/ratelimit"
	"github.com/cartpulse/cartpulse/internal/realtime"
	"github.com/cartpulse/cartpulse/internal/security"
	"github.com/cartpulse/cartpulse/internal/traces"
	"github.com/cartpulse/cartpulse/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	merchants      merchant.Store
	eventStore     events.Store
	predStore      boltx.Store
	authMgr        *auth.Manager
	eventService   *events.Service
	predictor      *boltx.EnhancedPredictor
	retrainer      *boltx.Retrainer
	billingGateway billing.Gateway
	billingService *billing.Service
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	healthReg      *health.Registry
	tracesShutdown func(context.Context) error
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// WithBillingGateway sets a custom billing gateway (for testing)
func WithBillingGateway(g billing.Gateway) Option {
	return func(s *Server) {
		s.billingGateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

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

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		merchantStore := merchant.NewPostgresStore(db)
		if err := merchantStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate merchant store", "error", err)
		}
		s.merchants = merchantStore

		authStore := auth.NewPostgresStore(db)
		if err := authStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate auth store", "error", err)
		}
		s.authMgr = auth.NewManager(authStore)

		eventStore := events.NewPostgresStore(db)
		if err := eventStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate event store", "error", err)
		}
		s.eventStore = eventStore

		predStore := boltx.NewPostgresStore(db)
		if err := predStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate prediction store", "error", err)
		}
		s.predStore = predStore
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		s.merchants = merchant.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.eventStore = events.NewMemoryStore()
		s.predStore = boltx.NewMemoryStore()
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Event ingestion (quota-checked, broadcast to dashboards)
	s.eventService = events.NewService(s.eventStore, s.realtimeHub)

	// BoltX risk scoring with per-session history and periodic retraining
	s.predictor = boltx.NewEnhancedPredictor()
	s.retrainer = boltx.NewRetrainer(
		s.predictor,
		boltx.SampleSourceFunc(s.trainingSamples),
		cfg.RetrainInterval,
		logging.Component(s.logger, "retrainer"),
	)
	s.logger.Info("risk scoring enabled", "retrain_interval", cfg.RetrainInterval)

	// Stripe billing (disabled without a secret key; see WithBillingGateway
	// for injecting a fake in tests)
	if s.billingGateway != nil {
		s.billingService = billing.NewService(s.billingGateway, s.merchants, s.planPrices())
		s.logger.Info("billing enabled (injected gateway)")
	} else if cfg.BillingEnabled() {
		gateway := billing.NewResilientGateway(billing.NewStripeGateway(cfg.StripeSecretKey))
		s.billingService = billing.NewService(gateway, s.merchants, s.planPrices())
		s.logger.Info("billing enabled (stripe)")
	} else {
		s.logger.Info("billing disabled (no STRIPE_SECRET_KEY set)")
	}

	// Tracing (no-op without an OTLP endpoint)
	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	// Health checkers
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

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

// planPrices maps paid plans to their configured Stripe price IDs.
func (s *Server) planPrices() map[merchant.Plan]string {
	return map[merchant.Plan]string{
		merchant.PlanStarter:    s.cfg.StripePriceStarter,
		merchant.PlanGrowth:     s.cfg.StripePriceGrowth,
		merchant.PlanEnterprise: s.cfg.StripePriceEnterprise,
	}
}

// trainingSamples labels ended sessions across every merchant for the
// periodic retrainer.
func (s *Server) trainingSamples(ctx context.Context) ([]boltx.TrainingSample, error) {
	all, err := s.merchants.List(ctx, 1000, 0)
	if err != nil {
		return nil, err
	}

	var samples []boltx.TrainingSample
	for _, m := range all {
		if !m.Settings.RiskScoring {
			continue
		}
		ms, err := boltx.BuildTrainingSamples(ctx, s.eventStore, m.ID)
		if err != nil {
			s.logger.Warn("failed to build training samples", "merchant", m.ID, "error", err)
			continue
		}
		samples = append(samples, ms...)
	}
	return samples, nil
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

	// CORS: merchant storefronts post events cross-origin
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting: per merchant plan once authenticated, per IP before
	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware(s.rateLimitKey))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

// rateLimitKey buckets authenticated callers by API key so one merchant
// cannot starve another behind a shared IP. Plan-level limits apply in
// planLimitMiddleware after auth resolves the merchant.
func (s *Server) rateLimitKey(c *gin.Context) (string, int) {
	if apiKey := c.GetHeader("Authorization"); apiKey != "" {
		if len(apiKey) > 20 {
			apiKey = apiKey[:20]
		}
		return "auth:" + apiKey, 0
	}
	return c.ClientIP(), 0
}

// planLimitMiddleware applies the merchant's plan rate limit after auth.
func (s *Server) planLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID := auth.GetMerchantID(c)
		if merchantID == "" {
			c.Next()
			return
		}

		rpm := 0
		if m, err := s.merchants.Get(c.Request.Context(), merchantID); err == nil {
			rpm = m.Settings.RateLimitRPM
		}
		if !s.rateLimiter.Allow("merchant:"+merchantID, rpm) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Plan rate limit exceeded. Please slow down.",
			})
			return
		}
		c.Next()
	}
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

	merchantHandler := merchant.NewHandler(s.merchants, s.authMgr)
	authHandler := auth.NewHandler(s.authMgr)
	eventHandler := events.NewHandler(s.eventService, s.merchants)
	boltxHandler := boltx.NewHandler(s.predictor, s.eventStore, s.predStore, s.merchants, s.realtimeHub)
	analyticsHandler := analytics.NewHandler(s.eventStore)
	dashboardHandler := dashboard.NewHandler(s.eventStore, s.predStore, s.merchants, s.realtimeHub)

	// V1 API group. Validate :id merchant params on all v1 routes
	// (no-op when the param is absent).
	v1 := s.router.Group("/v1")
	v1.Use(validation.MerchantParamMiddleware())

	// PUBLIC ROUTES (no auth required)
	merchantHandler.RegisterRoutes(v1) // POST /signup
	authHandler.RegisterRoutes(v1)     // GET /auth/info

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr), s.planLimitMiddleware())
	authHandler.RegisterProtectedRoutes(protected) // key management
	eventHandler.RegisterProtectedRoutes(protected) // POST /events

	// MERCHANT-SCOPED ROUTES (key must own the :id merchant)
	owned := protected.Group("")
	owned.Use(auth.RequireMerchant("id"))
	merchantHandler.RegisterProtectedRoutes(owned)
	eventHandler.RegisterMerchantRoutes(owned)
	boltxHandler.RegisterProtectedRoutes(owned)
	analyticsHandler.RegisterRoutes(owned)
	dashboardHandler.RegisterRoutes(owned)

	// BILLING
	if s.billingService != nil {
		billingHandler := billing.NewHandler(s.billingService, s.cfg.StripeWebhookSecret)
		billingHandler.RegisterRoutes(v1) // Stripe webhook (signature-verified)
		billingHandler.RegisterProtectedRoutes(owned)
	}

	// ADMIN ROUTES (X-Admin-Secret header)
	adminGroup := v1.Group("/admin")
	adminGroup.Use(auth.AdminMiddleware(s.cfg.AdminSecret))
	merchantHandler.RegisterAdminRoutes(adminGroup)
	adminHandler := admin.NewHandler(s.merchants).
		WithPredictor(s.predictor, boltx.SampleSourceFunc(s.trainingSamples)).
		WithStreamStats(s.realtimeHub)
	adminHandler.RegisterRoutes(adminGroup)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
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
		"name":        "CartPulse",
		"description": "Checkout analytics and abandonment prediction for e-commerce",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start periodic model retraining
	go s.retrainer.Start(runCtx)

	// Start DB pool stats collector
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
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, retrainer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the retrainer loop
	s.retrainer.Stop()
	s.logger.Info("retrainer stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	return idgen.Hex(16)
}
