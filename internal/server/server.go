// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
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

	"github.com/kilicc/kentsms-sub000/internal/account"
	"github.com/kilicc/kentsms-sub000/internal/cepsms"
	"github.com/kilicc/kentsms-sub000/internal/config"
	"github.com/kilicc/kentsms-sub000/internal/dispatch"
	"github.com/kilicc/kentsms-sub000/internal/ledger"
	"github.com/kilicc/kentsms-sub000/internal/logging"
	"github.com/kilicc/kentsms-sub000/internal/message"
	"github.com/kilicc/kentsms-sub000/internal/metrics"
	"github.com/kilicc/kentsms-sub000/internal/ratelimit"
	"github.com/kilicc/kentsms-sub000/internal/refund"
	"github.com/kilicc/kentsms-sub000/internal/report"
	"github.com/kilicc/kentsms-sub000/internal/security"
	"github.com/kilicc/kentsms-sub000/internal/traces"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	users       *account.Service
	pool        *ledger.Service
	messages    message.Store
	refunds     *refund.Service
	dispatcher  *dispatch.Service
	reconciler  *report.Reconciler
	accounts    *cepsms.Directory
	gateway     *cepsms.Client
	reportTimer *report.Timer
	refundTimer *refund.Timer
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	shutdownTrace func(context.Context) error

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		userStore    account.Store
		ledgerStore  ledger.Store
		messageStore message.Store
		refundStore  refund.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		accountPG := account.NewPostgresStore(db)
		if err := accountPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate account store", "error", err)
		}
		userStore = accountPG

		ledgerPG := ledger.NewPostgresStore(db)
		if err := ledgerPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		ledgerStore = ledgerPG

		messagePG := message.NewPostgresStore(db)
		if err := messagePG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate message store", "error", err)
		}
		messageStore = messagePG

		refundPG := refund.NewPostgresStore(db)
		if err := refundPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate refund store", "error", err)
		}
		refundStore = refundPG
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		userStore = account.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore(0)
		messageStore = message.NewMemoryStore()
		refundStore = refund.NewMemoryStore()
	}

	s.users = account.NewService(userStore)
	s.pool = ledger.NewService(ledgerStore)
	s.messages = messageStore
	s.refunds = refund.NewService(refundStore, messageStore, s.users, cfg.RefundDelay)

	// Gateway credential directory
	accounts, err := buildDirectory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load gateway accounts: %w", err)
	}
	s.accounts = accounts
	s.logger.Info("gateway accounts loaded", "count", accounts.Len())

	// Gateway client. Overridden base URLs are vetted against SSRF targets;
	// the stock panel URL is trusted as-is.
	if cfg.CepSMSBaseURL != config.DefaultCepSMSBaseURL {
		if err := security.ValidateEndpointURL(cfg.CepSMSBaseURL); err != nil {
			return nil, fmt.Errorf("invalid gateway URL: %w", err)
		}
	}
	clientOpts := []cepsms.Option{}
	if cfg.CepSMSInsecureTLS {
		s.logger.Warn("gateway TLS verification disabled")
		clientOpts = append(clientOpts, cepsms.WithInsecureTLS())
	}
	s.gateway = cepsms.NewClient(cfg.CepSMSBaseURL, cfg.SendTimeout, clientOpts...)

	// Dispatch engine
	s.dispatcher = dispatch.NewService(s.gateway, s.accounts, s.users, s.pool, s.messages, dispatch.Config{
		ConcurrentLimit: cfg.ConcurrentLimit,
		WaveDelay:       cfg.WaveDelay,
		SendTimeout:     cfg.SendTimeout,
	})

	// Status reconciler and refund sweep
	s.reconciler = report.NewReconciler(s.messages, s.gateway, s.accounts, s.users, s.refunds, cfg.StatusGrace, cfg.StatusMaxAge)
	s.reportTimer = report.NewTimer(s.reconciler, cfg.StatusInterval, s.logger)
	s.refundTimer = refund.NewTimer(s.refunds, cfg.RefundInterval, s.logger)

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

// buildDirectory assembles the gateway credential directory from config.
// CEPSMS_ACCOUNTS carries the per-user credential list; the single
// CEPSMS_USERNAME/PASSWORD pair is the privileged-sender fallback.
func buildDirectory(cfg *config.Config) (*cepsms.Directory, error) {
	var defaultAcc *cepsms.Account
	if cfg.CepSMSUsername != "" {
		defaultAcc = &cepsms.Account{
			Username: cfg.CepSMSUsername,
			Password: cfg.CepSMSPassword,
			From:     cfg.CepSMSFrom,
		}
	}
	if cfg.CepSMSAccounts != "" {
		return cepsms.ParseDirectory(cfg.CepSMSAccounts, defaultAcc)
	}
	var accounts []cepsms.Account
	if defaultAcc != nil {
		accounts = append(accounts, *defaultAcc)
	}
	return cepsms.NewDirectory(accounts, defaultAcc), nil
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

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(security.RequestSizeMiddleware(security.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
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

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

// adminMiddleware gates admin and cron endpoints on X-Admin-Secret. With no
// secret configured (local development) everything is allowed.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin access required",
			})
			return
		}
		c.Next()
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

	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	dispatchHandler := dispatch.NewHandler(s.dispatcher)
	dispatchHandler.RegisterRoutes(v1)

	messageHandler := message.NewHandler(s.messages)
	messageHandler.RegisterRoutes(v1)

	refundHandler := refund.NewHandler(s.refunds)
	refundHandler.RegisterRoutes(v1)

	// Admin routes (user management, pool funding, manual sweeps)
	admin := v1.Group("/admin")
	admin.Use(s.adminMiddleware())

	account.NewHandler(s.users).RegisterAdminRoutes(admin)
	ledger.NewHandler(s.pool).RegisterAdminRoutes(admin)
	refundHandler.RegisterAdminRoutes(admin)
	report.NewHandler(s.reconciler).RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
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
		"name":        "KentSMS",
		"description": "Credit-gated bulk SMS dispatch",
		"version":     "0.1.0",
		"gateway":     "cepsms",
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

	// Tracing (no-op unless an OTLP endpoint is configured)
	shutdownTrace, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTrace = shutdownTrace
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start status reconciler
	go s.reportTimer.Start(runCtx)

	// Start refund sweep
	go s.refundTimer.Start(runCtx)

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

	// Cancel the context for all background goroutines (timers, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.reportTimer != nil {
		s.reportTimer.Stop()
		s.logger.Info("status reconciler stopped")
	}

	if s.refundTimer != nil {
		s.refundTimer.Stop()
		s.logger.Info("refund timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
		}
	}

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
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
