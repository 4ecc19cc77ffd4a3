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
	"github.com/mbd888/guardianshield/internal/baseline"
	"github.com/mbd888/guardianshield/internal/circuitbreaker"
	"github.com/mbd888/guardianshield/internal/config"
	"github.com/mbd888/guardianshield/internal/health"
	"github.com/mbd888/guardianshield/internal/idgen"
	"github.com/mbd888/guardianshield/internal/logging"
	"github.com/mbd888/guardianshield/internal/merchant"
	"github.com/mbd888/guardianshield/internal/metrics"
	"github.com/mbd888/guardianshield/internal/oracle"
	"github.com/mbd888/guardianshield/internal/ratelimit"
	"github.com/mbd888/guardianshield/internal/realtime"
	"github.com/mbd888/guardianshield/internal/risk"
	"github.com/mbd888/guardianshield/internal/security"
	"github.com/mbd888/guardianshield/internal/traces"
	"github.com/mbd888/guardianshield/internal/txlog"
	"github.com/mbd888/guardianshield/internal/validation"
	"github.com/redis/go-redis/v9"
)

// Version is reported by the root and health endpoints.
const Version = "2.0.0"

// Remote oracle breaker: open after this many consecutive failures.
const (
	oracleBreakerThreshold = 5
	oracleBreakerOpenFor   = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	db             *sql.DB       // nil if using in-memory
	redis          *redis.Client // nil without REDIS_URL
	baselineStore  baseline.Store
	baselines      *baseline.Provider
	refresher      *baseline.Refresher
	oracle         *oracle.Guarded
	classifier     *merchant.Classifier
	engine         *risk.Engine
	txStore        txlog.Store
	txWriter       *txlog.Writer
	realtimeHub    *realtime.Hub
	health         *health.Registry
	rateLimiter    *ratelimit.Limiter
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	model          oracle.Oracle // set by WithOracle; overrides config
	shutdownTracer func(context.Context) error
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

// WithOracle sets the probability model instead of building one from config
// (for testing).
func WithOracle(o oracle.Oracle) Option {
	return func(s *Server) {
		s.model = o
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger, _ = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	shutdownTracer, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTracer = shutdownTracer

	s.health = health.NewRegistry(2 * time.Second)

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.baselineStore = baseline.NewPostgresStore(db)
		s.txStore = txlog.NewPostgresStore(db)
		s.health.Register("database", health.PingChecker("database", db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.baselineStore = baseline.NewMemoryStore()
		s.txStore = txlog.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	providerOpts := []baseline.Option{
		baseline.WithTTL(cfg.BaselineCacheTTL),
		baseline.WithFetchTimeout(cfg.BaselineFetchTimeout),
		baseline.WithLogger(s.logger),
	}
	if cfg.RedisURL != "" {
		client, err := baseline.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			// The shared tier is an optimization; run without it.
			s.logger.Warn("redis unavailable, baseline cache is process-local", "error", err)
		} else {
			s.redis = client
			rc := baseline.NewRedisCache(client)
			providerOpts = append(providerOpts, baseline.WithRemoteCache(rc))
			s.health.RegisterOptional("redis", health.PingChecker("redis", rc))
			s.logger.Info("baseline cache backed by redis")
		}
	}
	s.baselines = baseline.NewProvider(s.baselineStore, providerOpts...)
	s.refresher = baseline.NewRefresher(s.txStore, s.baselineStore, s.baselines, s.logger)

	model, err := s.buildOracle()
	if err != nil {
		return nil, err
	}
	s.oracle = oracle.NewGuarded(model, cfg.FallbackProbability, s.logger)
	s.health.RegisterOptional("oracle", health.PingChecker("oracle", s.oracle))
	meta := s.oracle.Metadata()
	s.logger.Info("probability oracle configured", "loaded", meta.Loaded, "version", meta.Version, "source", meta.Source)

	s.classifier = merchant.NewClassifier(cfg.HealthcareKeywords, cfg.EducationKeywords)
	s.txWriter = txlog.NewWriter(s.txStore, s.logger)
	s.realtimeHub = realtime.NewHub(s.logger, realtime.WithAllowedOrigins(security.ParseOrigins(cfg.FrontendURL)...))

	s.engine = risk.NewEngine(
		s.baselines,
		s.oracle,
		risk.NewCalculator(s.classifier),
		risk.NewPolicy(risk.Thresholds{
			Block:     cfg.BlockThreshold,
			Challenge: cfg.ChallengeThreshold,
			Caution:   cfg.CautionThreshold,
		}, s.classifier),
		risk.WithRecorder(s.txWriter),
		risk.WithPublisher(s.realtimeHub),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// buildOracle picks the model: an injected one, a local weights file, a
// remote endpoint, or none at all.
func (s *Server) buildOracle() (oracle.Oracle, error) {
	switch {
	case s.model != nil:
		return s.model, nil
	case s.cfg.ModelPath != "":
		m, err := oracle.LoadLogisticModel(s.cfg.ModelPath)
		if err != nil {
			// Scoring still works on the fallback probability.
			s.logger.Error("failed to load model, using fallback probability", "path", s.cfg.ModelPath, "error", err)
			return nil, nil
		}
		return m, nil
	case s.cfg.OracleURL != "":
		breaker := circuitbreaker.New(oracleBreakerThreshold, oracleBreakerOpenFor)
		breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
			s.logger.Warn("oracle circuit breaker transition", "endpoint", key, "from", from.String(), "to", to.String())
		})
		return oracle.NewHTTPOracle(s.cfg.OracleURL, s.cfg.OracleTimeout, breaker), nil
	default:
		s.logger.Warn("no model configured, using fallback probability")
		return nil, nil
	}
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(security.ParseOrigins(s.cfg.FrontendURL)))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	rlCfg.ExemptPrefixes = append(rlCfg.ExemptPrefixes, "/ws")
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream ID (load balancer, gateway) if there is one.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Request()
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
			logger.Debug("request completed",
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
	s.router.GET("/", s.rootHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	risk.NewHandler(s.engine).RegisterRoutes(api)
	baseline.NewHandler(s.baselines).RegisterRoutes(api)
	merchant.NewHandler(s.classifier).RegisterRoutes(api)
	txlog.NewHandler(s.txStore).RegisterRoutes(api)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "GuardianShield API Running",
		"version":            Version,
		"model_loaded":       s.oracle.Loaded(),
		"model":              s.oracle.Metadata(),
		"database_connected": s.db != nil,
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Realtime  realtime.Stats  `json:"realtime"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
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
	if healthy, checks := s.health.CheckAll(c.Request.Context()); !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the background workers (log writer, live feed, baseline
// refresher, pool stats) and marks the server ready. Run calls it; tests
// that drive Router directly may call it themselves.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.txWriter.Start(runCtx)
	go s.realtimeHub.Run(runCtx)
	go s.refresher.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	s.ready.Store(true)
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.Start(ctx)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. Queued log records are flushed
// before the database is closed.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.refresher.Stop()

	// Flush the log before cancelling the run context so the final batch
	// goes out through Stop rather than a cancelled loop.
	s.txWriter.Stop()
	written, failed, dropped := s.txWriter.Stats()
	s.logger.Info("transaction log writer stopped", "written", written, "failed", failed, "dropped", dropped)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownTracer != nil {
		if err := s.shutdownTracer(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
