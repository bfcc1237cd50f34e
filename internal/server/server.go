// Package server wires the HTTP API: validation submissions, vendor
// trust queries, result verification, health, metrics and the
// real-time event stream.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/mvdveen/bouwdepot/internal/config"
	"github.com/mvdveen/bouwdepot/internal/extraction"
	"github.com/mvdveen/bouwdepot/internal/health"
	"github.com/mvdveen/bouwdepot/internal/logging"
	"github.com/mvdveen/bouwdepot/internal/metrics"
	"github.com/mvdveen/bouwdepot/internal/oracle"
	"github.com/mvdveen/bouwdepot/internal/pipeline"
	"github.com/mvdveen/bouwdepot/internal/ratelimit"
	"github.com/mvdveen/bouwdepot/internal/realtime"
	"github.com/mvdveen/bouwdepot/internal/rules"
	"github.com/mvdveen/bouwdepot/internal/sanitize"
	"github.com/mvdveen/bouwdepot/internal/security"
	"github.com/mvdveen/bouwdepot/internal/signing"
	"github.com/mvdveen/bouwdepot/internal/validation"
	"github.com/mvdveen/bouwdepot/internal/vendors"
)

// Version is reported on the health and info endpoints.
const Version = "0.1.0"

// Server is the main HTTP server
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *gin.Engine
	httpSrv *http.Server

	db          *sql.DB
	vendorStore vendors.Store
	resultStore validation.Store

	engine       *vendors.Engine
	signer       *signing.Signer
	orchestrator *pipeline.Orchestrator
	hub          *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry

	tamperChecker extraction.TamperChecker
	extractor     extraction.Extractor
	oracleClient  oracle.Client

	healthy      atomic.Bool
	ready        atomic.Bool
	cancelRunCtx context.CancelFunc
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVendorStore overrides the vendor profile store (used in tests)
func WithVendorStore(store vendors.Store) Option {
	return func(s *Server) { s.vendorStore = store }
}

// WithResultStore overrides the validation result store (used in tests)
func WithResultStore(store validation.Store) Option {
	return func(s *Server) { s.resultStore = store }
}

// WithTamperChecker overrides the document tampering analyzer
func WithTamperChecker(tc extraction.TamperChecker) Option {
	return func(s *Server) { s.tamperChecker = tc }
}

// WithExtractor overrides the document extractor
func WithExtractor(ex extraction.Extractor) Option {
	return func(s *Server) { s.extractor = ex }
}

// WithOracle overrides the decision oracle client
func WithOracle(client oracle.Client) Option {
	return func(s *Server) { s.oracleClient = client }
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		format := "text"
		if cfg.IsProduction() {
			format = "json"
		}
		s.logger = logging.New(cfg.LogLevel, format)
	}

	// Storage: PostgreSQL when configured, in-memory otherwise
	if s.vendorStore == nil || s.resultStore == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}

			pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = db.PingContext(pingCtx)
			cancel()
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("ping database: %w", err)
			}

			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
			s.db = db
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

			if s.vendorStore == nil {
				store := vendors.NewPostgresStore(db, vendors.SubstringStrategy{})
				if err := store.Migrate(context.Background()); err != nil {
					s.logger.Warn("vendor store migration failed", "error", err)
				}
				s.vendorStore = store
			}
			if s.resultStore == nil {
				store := validation.NewPostgresStore(db)
				if err := store.Migrate(context.Background()); err != nil {
					s.logger.Warn("result store migration failed", "error", err)
				}
				s.resultStore = store
			}
		} else {
			s.logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
			if s.vendorStore == nil {
				s.vendorStore = vendors.NewMemoryStore(vendors.SubstringStrategy{})
			}
			if s.resultStore == nil {
				s.resultStore = validation.NewMemoryStore()
			}
		}
	}

	s.engine = vendors.NewEngine(s.vendorStore,
		vendors.WithLogger(s.logger.With("component", "vendors")))
	s.signer = signing.NewSigner(cfg.SigningSecret)

	if s.oracleClient == nil {
		if cfg.OracleURL != "" {
			if cfg.IsProduction() {
				if err := security.ValidateEndpointURL(cfg.OracleURL); err != nil {
					if s.db != nil {
						s.db.Close()
					}
					return nil, fmt.Errorf("invalid ORACLE_URL: %w", err)
				}
			}
			s.oracleClient = oracle.NewHTTPClient(cfg.OracleURL, cfg.OracleAPIKey,
				cfg.OracleTimeout, cfg.OracleMaxAttempts)
		} else {
			// Without an oracle every judgment comes back undetermined;
			// local checks still run.
			s.logger.Warn("no ORACLE_URL configured, external judgments disabled")
			s.oracleClient = &oracle.Static{}
		}
	}

	// Without an OCR backend the server runs in pre-extracted mode:
	// clients submit structured invoice JSON and documents are taken
	// at face value.
	if s.extractor == nil {
		s.extractor = extraction.JSONExtractor{}
	}
	if s.tamperChecker == nil {
		s.tamperChecker = &extraction.StaticTamperChecker{}
	}

	orchestrator, err := pipeline.New(pipeline.Deps{
		TamperChecker:    s.tamperChecker,
		Extractor:        s.extractor,
		Oracle:           s.oracleClient,
		Rules:            rules.NewService(),
		Signer:           s.signer,
		Engine:           s.engine,
		ProfilingEnabled: cfg.ProfilingEnabled,
		Logger:           s.logger.With("component", "pipeline"),
	})
	if err != nil {
		if s.db != nil {
			s.db.Close()
		}
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	s.orchestrator = orchestrator

	s.hub = realtime.NewHub(s.logger.With("component", "realtime"))

	s.registerChecks()

	// Setup router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) registerChecks() {
	if s.db != nil {
		db := s.db
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Healthy: false, Detail: err.Error()}
			}
			return health.Status{Healthy: true}
		})
	} else {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			return health.Status{Healthy: true, Detail: "in-memory"}
		})
	}

	s.checks.Register("signer", func(ctx context.Context) health.Status {
		if s.signer == nil {
			return health.Status{Healthy: false, Detail: "no signing secret"}
		}
		return health.Status{Healthy: true}
	})
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

	// CORS
	origins := strings.Split(s.cfg.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (4MB, scanned invoices can be large)
	s.router.Use(sanitize.RequestSizeMiddleware(sanitize.MaxRequestSize))

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
	s.router.GET("/", s.infoHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", s.wsStatsHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// Validation lifecycle
	v1.POST("/validations", s.submitValidation)
	v1.GET("/validations", s.listValidations)
	v1.GET("/validations/:id", s.getValidation)
	v1.GET("/validations/:id/verify", s.verifyValidation)

	// Vendor trust queries
	vendorHandler := vendors.NewHandler(s.engine, s.vendorStore)
	vendorHandler.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// submitValidation handles POST /v1/validations. It accepts either a
// multipart upload (field "document") or a raw JSON invoice body for
// pre-extracted submissions, runs the full pipeline and returns the
// sealed result.
func (s *Server) submitValidation(c *gin.Context) {
	ctx := c.Request.Context()

	doc, err := s.readDocument(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_document",
			"message": err.Error(),
		})
		return
	}

	result := s.orchestrator.Execute(ctx, doc)

	if err := s.resultStore.Save(ctx, result); err != nil {
		// The caller still gets the result, it just won't be
		// retrievable later.
		logging.L(ctx).Error("failed to save validation result",
			"error", err,
			"validation_id", result.ID,
		)
	}

	s.broadcastResult(result)

	c.JSON(http.StatusCreated, result)
}

func (s *Server) readDocument(c *gin.Context) (*extraction.Document, error) {
	if c.ContentType() == "multipart/form-data" {
		fileHeader, err := c.FormFile("document")
		if err != nil {
			return nil, fmt.Errorf("missing document upload: %w", err)
		}
		f, err := fileHeader.Open()
		if err != nil {
			return nil, fmt.Errorf("open document upload: %w", err)
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read document upload: %w", err)
		}
		if len(data) == 0 {
			return nil, errors.New("uploaded document is empty")
		}
		return &extraction.Document{
			Filename:    fileHeader.Filename,
			ContentType: fileHeader.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("request body is empty")
	}
	return &extraction.Document{
		Filename:    "invoice.json",
		ContentType: "application/json",
		Data:        data,
	}, nil
}

// broadcastResult pushes the outcome to realtime subscribers. Vendor
// anomalies surface as separate events so clients can watch for them
// without parsing full results.
func (s *Server) broadcastResult(result *validation.Result) {
	s.hub.BroadcastValidation(map[string]interface{}{
		"validationId":    result.ID,
		"vendorId":        result.VendorID,
		"isValid":         result.IsValid,
		"riskScore":       float64(result.Fraud.RiskScore),
		"riskLevel":       result.Fraud.RiskLevel,
		"confidenceScore": result.ConfidenceScore,
	})

	for _, ind := range result.Fraud.Indicators {
		if ind.Category != "VendorIssue" {
			continue
		}
		s.hub.BroadcastAnomaly(map[string]interface{}{
			"vendorId":     result.VendorID,
			"validationId": result.ID,
			"description":  ind.Description,
			"severity":     ind.Severity,
			"riskScore":    float64(result.Fraud.RiskScore),
		})
	}
}

func (s *Server) getValidation(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := s.resultStore.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, validation.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No validation result with that ID",
			})
			return
		}
		logging.L(ctx).Error("failed to load validation result", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to load validation result",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) listValidations(c *gin.Context) {
	ctx := c.Request.Context()

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	results, err := s.resultStore.List(ctx, limit)
	if err != nil {
		logging.L(ctx).Error("failed to list validation results", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to list validation results",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"validations": results,
		"count":       len(results),
	})
}

// verifyValidation re-checks the HMAC seal on a stored result so a
// caller can prove the record was not modified after signing.
func (s *Server) verifyValidation(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := s.resultStore.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, validation.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No validation result with that ID",
			})
			return
		}
		logging.L(ctx).Error("failed to load validation result", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to load validation result",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        result.ID,
		"signed":    result.Sealed(),
		"authentic": s.signer.Verify(result),
		"signedAt":  result.SignedAt,
	})
}

func (s *Server) wsStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   Version,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
		"name":        "Bouwdepot Validator",
		"description": "Invoice validation for construction fund escrow",
		"version":     Version,
		"endpoints": gin.H{
			"submit":  "POST /v1/validations",
			"result":  "GET /v1/validations/{id}",
			"verify":  "GET /v1/validations/{id}/verify",
			"vendors": "GET /v1/vendors",
			"stream":  "GET /ws",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"profiling", s.cfg.ProfilingEnabled,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Export connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	// Cancel the context for background goroutines (hub, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
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

// generateRequestID creates a random hex request ID
func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
