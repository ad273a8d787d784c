// internal/api/v2/api.go
package api

import (
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/leafguard-go/internal/artifact"
	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/datastore"
	"github.com/tphakala/leafguard-go/internal/detection"
	"github.com/tphakala/leafguard-go/internal/errors"
	"github.com/tphakala/leafguard-go/internal/logging"
	"github.com/tphakala/leafguard-go/internal/observability"
	"github.com/tphakala/leafguard-go/internal/upload"
)

// ownerHeader carries the caller identity. Every detection route is scoped to
// this value; requests without it are rejected.
const ownerHeader = "X-Owner-ID"

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings
	Store    artifact.Store
	Manager  *detection.Manager

	validator      *upload.Validator
	deriver        *upload.Deriver
	detectionCache *cache.Cache // cache for read-side aggregation queries
	logger         *log.Logger
	apiLogger      *slog.Logger // structured logger for API operations
	apiLevelVar    *slog.LevelVar
	apiLoggerClose func() error
	metrics        *observability.Metrics
	startTime      *time.Time
}

// New creates a new API controller and registers all routes under /api/v2.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	store artifact.Store, manager *detection.Manager,
	logger *log.Logger, metrics *observability.Metrics) (*Controller, error) {

	if logger == nil {
		logger = log.Default()
	}

	c := &Controller{
		Echo:           e,
		DS:             ds,
		Settings:       settings,
		Store:          store,
		Manager:        manager,
		validator:      upload.NewValidator(&settings.Upload),
		deriver:        upload.NewDeriver(store),
		detectionCache: cache.New(5*time.Minute, 10*time.Minute),
		logger:         logger,
		metrics:        metrics,
	}

	// Structured logger for API requests, with rotation. Falls back to a
	// disabled logger when the log file cannot be opened.
	c.apiLevelVar = new(slog.LevelVar)
	c.apiLevelVar.Set(slog.LevelInfo)
	apiLogPath := settings.Main.Log.Path
	if apiLogPath == "" {
		apiLogPath = "logs/web.log"
	}
	apiLogger, closeFunc, err := logging.NewFileLogger(apiLogPath, "api", c.apiLevelVar)
	if err != nil {
		logger.Printf("Warning: failed to initialize API structured logger: %v", err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: c.apiLevelVar})
		c.apiLogger = slog.New(fbHandler).With("service", "api")
		c.apiLoggerClose = func() error { return nil }
	} else {
		c.apiLogger = apiLogger
		c.apiLoggerClose = closeFunc
	}

	c.Group = e.Group("/api/v2")
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.CORS())
	c.Group.Use(middleware.BodyLimit(bodyLimit(settings.Upload.MaxSize)))
	c.Group.Use(c.LoggingMiddleware())

	now := time.Now()
	c.startTime = &now

	c.initRoutes()

	return c, nil
}

// bodyLimit converts the configured upload ceiling to an echo body limit,
// with headroom for the multipart envelope.
func bodyLimit(maxSize int64) string {
	mb := maxSize/(1<<20) + 1
	return fmt.Sprintf("%dM", mb)
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initDetectionRoutes()
	c.initDiseaseRoutes()
}

// LoggingMiddleware creates a middleware function that logs API requests.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()

			err := next(ctx)

			if c.apiLogger == nil {
				return err
			}

			req := ctx.Request()
			res := ctx.Response()

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("query", req.URL.RawQuery),
				slog.Int("status", res.Status),
				slog.String("ip", ctx.RealIP()),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}

			c.apiLogger.LogAttrs(req.Context(), slog.LevelInfo, "API Request", attrs...)

			return err
		}
	}
}

// HealthCheck handles the API health check endpoint.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}

	dbStatus := "connected"
	if _, err := c.DS.GetDiseaseStatistics(ctx.Request().Context()); err != nil {
		dbStatus = "disconnected"
		response["status"] = "degraded"
	}
	response["database_status"] = dbStatus

	if c.startTime != nil {
		uptime := time.Since(*c.startTime)
		response["uptime"] = uptime.String()
		response["uptime_seconds"] = uptime.Seconds()
	}

	return ctx.JSON(http.StatusOK, response)
}

// Shutdown performs cleanup of resources used by the API controller.
func (c *Controller) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			c.logger.Printf("Error closing API log file: %v", err)
		}
	}
	if c.detectionCache != nil {
		c.detectionCache.Flush()
	}
}

// ErrorResponse is the JSON error envelope returned by every handler.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	correlationID := generateCorrelationID()

	var errorStr string
	if err != nil {
		errorStr = err.Error()
	} else {
		errorStr = message
	}

	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	}
}

// generateCorrelationID creates a unique identifier for error tracking using
// cryptographic randomness.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError constructs and returns an appropriate error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	c.logger.Printf("API Error [%s] from %s: %s: %v",
		errorResp.CorrelationID, ctx.RealIP(), message, err)

	if c.apiLogger != nil {
		c.apiLogger.Error("API Error",
			"correlation_id", errorResp.CorrelationID,
			"message", message,
			"error", errorResp.Error,
			"code", code,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"ip", ctx.RealIP(),
		)
	}

	return ctx.JSON(code, errorResp)
}

// HandleServiceError maps an error from the service layer to an HTTP response
// using its category.
func (c *Controller) HandleServiceError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, statusForError(err))
}

// statusForError maps error categories to HTTP status codes. Unrecognized
// errors are treated as internal.
func statusForError(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryClassifier, errors.CategoryTimeout:
		// Timeouts reaching the classifier are upstream failures from the
		// caller's point of view, same as any other classifier error.
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Debug logs debug messages when debug mode is enabled.
func (c *Controller) Debug(format string, v ...any) {
	if c.Settings.Debug {
		msg := fmt.Sprintf(format, v...)
		c.logger.Printf("[DEBUG] %s", msg)
		if c.apiLogger != nil {
			c.apiLogger.Debug(msg)
		}
	}
}

// owner extracts the caller identity from the request header. An empty owner
// is a validation error surfaced as 400 by the caller.
func owner(ctx echo.Context) (string, error) {
	id := ctx.Request().Header.Get(ownerHeader)
	if id == "" {
		return "", errors.Newf("missing %s header", ownerHeader).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return id, nil
}
