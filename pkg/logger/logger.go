// Package logger provides structured logging for the thusd client and its tools,
// including HTTP request logging middleware. Loggers are always passed explicitly to
// the components that need them; there is no package-level logger.
package logger

import (
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds the configuration for logger creation.
type LoggerConfig struct {
	// Debug enables debug-level logging when true, otherwise uses info level
	Debug bool
	// Development switches to the human readable console encoder
	Development bool
}

// NewLogger creates a new structured logger with the specified configuration.
// The logger is configured for production use with JSON encoding and ISO8601 timestamps
// unless Development is set.
//
// Parameters:
//   - cfg: The logger configuration
//   - options: Additional zap options to apply to the logger
//
// Returns:
//   - *zap.Logger: A configured zap logger instance
//   - error: An error if the logger cannot be created
func NewLogger(cfg *LoggerConfig, options ...zap.Option) (*zap.Logger, error) {
	mergedOptions := append([]zap.Option{zap.WithCaller(true)}, options...)

	c := zap.NewProductionConfig()
	c.EncoderConfig = zap.NewProductionEncoderConfig()
	if cfg.Development {
		c = zap.NewDevelopmentConfig()
	}
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Debug {
		c.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return c.Build(mergedOptions...)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// scrapePath matches metrics scrapes, which are logged at debug level
var scrapePath = regexp.MustCompile(`/metrics$`)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HttpLoggerMiddleware creates an HTTP middleware for request logging.
// This middleware logs HTTP requests with method, path, status and duration information.
// Metrics scrapes are logged at debug level, every other request at info level.
//
// Parameters:
//   - next: The next HTTP handler in the middleware chain
//   - l: The zap logger to use for request logging
//
// Returns:
//   - http.Handler: An HTTP handler that logs requests and calls the next handler
func HttpLoggerMiddleware(next http.Handler, l *zap.Logger) http.Handler {
	l = OrNop(l)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		log := l.Sugar().Infow
		if scrapePath.MatchString(r.URL.Path) {
			log = l.Sugar().Debugw
		}
		log("http_request",
			zap.String("system", "http"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
