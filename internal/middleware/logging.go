package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	Logger *zap.Logger
	// SkipPaths are not logged; probes and scrapes would drown the log
	SkipPaths []string
}

// DefaultLoggingConfig skips the health and metrics endpoints
func DefaultLoggingConfig(logger *zap.Logger) LoggingConfig {
	return LoggingConfig{
		Logger:    logger,
		SkipPaths: []string{"/health", "/health/live", "/health/ready", "/metrics"},
	}
}

// Logging logs every request with its status, latency and request ID
func Logging(logger *zap.Logger) gin.HandlerFunc {
	return LoggingWithConfig(DefaultLoggingConfig(logger))
}

// LoggingWithConfig returns a logging middleware with custom configuration
func LoggingWithConfig(cfg LoggingConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", GetRequestID(c)),
			zap.String("ip", c.ClientIP()),
		}
		if tenant := c.Param("tenant"); tenant != "" {
			fields = append(fields, zap.String("tenant", tenant))
		}
		if route := c.FullPath(); route != "" {
			fields = append(fields, zap.String("route", route))
		}
		if size := c.Writer.Size(); size > 0 {
			fields = append(fields, zap.Int("bytes_out", size))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}

		switch {
		case status >= 500:
			cfg.Logger.Error("HTTP request", fields...)
		case status >= 400:
			cfg.Logger.Warn("HTTP request", fields...)
		default:
			cfg.Logger.Info("HTTP request", fields...)
		}
	}
}
