package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	auditcontext "github.com/tracklane/tracklane/internal/auditcontext"
	obscontext "github.com/tracklane/tracklane/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware assigns every request an ID, threads it through the context
// for log and audit attribution, and emits one structured line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := c.Request.Context()
		ctx = obscontext.WithRequestID(ctx, requestID)
		ctx = auditcontext.WithRequestID(ctx, requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unknown"
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", nonNegative(c.Request.ContentLength)),
			zap.Int("bytes_out", nonNegative(c.Writer.Size())),
		}
		if projectKey := strings.TrimSpace(c.Param("projectKey")); projectKey != "" {
			fields = append(fields, zap.String("project_key", projectKey))
		}

		var errorType, errorCode string
		if lastErr := c.Errors.Last(); lastErr != nil {
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		emitRequestLog(FromContext(c.Request.Context()), requestLogLevel(route, status, errorType), fields)
	}
}

// ensureRequestID honors an inbound X-Request-Id so multi-hop traces keep one
// ID, and mints a UUID otherwise. The ID is echoed back on the response.
func ensureRequestID(c *gin.Context) string {
	var requestID string
	for _, candidate := range []string{
		c.GetHeader("X-Request-Id"),
		c.GetHeader("X-Request-ID"),
		c.GetString("request_id"),
	} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			requestID = candidate
			break
		}
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

// requestLogLevel drops metric scrapes and client-side validation noise on
// the busy task-write routes down to debug; 5xx always logs as error.
func requestLogLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case isMetricsRoute(route):
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case isTaskWriteRoute(route) && status >= http.StatusBadRequest && errorType == "validation_error":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func emitRequestLog(log *zap.Logger, level zapcore.Level, fields []zap.Field) {
	if log == nil {
		return
	}
	switch level {
	case zapcore.DebugLevel:
		log.Debug("http_request", fields...)
	case zapcore.ErrorLevel:
		log.Error("http_request", fields...)
	default:
		log.Info("http_request", fields...)
	}
}

func isMetricsRoute(route string) bool {
	return strings.EqualFold(strings.TrimSpace(route), "/metrics")
}

// isTaskWriteRoute matches the high-volume board mutation routes whose client
// validation noise would otherwise dominate the logs.
func isTaskWriteRoute(route string) bool {
	switch strings.TrimSpace(route) {
	case "/api/projects/:projectKey/tasks",
		"/api/projects/:projectKey/tasks/:id",
		"/api/projects/:projectKey/tasks/:id/move":
		return true
	default:
		return false
	}
}

func nonNegative[T int | int64](value T) T {
	if value < 0 {
		return 0
	}
	return value
}
