package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
)

const (
	// RequestIDHeader carries the request ID in and out
	RequestIDHeader = "X-Request-ID"

	requestIDKey     = "request_id"
	requestLoggerKey = "request_logger"
)

// RequestID reuses an incoming X-Request-ID or assigns a new one, echoes it in
// the response and attaches a request-scoped logger to the context
func RequestID(log *logger.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx.Set(requestIDKey, requestID)
		ctx.Set(requestLoggerKey, log.WithRequestID(requestID))
		ctx.Header(RequestIDHeader, requestID)
		ctx.Next()
	}
}

// RequestLogger logs one line per completed request
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		path := ctx.Request.URL.Path

		ctx.Next()

		status := ctx.Writer.Status()
		event := LoggerFromContext(ctx, log).Logger.Info()
		if status >= 500 {
			event = LoggerFromContext(ctx, log).Logger.Error()
		} else if status >= 400 {
			event = LoggerFromContext(ctx, log).Logger.Warn()
		}

		event.
			Str("method", ctx.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", ctx.ClientIP()).
			Msg("HTTP request")
	}
}

// GetRequestIDFromGinContext returns the request ID set by RequestID
func GetRequestIDFromGinContext(ctx *gin.Context) string {
	return ctx.GetString(requestIDKey)
}

// LoggerFromContext returns the request-scoped logger, or fallback when RequestID did not run
func LoggerFromContext(ctx *gin.Context, fallback *logger.Logger) *logger.Logger {
	if v, ok := ctx.Get(requestLoggerKey); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return fallback
}
