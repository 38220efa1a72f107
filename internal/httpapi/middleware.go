package httpapi

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"suggestbox/api/internal/app"
	"suggestbox/api/internal/logger"
	"suggestbox/api/internal/ratelimit"
)

const (
	requestIDHeader = "X-Request-ID"
	sessionKey      = "staff_session"
)

// RequestID propagates the caller's X-Request-ID or assigns one, and puts it
// on the request context for the log handler.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{RequestID: requestID})
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func CORS(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		header.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
		header.Set("Cache-Control", "no-store")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeError(c, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			}
		}()
		c.Next()
	}
}

// Logger writes one line per request. Query strings are left out since
// they never carry anything the log needs.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}

// requireStaff resolves the bearer token into a session and stores it on
// the gin context.
func requireStaff(svc *app.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := svc.SessionFromToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			return
		}
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{StaffID: logger.Ptr(session.StaffID)})
		c.Request = c.Request.WithContext(ctx)
		c.Set(sessionKey, session)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) app.Session {
	session, _ := c.MustGet(sessionKey).(app.Session)
	return session
}

// throttle applies limiter per client IP. Limiter failures let the request
// through.
func throttle(limiter ratelimit.Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if err != nil {
			slog.WarnContext(c.Request.Context(), "rate limiter unavailable", "error", err, "scope", scope)
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(app.RetryAfterSeconds(result.RetryAfter)))
			respondError(c, app.RateLimited(result.RetryAfter))
			return
		}
		c.Next()
	}
}
