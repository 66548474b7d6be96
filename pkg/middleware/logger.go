package middleware

import (
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// quietPrefixes are health check and scrape paths logged at debug level
var quietPrefixes = []string{"/health", "/metrics"}

// Logger writes one access log line per request after the error handler
// has set the final status
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			began := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			ctx := req.Context()

			entry := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":  context.GetRequestID(ctx),
				"trace_id":    tracing.GetTraceID(ctx),
				"user_id":     context.GetUserID(ctx),
				"method":      req.Method,
				"route":       c.Path(),
				"path":        req.URL.Path,
				"status":      res.Status,
				"duration_ms": time.Since(began).Milliseconds(),
				"bytes_out":   res.Size,
				"remote_ip":   c.RealIP(),
			})

			switch {
			case res.Status >= 500:
				entry.Error("Request failed")
			case res.Status >= 400:
				entry.Warn("Request rejected")
			case quiet(req.URL.Path):
				entry.Debug("Request")
			default:
				entry.Info("Request")
			}
			return nil
		}
	}
}

func quiet(path string) bool {
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
