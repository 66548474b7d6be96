// Package middleware holds the echo middleware shared by the HTTP API.
package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
)

const (
	// HeaderUserID identifies the reviewer making the request
	HeaderUserID = "X-User-ID"
	// HeaderSessionID identifies the reviewer's session
	HeaderSessionID = "X-Session-ID"
)

// Context copies request metadata into the request context. The actor
// headers are trusted as-is; authentication happens in front of the API.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetUserID(ctx, req.Header.Get(HeaderUserID))
			ctx = context.SetSessionID(ctx, req.Header.Get(HeaderSessionID))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
