package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error renders handler errors as JSON. Domain errors carry their kind in
// the meta so clients can branch on it; unknown errors become an opaque 500.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()
		code, body := resolve(err)

		entry := logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": code,
			"path":   c.Path(),
		})
		if code >= http.StatusInternalServerError {
			entry.Error("Request returned an error")
		} else {
			entry.Debug("Request returned an error")
		}

		body.RequestID = context.GetRequestID(ctx)
		body.TraceID = tracing.GetTraceID(ctx)
		if err := c.JSON(code, body); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("Failed to write error response")
		}
	}
}

func resolve(err error) (int, ErrorResponse) {
	var domainErr *errors.Error
	if errors.As(err, &domainErr) {
		err = domainErr.ToHTTPError()
	}

	if httperror.IsHTTPError(err) {
		httperr := httperror.ToHTTPError(err)
		return httperror.GetStatusCode(err), ErrorResponse{Message: httperr.Error(), Meta: httperr.Meta}
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		body := ErrorResponse{Message: http.StatusText(echoErr.Code)}
		if msg, ok := echoErr.Message.(string); ok {
			body.Message = msg
		}
		return echoErr.Code, body
	}

	return http.StatusInternalServerError, ErrorResponse{Message: http.StatusText(http.StatusInternalServerError)}
}
