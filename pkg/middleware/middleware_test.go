package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/inject"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

func newServer(handler echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger)
	e.Use(Context())
	e.Use(Logger(testLogger))
	e.GET("/test", handler)
	return e
}

func serve(e *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, ErrorResponse) {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var body ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestContext_CopiesActorHeaders(t *testing.T) {
	var actorID, sessionID, requestID string
	e := newServer(func(c echo.Context) error {
		ctx := c.Request().Context()
		actorID = context.GetUserID(ctx)
		sessionID = context.GetSessionID(ctx)
		requestID = context.GetRequestID(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderUserID, "reviewer-7")
	req.Header.Set(HeaderSessionID, "sess-1")
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec, _ := serve(e, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "reviewer-7", actorID)
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
}

func TestContext_GeneratesRequestID(t *testing.T) {
	e := newServer(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	rec, _ := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestError_StatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"not found", errors.New(errors.KindNotFound, "sku mapping not found"), http.StatusNotFound, "not_found"},
		{"duplicate", errors.New(errors.KindDuplicateMapping, "mapping exists"), http.StatusConflict, "duplicate_mapping"},
		{"transition", errors.New(errors.KindInvalidTransition, "already rejected"), http.StatusUnprocessableEntity, "invalid_transition"},
		{"transient", errors.New(errors.KindTransientStoreFailure, "deadlock"), http.StatusServiceUnavailable, "transient_store_failure"},
		{"wrapped domain", fmt.Errorf("approve: %w", errors.New(errors.KindMissingMasterID, "no master")), http.StatusUnprocessableEntity, "missing_master_id"},
		{"http error", httperror.NewHTTPError(http.StatusBadRequest, "bad body"), http.StatusBadRequest, ""},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, ""},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(func(c echo.Context) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set(echo.HeaderXRequestID, "req-9")
			rec, body := serve(e, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "req-9", body.RequestID)
			if tt.wantKind != "" {
				require.NotNil(t, body.Meta)
				assert.Equal(t, tt.wantKind, body.Meta["kind"])
			}
		})
	}
}

func TestError_HidesInternalMessages(t *testing.T) {
	e := newServer(func(c echo.Context) error { return fmt.Errorf("pq: password authentication failed") })

	_, body := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, "Internal Server Error", body.Message)
}

func TestContainer_SetsActiveContainer(t *testing.T) {
	id := "middleware-" + uuid.NewString()
	container, err := inject.NewContainer(id)
	require.NoError(t, err)
	require.NoError(t, inject.Provide[ectologger.Logger](container, testLogger))

	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger)
	e.Use(Container(id))
	e.GET("/test", func(c echo.Context) error {
		active, err := ectoinject.GetActiveContainer(c.Request().Context())
		if err != nil {
			return err
		}
		if _, _, err := ectoinject.GetContext[ectologger.Logger](c.Request().Context()); err != nil {
			return err
		}
		return c.String(http.StatusOK, active.GetContainerID())
	})

	rec, _ := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, rec.Body.String())
}

func TestContainer_UnknownContainer(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger)
	e.Use(Container("missing-" + uuid.NewString()))
	e.GET("/test", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec, _ := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
