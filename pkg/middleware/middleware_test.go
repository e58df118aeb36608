package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())
	e.Use(Context())
	e.Use(Logger(testLogger()))
	return e
}

func TestError_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid alias target", canonerr.NewEntityError(canonerr.ErrInvalidAliasTarget, "ent-1", "inactive"), http.StatusUnprocessableEntity},
		{"entity not found", canonerr.NewEntityError(canonerr.ErrEntityNotFound, "ent-1", ""), http.StatusNotFound},
		{"run in progress", canonerr.ErrRunInProgress, http.StatusConflict},
		{"merge invalid", canonerr.ErrMergeInvalid, http.StatusBadRequest},
		{"http error keeps status", httperror.NewHTTPError(http.StatusTeapot, "short and stout"), http.StatusTeapot},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho()
			e.GET("/x", func(c echo.Context) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set(echo.HeaderXRequestID, "req-42")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "req-42", body.RequestID)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestContext_PopulatesRequestContext(t *testing.T) {
	e := newEcho()

	var user, source, requestID string
	e.GET("/x", func(c echo.Context) error {
		ctx := c.Request().Context()
		user = appctx.GetActor(ctx)
		source = appctx.GetSource(ctx)
		requestID = appctx.GetRequestID(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderUserID, "ops@example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ops@example.com", user)
	assert.Equal(t, SourceAPI, source)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
}

func TestContext_AnonymousIsSystem(t *testing.T) {
	e := newEcho()

	var actor string
	e.GET("/x", func(c echo.Context) error {
		actor = appctx.GetActor(c.Request().Context())
		return nil
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, appctx.SystemActor, actor)
}

func TestLogger_ObservesRouteTemplate(t *testing.T) {
	e := newEcho()
	e.GET("/entities/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	before := testutil.CollectAndCount(metrics.HTTPRequestDuration)
	for _, id := range []string{"ent-1", "ent-2", "ent-3"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/entities/"+id, nil))
	}

	// three ids, one series
	assert.Equal(t, before+1, testutil.CollectAndCount(metrics.HTTPRequestDuration))
}
