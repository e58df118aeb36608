package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error is the echo error handler. 5xx are logged at error level with the
// cause; client errors only at debug.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()
		resp, code := describe(err)
		resp.RequestID = appctx.GetRequestID(ctx)
		resp.TraceID = tracing.GetTraceID(ctx)

		log := logger.WithContext(ctx).WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			log.Error("Request failed")
		} else {
			log.Debug("Request rejected")
		}
		_ = c.JSON(code, resp)
	}
}

// describe maps echo's own errors (404 routes, 405, bind failures) as-is and
// everything else through the domain sentinel table.
func describe(err error) (ErrorResponse, int) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return ErrorResponse{Message: msg, Meta: map[string]any{}}, he.Code
	}

	mapped := canonerr.ToHTTPError(err)
	herr := httperror.ToHTTPError(mapped)
	meta := herr.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return ErrorResponse{Message: herr.Error(), Meta: meta}, httperror.GetStatusCode(mapped)
}
