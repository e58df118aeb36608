package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
)

// Logger writes one line per request and observes its latency under the
// route template, so /entities/:id is one series however many ids are hit.
// Health and metrics scrapes are logged at debug.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			req, res := c.Request(), c.Response()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequestDuration.
				WithLabelValues(req.Method, route, fmt.Sprintf("%dxx", res.Status/100)).
				Observe(elapsed.Seconds())

			ctx := req.Context()
			log := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id": appctx.GetRequestID(ctx),
				"actor":      appctx.GetActor(ctx),
				"method":     req.Method,
				"route":      route,
				"status":     res.Status,
				"elapsed_ms": elapsed.Milliseconds(),
				"bytes_out":  res.Size,
			})
			switch {
			case res.Status >= 500:
				log.Warn("Request failed")
			case isProbe(route):
				log.Debug("Request")
			default:
				log.Info("Request")
			}
			return nil
		}
	}
}

func isProbe(route string) bool {
	return route == "/metrics" || strings.HasPrefix(route, "/api/v1/health")
}
