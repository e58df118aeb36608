package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
)

// HeaderUserID names the operator performing an admin write.
const HeaderUserID = "X-User-ID"

// SourceAPI is the source stamped on work started over HTTP.
const SourceAPI = appctx.SourceAPI

// Context stamps the request context with a request ID (echoed back in the
// response header), the operator from HeaderUserID and the route template.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			ctx := appctx.SetRequestID(req.Context(), id)
			ctx = appctx.SetUserID(ctx, req.Header.Get(HeaderUserID))
			ctx = appctx.SetSource(ctx, SourceAPI)
			ctx = appctx.SetRoute(ctx, c.Path())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
