// Package routes mounts the admin and read API under /api/v1.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/alias"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/deadletter"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/entity"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/identifier"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/signal"
)

type Handlers struct {
	Aliases     *alias.Handler
	Identifiers *identifier.Handler
	Entities    *entity.Handler
	Signals     *signal.Handler
	// DeadLetters may be nil; the dead-letter routes are then not mounted.
	DeadLetters *deadletter.Handler
}

func Register(e *echo.Echo, h Handlers) {
	api := e.Group("/api/v1")

	h.Aliases.Register(api)
	h.Identifiers.Register(api)
	h.Signals.Register(api)
	h.Entities.Register(api.Group("/entities"))
	if h.DeadLetters != nil {
		h.DeadLetters.Register(api.Group("/dead-letters"))
	}
}
