package signal

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	signalrepo "github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/entitysignal"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/recompute"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/binding"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type SignalLister interface {
	List(ctx context.Context, filter signalrepo.Filter) ([]models.EntitySignal, error)
}

type Recomputer interface {
	Run(ctx context.Context, trigger models.ImportCompleted) (*recompute.Result, error)
	RetryFailed(ctx context.Context) (*recompute.Result, error)
}

type RunReader interface {
	Latest(ctx context.Context) (*models.RecomputeRun, error)
}

type Handler struct {
	signals SignalLister
	job     Recomputer
	runs    RunReader
}

func NewHandler(signals SignalLister, job Recomputer, runs RunReader) *Handler {
	return &Handler{signals: signals, job: job, runs: runs}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/signals", h.List)
	g.POST("/recompute", h.Recompute)
	g.POST("/recompute/retry", h.Retry)
	g.GET("/recompute/latest", h.Latest)
}

// List returns signals across entities, highest priority first.
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "signal_handler.List")
	defer span.End()

	page := binding.ParsePage(c, 100, 1000)
	filter := signalrepo.Filter{
		Kind:   models.SignalKind(c.QueryParam("kind")),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown signal kind %q", filter.Kind)
	}

	items, err := h.signals.List(ctx, filter)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if items == nil {
		items = []models.EntitySignal{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "limit": page.Limit, "offset": page.Offset})
}

// Recompute runs the job synchronously for the batch in the body. A run
// already holding the lock yields 409.
func (h *Handler) Recompute(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "signal_handler.Recompute")
	defer span.End()

	var req models.ImportCompleted
	if err := binding.Bind(c, &req); err != nil {
		return err
	}

	result, err := h.job.Run(ctx, req)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Retry(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "signal_handler.Retry")
	defer span.End()

	result, err := h.job.RetryFailed(ctx)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if result == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Latest(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "signal_handler.Latest")
	defer span.End()

	run, err := h.runs.Latest(ctx)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if run == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "no recompute has run yet")
	}
	return c.JSON(http.StatusOK, run)
}
