package identifier

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/aliasmap"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/hierarchy"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/processor"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/binding"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const parseWorkers = 8

type SnapshotSource interface {
	Snapshot(ctx context.Context) (*aliasmap.Snapshot, error)
}

type Auditor interface {
	AuditBatch(ctx context.Context, raws []string) ([]models.AuditFinding, error)
	Conflicts(ctx context.Context) ([]models.AuditFinding, error)
}

type Resolver interface {
	Resolve(ctx context.Context, raws []string) ([]processor.Resolution, error)
}

type BatchRequest struct {
	RawIdentifiers []string `json:"raw_identifiers" validate:"required,min=1,max=10000,dive,required"`
}

type Handler struct {
	snapshots SnapshotSource
	auditor   Auditor
	resolver  Resolver
}

func NewHandler(snapshots SnapshotSource, auditor Auditor, resolver Resolver) *Handler {
	return &Handler{snapshots: snapshots, auditor: auditor, resolver: resolver}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/identifiers/parse", h.Parse)
	g.POST("/identifiers/audit", h.Audit)
	g.POST("/identifiers/resolve", h.Resolve)
	g.GET("/audit/conflicts", h.Conflicts)
}

// Parse splits identifiers into their hierarchy without touching entities.
func (h *Handler) Parse(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "identifier_handler.Parse")
	defer span.End()

	var req BatchRequest
	if err := binding.Bind(c, &req); err != nil {
		return err
	}

	snap, err := h.snapshots.Snapshot(ctx)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	parsed, err := hierarchy.ParseAll(ctx, req.RawIdentifiers, snap, parseWorkers)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": parsed})
}

// Audit reports, read-only, how each identifier would match today.
func (h *Handler) Audit(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "identifier_handler.Audit")
	defer span.End()

	var req BatchRequest
	if err := binding.Bind(c, &req); err != nil {
		return err
	}

	findings, err := h.auditor.AuditBatch(ctx, req.RawIdentifiers)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": findings})
}

func (h *Handler) Resolve(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "identifier_handler.Resolve")
	defer span.End()

	var req BatchRequest
	if err := binding.Bind(c, &req); err != nil {
		return err
	}

	resolutions, err := h.resolver.Resolve(ctx, req.RawIdentifiers)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": resolutions})
}

// Conflicts audits every identifier in the ledger and returns the conflicts.
func (h *Handler) Conflicts(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "identifier_handler.Conflicts")
	defer span.End()

	conflicts, err := h.auditor.Conflicts(ctx)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": conflicts, "count": len(conflicts)})
}
