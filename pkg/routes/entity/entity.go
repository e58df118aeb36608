package entity

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/audit"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/binding"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type EntityReader interface {
	Get(ctx context.Context, id string) (*models.Entity, error)
}

type Lifecycle interface {
	MergeEntities(ctx context.Context, sourceID, targetID string) (*audit.MergeResult, error)
	DeactivateEntity(ctx context.Context, id, reason string) error
}

type Records interface {
	Add(ctx context.Context, entityID string, input models.RecordInput, makePrimary bool) (*models.RelatedRecord, error)
	Primary(ctx context.Context, kind models.RecordKind, entityID string) (*models.RelatedRecord, error)
	SetPrimary(ctx context.Context, kind models.RecordKind, entityID, recordID string) (*models.RelatedRecord, error)
	Deactivate(ctx context.Context, kind models.RecordKind, entityID, recordID string) error
	List(ctx context.Context, kind models.RecordKind, entityID string, activeOnly bool) ([]models.RelatedRecord, error)
}

type Assignments interface {
	OpenAssignment(ctx context.Context, entityID, owner string, at time.Time) (*models.AssignmentPeriod, bool, error)
	CloseAssignment(ctx context.Context, entityID string, at time.Time) (*models.AssignmentPeriod, error)
	History(ctx context.Context, entityID string) ([]models.AssignmentPeriod, error)
}

type MetricsReader interface {
	Get(ctx context.Context, entityID string) (*models.EntityMetrics, error)
}

type SignalReader interface {
	ListByEntity(ctx context.Context, entityID string) ([]models.EntitySignal, error)
}

type AuditLog interface {
	ListByEntity(ctx context.Context, entityID string, limit int) ([]models.AuditLogEntry, error)
}

type MergeRequest struct {
	TargetEntityID string `json:"target_entity_id" validate:"required"`
}

type DeactivateRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type AssignRequest struct {
	OwnerName string `json:"owner_name" validate:"required,max=200"`
	// AssignedAt defaults to now.
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
}

type AssignResponse struct {
	Period  *models.AssignmentPeriod `json:"period"`
	Changed bool                     `json:"changed"`
}

type Handler struct {
	entities    EntityReader
	lifecycle   Lifecycle
	records     Records
	assignments Assignments
	metrics     MetricsReader
	signals     SignalReader
	auditLog    AuditLog
	now         func() time.Time
}

func NewHandler(entities EntityReader, lifecycle Lifecycle, records Records, assignments Assignments, metrics MetricsReader, signals SignalReader, auditLog AuditLog) *Handler {
	return &Handler{
		entities:    entities,
		lifecycle:   lifecycle,
		records:     records,
		assignments: assignments,
		metrics:     metrics,
		signals:     signals,
		auditLog:    auditLog,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register registers entity routes under /entities
func (h *Handler) Register(g *echo.Group) {
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Deactivate)
	g.POST("/:id/merge", h.Merge)
	g.GET("/:id/audit", h.AuditTrail)

	g.GET("/:id/records/:kind", h.ListRecords)
	g.POST("/:id/records/:kind", h.AddRecord)
	g.GET("/:id/records/:kind/primary", h.GetPrimary)
	g.PUT("/:id/records/:kind/:recordId/primary", h.SetPrimary)
	g.DELETE("/:id/records/:kind/:recordId", h.DeactivateRecord)

	g.GET("/:id/assignments", h.History)
	g.POST("/:id/assignments", h.Assign)
	g.DELETE("/:id/assignments", h.Unassign)

	g.GET("/:id/metrics", h.Metrics)
	g.GET("/:id/signals", h.Signals)
}

func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.Get")
	defer span.End()

	e, err := h.entities.Get(ctx, c.Param("id"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

// Merge folds the entity in the path into the request's target.
func (h *Handler) Merge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.Merge")
	defer span.End()

	var req MergeRequest
	if err := binding.Bind(c, &req); err != nil {
		return err
	}

	result, err := h.lifecycle.MergeEntities(ctx, c.Param("id"), req.TargetEntityID)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Deactivate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.Deactivate")
	defer span.End()

	var req DeactivateRequest
	if c.Request().ContentLength > 0 {
		if err := binding.Bind(c, &req); err != nil {
			return err
		}
	}

	if err := h.lifecycle.DeactivateEntity(ctx, c.Param("id"), req.Reason); err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AuditTrail(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.AuditTrail")
	defer span.End()

	page := binding.ParsePage(c, 100, 1000)
	entries, err := h.auditLog.ListByEntity(ctx, c.Param("id"), page.Limit)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": entries})
}

func recordKind(c echo.Context) (models.RecordKind, error) {
	kind := models.RecordKind(c.Param("kind"))
	if !kind.Valid() {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown record kind %q", kind)
	}
	return kind, nil
}

func (h *Handler) ListRecords(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.ListRecords")
	defer span.End()

	kind, err := recordKind(c)
	if err != nil {
		return err
	}

	records, err := h.records.List(ctx, kind, c.Param("id"), c.QueryParam("include_inactive") != "true")
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": records})
}

// AddRecord decodes the body as the input of the kind in the path. Pass
// ?primary=true to make the new record primary.
func (h *Handler) AddRecord(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.AddRecord")
	defer span.End()

	kind, err := recordKind(c)
	if err != nil {
		return err
	}

	input, err := bindRecord(c, kind)
	if err != nil {
		return err
	}

	makePrimary, _ := strconv.ParseBool(c.QueryParam("primary"))
	rec, err := h.records.Add(ctx, c.Param("id"), input, makePrimary)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func bindRecord(c echo.Context, kind models.RecordKind) (models.RecordInput, error) {
	switch kind {
	case models.RecordKindContact:
		var in models.ContactInput
		if err := binding.Bind(c, &in); err != nil {
			return nil, err
		}
		return in, nil
	case models.RecordKindAddress:
		var in models.AddressInput
		if err := binding.Bind(c, &in); err != nil {
			return nil, err
		}
		return in, nil
	case models.RecordKindSector:
		var in models.SectorInput
		if err := binding.Bind(c, &in); err != nil {
			return nil, err
		}
		return in, nil
	}
	return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown record kind %q", kind)
}

func (h *Handler) GetPrimary(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.GetPrimary")
	defer span.End()

	kind, err := recordKind(c)
	if err != nil {
		return err
	}

	rec, err := h.records.Primary(ctx, kind, c.Param("id"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if rec == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "entity has no primary %s", kind)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) SetPrimary(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.SetPrimary")
	defer span.End()

	kind, err := recordKind(c)
	if err != nil {
		return err
	}

	rec, err := h.records.SetPrimary(ctx, kind, c.Param("id"), c.Param("recordId"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeactivateRecord(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.DeactivateRecord")
	defer span.End()

	kind, err := recordKind(c)
	if err != nil {
		return err
	}

	if err := h.records.Deactivate(ctx, kind, c.Param("id"), c.Param("recordId")); err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) History(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.History")
	defer span.End()

	periods, err := h.assignments.History(ctx, c.Param("id"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": periods})
}

func (h *Handler) Assign(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.Assign")
	defer span.End()

	var req AssignRequest
	if err := binding.Bind(c, &req); err != nil {
		return err
	}
	at := h.now()
	if req.AssignedAt != nil {
		at = *req.AssignedAt
	}

	period, changed, err := h.assignments.OpenAssignment(ctx, c.Param("id"), req.OwnerName, at)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	return c.JSON(status, AssignResponse{Period: period, Changed: changed})
}

func (h *Handler) Unassign(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.Unassign")
	defer span.End()

	closed, err := h.assignments.CloseAssignment(ctx, c.Param("id"), h.now())
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if closed == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, closed)
}

func (h *Handler) Metrics(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.Metrics")
	defer span.End()

	m, err := h.metrics.Get(ctx, c.Param("id"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Signals(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity_handler.Signals")
	defer span.End()

	signals, err := h.signals.ListByEntity(ctx, c.Param("id"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if signals == nil {
		signals = []models.EntitySignal{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": signals})
}
