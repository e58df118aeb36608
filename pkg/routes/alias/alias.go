package alias

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	aliasrepo "github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/alias"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/audit"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/binding"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type Service interface {
	CreateAlias(ctx context.Context, req audit.CreateAliasRequest) (*models.EntityAlias, error)
	DeactivateAlias(ctx context.Context, id string) (*models.EntityAlias, error)
	PutCanonical(ctx context.Context, kind models.EntityType, alias, canonical string) (*models.CanonicalMapping, error)
	DeleteCanonical(ctx context.Context, kind models.EntityType, alias string) (bool, error)
}

type Lister interface {
	List(ctx context.Context, filter aliasrepo.Filter) ([]models.EntityAlias, error)
}

type PutCanonicalRequest struct {
	AliasName     string `json:"alias_name" validate:"required,max=500"`
	CanonicalName string `json:"canonical_name" validate:"required,max=500"`
}

type ListResponse struct {
	Items  []models.EntityAlias `json:"items"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

type Handler struct {
	service Service
	aliases Lister
}

func NewHandler(service Service, aliases Lister) *Handler {
	return &Handler{service: service, aliases: aliases}
}

// Register registers alias and canonical map routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/aliases", h.List)
	g.POST("/aliases", h.Create)
	g.DELETE("/aliases/:id", h.Deactivate)
	g.PUT("/canonical-maps/:kind", h.PutCanonical)
	g.DELETE("/canonical-maps/:kind/:alias", h.DeleteCanonical)
}

func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "alias_handler.List")
	defer span.End()

	page := binding.ParsePage(c, 50, 500)
	filter := aliasrepo.Filter{
		EntityType:     models.EntityType(c.QueryParam("entity_type")),
		TargetEntityID: c.QueryParam("target_entity_id"),
		ActiveOnly:     c.QueryParam("include_inactive") != "true",
		Limit:          page.Limit,
		Offset:         page.Offset,
	}
	if filter.EntityType != "" && !filter.EntityType.Valid() {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown entity_type %q", filter.EntityType)
	}

	items, err := h.aliases.List(ctx, filter)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if items == nil {
		items = []models.EntityAlias{}
	}
	return c.JSON(http.StatusOK, ListResponse{Items: items, Limit: page.Limit, Offset: page.Offset})
}

func (h *Handler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "alias_handler.Create")
	defer span.End()

	var req audit.CreateAliasRequest
	if err := binding.Bind(c, &req); err != nil {
		return err
	}

	created, err := h.service.CreateAlias(ctx, req)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Deactivate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "alias_handler.Deactivate")
	defer span.End()

	a, err := h.service.DeactivateAlias(ctx, c.Param("id"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) PutCanonical(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "alias_handler.PutCanonical")
	defer span.End()

	kind := models.EntityType(c.Param("kind"))
	var req PutCanonicalRequest
	if err := binding.Bind(c, &req); err != nil {
		return err
	}

	mapping, err := h.service.PutCanonical(ctx, kind, req.AliasName, req.CanonicalName)
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, mapping)
}

func (h *Handler) DeleteCanonical(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "alias_handler.DeleteCanonical")
	defer span.End()

	deleted, err := h.service.DeleteCanonical(ctx, models.EntityType(c.Param("kind")), c.Param("alias"))
	if err != nil {
		return canonerr.ToHTTPError(err)
	}
	if !deleted {
		return httperror.NewHTTPError(http.StatusNotFound, "canonical mapping not found")
	}
	return c.NoContent(http.StatusNoContent)
}
