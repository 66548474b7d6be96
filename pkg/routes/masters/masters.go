package masters

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/database"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// Store reads and seeds master products
type Store interface {
	Get(ctx context.Context, masterID string) (*models.MasterProduct, error)
	Upsert(ctx context.Context, p *models.MasterProduct) (*models.MasterProduct, error)
}

// Deactivator retires master products that no mapping uses
type Deactivator interface {
	DeactivateMaster(ctx context.Context, actor models.Actor, masterID string) (*models.MasterProduct, error)
}

// Register registers the master product routes. Handlers resolve the
// Store, the Deactivator and the hooks from the request's dependency
// container.
func Register(g *echo.Group) {
	g.POST("", Upsert)
	g.GET("/:id", Get)
	g.POST("/:id/deactivate", Deactivate)
}

// Upsert seeds or refreshes a master product from the external catalog
// POST /masters
func Upsert(c echo.Context) error {
	body, err := utils.BindRequest[models.CreateMasterProductRequest](c)
	if err != nil {
		return err
	}

	ctx, store, err := ectoinject.GetContext[Store](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, hooks, err := ectoinject.GetContext[*events.Hooks](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	product, err := store.Upsert(ctx, &models.MasterProduct{
		MasterID:          body.MasterID,
		CanonicalName:     body.CanonicalName,
		CanonicalBrand:    body.CanonicalBrand,
		CanonicalCategory: body.CanonicalCategory,
		Description:       body.Description,
		Attributes:        database.NewJSONB(body.Attributes),
		Status:            models.MasterProductStatusActive,
	})
	if err != nil {
		return err
	}

	hooks.Invalidate(ctx, "", product.MasterID)
	return c.JSON(http.StatusOK, product)
}

// Get returns one master product
// GET /masters/:id
func Get(c echo.Context) error {
	ctx, store, err := ectoinject.GetContext[Store](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	product, err := store.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, product)
}

// Deactivate retires a master product
// POST /masters/:id/deactivate
func Deactivate(c echo.Context) error {
	ctx, deactivator, err := ectoinject.GetContext[Deactivator](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	product, err := deactivator.DeactivateMaster(ctx, appctx.ActorFromRequest(ctx), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, product)
}
