package verification

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
	"github.com/Ramsey-B/clover/pkg/verification"
)

const defaultCandidateLimit = 10

// Workflow is the review workflow behind the verification endpoints
type Workflow interface {
	GetPendingItems(ctx context.Context, filter models.PendingFilter, page, pageSize int) (*verification.PendingPage, error)
	FindSimilarProducts(ctx context.Context, mappingID string, limit int) ([]models.MatchCandidate, error)
	Approve(ctx context.Context, actor models.Actor, mappingID, masterID string) (*models.SkuMapping, error)
	Reject(ctx context.Context, actor models.Actor, mappingID, reason string) (*models.SkuMapping, error)
	CreateNewMaster(ctx context.Context, actor models.Actor, mappingID string, fields models.MasterFields) (*models.SkuMapping, *models.MasterProduct, error)
	BulkApprove(ctx context.Context, actor models.Actor, mappingIDs []string) ([]models.BulkResult, error)
}

// Register registers the review queue routes. Handlers resolve the
// Workflow and the logger from the request's dependency container.
func Register(g *echo.Group) {
	g.GET("/pending", ListPending)
	g.POST("/bulk-approve", BulkApprove)
	g.GET("/:id/candidates", Candidates)
	g.POST("/:id/approve", Approve)
	g.POST("/:id/reject", Reject)
	g.POST("/:id/new-master", CreateNewMaster)
}

func errUnavailable() error {
	return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
}

// ListPending returns a page of the review queue
// GET /verification/pending
func ListPending(c echo.Context) error {
	filter, page, pageSize, err := pendingQuery(c)
	if err != nil {
		return err
	}

	ctx, workflow, err := ectoinject.GetContext[Workflow](c.Request().Context())
	if err != nil {
		return errUnavailable()
	}

	result, err := workflow.GetPendingItems(ctx, filter, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func pendingQuery(c echo.Context) (filter models.PendingFilter, page, pageSize int, err error) {
	if page, err = utils.QueryInt(c, "page", 1); err != nil {
		return
	}
	if pageSize, err = utils.QueryInt(c, "page_size", models.DefaultPageSize); err != nil {
		return
	}
	if filter.MinConfidence, err = utils.QueryFloat(c, "min_confidence"); err != nil {
		return
	}
	if filter.MaxConfidence, err = utils.QueryFloat(c, "max_confidence"); err != nil {
		return
	}
	if filter.NoMatches, err = utils.QueryBool(c, "no_matches"); err != nil {
		return
	}
	filter.Band = models.ConfidenceBand(c.QueryParam("band"))
	filter.Source = c.QueryParam("source")
	return
}

// Candidates ranks master products for a mapping
// GET /verification/:id/candidates
func Candidates(c echo.Context) error {
	limit, err := utils.QueryInt(c, "limit", defaultCandidateLimit)
	if err != nil {
		return err
	}

	ctx, workflow, err := ectoinject.GetContext[Workflow](c.Request().Context())
	if err != nil {
		return errUnavailable()
	}

	candidates, err := workflow.FindSimilarProducts(ctx, c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"candidates": candidates})
}

// Approve confirms a mapping, optionally to a different master
// POST /verification/:id/approve
func Approve(c echo.Context) error {
	body, err := utils.BindRequest[models.ApproveRequest](c)
	if err != nil {
		return err
	}

	ctx, workflow, err := ectoinject.GetContext[Workflow](c.Request().Context())
	if err != nil {
		return errUnavailable()
	}

	mapping, err := workflow.Approve(ctx, appctx.ActorFromRequest(ctx), c.Param("id"), body.MasterID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapping)
}

// Reject marks a mapping as having no master
// POST /verification/:id/reject
func Reject(c echo.Context) error {
	body, err := utils.BindRequest[models.RejectRequest](c)
	if err != nil {
		return err
	}

	ctx, workflow, err := ectoinject.GetContext[Workflow](c.Request().Context())
	if err != nil {
		return errUnavailable()
	}

	mapping, err := workflow.Reject(ctx, appctx.ActorFromRequest(ctx), c.Param("id"), body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mapping)
}

type newMasterResponse struct {
	Mapping *models.SkuMapping    `json:"mapping"`
	Master  *models.MasterProduct `json:"master"`
}

// CreateNewMaster creates a master product from the mapping's record and
// links the mapping to it
// POST /verification/:id/new-master
func CreateNewMaster(c echo.Context) error {
	body, err := utils.BindRequest[models.MasterFields](c)
	if err != nil {
		return err
	}

	ctx, workflow, err := ectoinject.GetContext[Workflow](c.Request().Context())
	if err != nil {
		return errUnavailable()
	}

	mapping, master, err := workflow.CreateNewMaster(ctx, appctx.ActorFromRequest(ctx), c.Param("id"), body)
	if err != nil {
		return err
	}

	if _, logger, err := ectoinject.GetContext[ectologger.Logger](ctx); err == nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"mapping_id": mapping.ID,
			"master_id":  master.MasterID,
		}).Info("Created master product from mapping")
	}

	return c.JSON(http.StatusCreated, newMasterResponse{Mapping: mapping, Master: master})
}

type bulkApproveResponse struct {
	Results   []models.BulkResult `json:"results"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// BulkApprove confirms the suggested master of many mappings at once
// POST /verification/bulk-approve
func BulkApprove(c echo.Context) error {
	body, err := utils.BindRequest[models.BulkApproveRequest](c)
	if err != nil {
		return err
	}

	ctx, workflow, err := ectoinject.GetContext[Workflow](c.Request().Context())
	if err != nil {
		return errUnavailable()
	}

	results, err := workflow.BulkApprove(ctx, appctx.ActorFromRequest(ctx), body.MappingIDs)
	if err != nil {
		return err
	}

	resp := bulkApproveResponse{Results: results}
	for _, r := range results {
		if r.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return c.JSON(http.StatusOK, resp)
}
