package verification

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// PendingItem is a mapping awaiting review with its suggested master and
// the current confidence terms against it
type PendingItem struct {
	Mapping   models.SkuMapping           `json:"mapping"`
	Suggested *models.MasterProduct       `json:"suggested_master,omitempty"`
	Breakdown *models.ConfidenceBreakdown `json:"confidence_breakdown,omitempty"`
}

type PendingPage struct {
	Items      []PendingItem     `json:"items"`
	Pagination models.Pagination `json:"pagination"`
}

// GetPendingItems returns one page of the review queue
func (w *Workflow) GetPendingItems(ctx context.Context, filter models.PendingFilter, page, pageSize int) (*PendingPage, error) {
	ctx, span := tracing.StartSpan(ctx, "verification.Workflow.GetPendingItems")
	defer span.End()

	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	page, pageSize = models.NormalizePage(page, pageSize)

	mappings, total, err := w.mappings.QueryPending(ctx, filter, page, pageSize)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	products := map[string]*models.MasterProduct{}
	items := make([]PendingItem, 0, len(mappings))
	for _, m := range mappings {
		item := PendingItem{Mapping: m}
		if m.HasMaster() {
			product, ok := products[*m.MasterID]
			if !ok {
				product, err = w.products.Get(ctx, *m.MasterID)
				if err != nil && !errors.IsKind(err, errors.KindNotFound) {
					return nil, tracing.RecordError(span, err)
				}
				products[*m.MasterID] = product
			}
			if product != nil {
				breakdown := w.candidates.Breakdown(m.Record(), product)
				item.Suggested = product
				item.Breakdown = &breakdown
			}
		}
		items = append(items, item)
	}

	return &PendingPage{
		Items:      items,
		Pagination: models.NewPagination(page, pageSize, total),
	}, nil
}

func validateFilter(filter models.PendingFilter) error {
	if filter.Band != "" {
		if _, _, ok := filter.Band.Range(); !ok {
			return errors.Newf(errors.KindValidation, "unknown confidence band %q", filter.Band)
		}
	}
	inRange := func(v *float64) bool { return v == nil || (*v >= 0 && *v <= 1) }
	if !inRange(filter.MinConfidence) || !inRange(filter.MaxConfidence) {
		return errors.New(errors.KindValidation, "confidence bounds must be between 0 and 1")
	}
	if filter.MinConfidence != nil && filter.MaxConfidence != nil && *filter.MinConfidence > *filter.MaxConfidence {
		return errors.New(errors.KindValidation, "min_confidence is greater than max_confidence")
	}
	return nil
}

// FindSimilarProducts ranks master products for a mapping without changing it
func (w *Workflow) FindSimilarProducts(ctx context.Context, mappingID string, limit int) ([]models.MatchCandidate, error) {
	return w.candidates.FindSimilarProducts(ctx, mappingID, limit)
}
