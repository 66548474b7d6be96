package verification

import (
	"context"
	"sort"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

func strPtr(s string) *string { return &s }

type fakeMappings struct {
	mu        sync.Mutex
	mappings  map[string]*models.SkuMapping
	failNext  error
	updates   int
	lastQuery models.PendingFilter
}

func newFakeMappings(mappings ...models.SkuMapping) *fakeMappings {
	f := &fakeMappings{mappings: map[string]*models.SkuMapping{}}
	for i := range mappings {
		m := mappings[i]
		f.mappings[m.ID] = &m
	}
	return f
}

func (f *fakeMappings) Get(_ context.Context, id string) (*models.SkuMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mappings[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "sku mapping %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMappings) UpdateVerification(_ context.Context, id string, update models.VerificationUpdate) (*models.SkuMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}
	m, ok := f.mappings[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "sku mapping %s not found", id)
	}
	if !models.CanTransition(m.VerificationStatus, update.Status) {
		return nil, errors.New(errors.KindInvalidTransition, "invalid transition")
	}
	f.updates++
	m.VerificationStatus = update.Status
	m.VerifiedBy = &update.VerifiedBy
	if update.Status == models.VerificationStatusRejected {
		m.MasterID = nil
		m.RejectReason = update.Reason
	} else {
		m.MasterID = update.MasterID
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMappings) BulkApprove(ctx context.Context, ids []string, verifiedBy string) ([]models.BulkResult, []models.SkuMapping, error) {
	var (
		results  []models.BulkResult
		approved []models.SkuMapping
	)
	for _, id := range ids {
		m, err := f.Get(ctx, id)
		switch {
		case err != nil:
			results = append(results, models.BulkResult{MappingID: id, ErrorKind: string(errors.KindOf(err)), Error: err.Error()})
		case !m.HasMaster():
			results = append(results, models.BulkResult{MappingID: id, Skipped: true})
		default:
			updated, err := f.UpdateVerification(ctx, id, models.VerificationUpdate{Status: models.VerificationStatusManual, MasterID: m.MasterID, VerifiedBy: verifiedBy})
			if err != nil {
				results = append(results, models.BulkResult{MappingID: id, ErrorKind: string(errors.KindOf(err)), Error: err.Error()})
				continue
			}
			results = append(results, models.BulkResult{MappingID: id, Success: true})
			approved = append(approved, *updated)
		}
	}
	return results, approved, nil
}

func (f *fakeMappings) QueryPending(_ context.Context, filter models.PendingFilter, page, pageSize int) ([]models.SkuMapping, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = filter
	var pending []models.SkuMapping
	for _, m := range f.mappings {
		if m.VerificationStatus == models.VerificationStatusPending {
			pending = append(pending, *m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ConfidenceScore > pending[j].ConfidenceScore })
	total := len(pending)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := min(start+pageSize, total)
	return pending[start:end], total, nil
}

type fakeProducts struct {
	mu       sync.Mutex
	products map[string]*models.MasterProduct
}

func newFakeProducts(products ...models.MasterProduct) *fakeProducts {
	f := &fakeProducts{products: map[string]*models.MasterProduct{}}
	for i := range products {
		p := products[i]
		f.products[p.MasterID] = &p
	}
	return f
}

func (f *fakeProducts) Get(_ context.Context, id string) (*models.MasterProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "master product %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProducts) Create(_ context.Context, p *models.MasterProduct) (*models.MasterProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[p.MasterID]; ok {
		return nil, errors.New(errors.KindDuplicateMasterID, "taken")
	}
	cp := *p
	f.products[p.MasterID] = &cp
	return p, nil
}

func (f *fakeProducts) Deactivate(_ context.Context, id string) (*models.MasterProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "master product %s not found", id)
	}
	p.Status = models.MasterProductStatusInactive
	cp := *p
	return &cp, nil
}

type fakeRanker struct{}

func (fakeRanker) FindSimilarProducts(_ context.Context, mappingID string, _ int) ([]models.MatchCandidate, error) {
	return []models.MatchCandidate{{MasterID: "MP-1", MatchType: models.MatchTypeExactName, MatchScore: 0.95}}, nil
}

func (fakeRanker) Breakdown(_ models.SourceRecord, _ *models.MasterProduct) models.ConfidenceBreakdown {
	name := 0.4
	return models.ConfidenceBreakdown{Name: &name, Total: 0.4}
}
