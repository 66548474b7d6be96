package matching

import (
	"context"
	"strings"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

func strPtr(s string) *string { return &s }

func product(id, name, brand, category string) models.MasterProduct {
	p := models.MasterProduct{MasterID: id, CanonicalName: name, Status: models.MasterProductStatusActive}
	if brand != "" {
		p.CanonicalBrand = strPtr(brand)
	}
	if category != "" {
		p.CanonicalCategory = strPtr(category)
	}
	return p
}

// fakeProducts holds products newest first
type fakeProducts struct {
	products    []models.MasterProduct
	recentCalls int
	brandCalls  int
}

func (f *fakeProducts) FindByExactName(_ context.Context, name string) ([]models.MasterProduct, error) {
	var out []models.MasterProduct
	for _, p := range f.products {
		if normalizers.NameKey(p.CanonicalName) == normalizers.NameKey(name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProducts) ListRecentActive(_ context.Context, limit int) ([]models.MasterProduct, error) {
	f.recentCalls++
	if limit > len(f.products) {
		limit = len(f.products)
	}
	return f.products[:limit], nil
}

func (f *fakeProducts) FindByBrandOrCategory(_ context.Context, brand, category string, limit int) ([]models.MasterProduct, error) {
	f.brandCalls++
	var out []models.MasterProduct
	for _, p := range f.products {
		if (brand != "" && strings.EqualFold(p.Brand(), brand)) || (category != "" && strings.EqualFold(p.Category(), category)) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeMappings struct {
	mu       sync.Mutex
	mappings map[string]*models.SkuMapping
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{mappings: map[string]*models.SkuMapping{}}
}

func (f *fakeMappings) Create(_ context.Context, m *models.SkuMapping) (*models.SkuMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.mappings {
		if existing.ExternalSKU == m.ExternalSKU && existing.Source == m.Source {
			return nil, errors.New(errors.KindDuplicateMapping, "duplicate")
		}
	}
	cp := *m
	cp.ID = uuid.New().String()
	f.mappings[cp.ID] = &cp
	return &cp, nil
}

func (f *fakeMappings) Get(_ context.Context, id string) (*models.SkuMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mappings[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "not found")
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMappings) GetBySourceSKU(_ context.Context, externalSKU, source string) (*models.SkuMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mappings {
		if m.ExternalSKU == externalSKU && m.Source == source {
			cp := *m
			return &cp, nil
		}
	}
	return nil, errors.New(errors.KindNotFound, "not found")
}

func (f *fakeMappings) UpdateSuggestion(_ context.Context, id string, masterID *string, confidence float64) (*models.SkuMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mappings[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "not found")
	}
	if m.VerificationStatus != models.VerificationStatusPending {
		return nil, errors.New(errors.KindInvalidTransition, "not pending")
	}
	m.MasterID = masterID
	m.ConfidenceScore = confidence
	cp := *m
	return &cp, nil
}

func (f *fakeMappings) CountPending(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.mappings {
		if m.VerificationStatus == models.VerificationStatusPending {
			n++
		}
	}
	return n, nil
}
