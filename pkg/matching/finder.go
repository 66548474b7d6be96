package matching

import (
	"context"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/similarity"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ExactNameScore is the match score of a case and whitespace insensitive name match
const ExactNameScore = 0.95

// ProductSource reads active master products for candidate search
type ProductSource interface {
	FindByExactName(ctx context.Context, name string) ([]models.MasterProduct, error)
	ListRecentActive(ctx context.Context, limit int) ([]models.MasterProduct, error)
	FindByBrandOrCategory(ctx context.Context, brand, category string, limit int) ([]models.MasterProduct, error)
}

// FinderConfig tunes candidate search
type FinderConfig struct {
	FuzzyWindow    int     // most recent active products scanned by the fuzzy phase
	FuzzyThreshold float64 // minimum name similarity kept by the fuzzy phase
	DefaultLimit   int
}

func DefaultFinderConfig() FinderConfig {
	return FinderConfig{
		FuzzyWindow:    500,
		FuzzyThreshold: 0.6,
		DefaultLimit:   10,
	}
}

// CandidateFinder collects master products that may match a source record.
// It runs an exact name phase, a fuzzy name phase over a bounded window of
// recent products and a brand/category phase, stopping once it has enough.
type CandidateFinder struct {
	products ProductSource
	config   FinderConfig
	logger   ectologger.Logger
}

func NewCandidateFinder(products ProductSource, config FinderConfig, logger ectologger.Logger) *CandidateFinder {
	defaults := DefaultFinderConfig()
	if config.FuzzyWindow <= 0 {
		config.FuzzyWindow = defaults.FuzzyWindow
	}
	if config.FuzzyThreshold <= 0 {
		config.FuzzyThreshold = defaults.FuzzyThreshold
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = defaults.DefaultLimit
	}
	return &CandidateFinder{
		products: products,
		config:   config,
		logger:   logger,
	}
}

// BrandCategoryScore is the rule table of the brand/category phase
func BrandCategoryScore(brandMatch, categoryMatch bool) float64 {
	switch {
	case brandMatch && categoryMatch:
		return 0.8
	case brandMatch:
		return 0.6
	case categoryMatch:
		return 0.5
	default:
		return 0.3
	}
}

type candidateSet struct {
	seen       map[string]struct{}
	candidates []models.MatchCandidate
}

// add keeps the first candidate seen for a master id
func (s *candidateSet) add(c models.MatchCandidate) {
	if _, ok := s.seen[c.MasterID]; ok {
		return
	}
	s.seen[c.MasterID] = struct{}{}
	s.candidates = append(s.candidates, c)
}

func (s *candidateSet) len() int {
	return len(s.candidates)
}

// Find returns at most limit candidates ordered by match score descending.
// Candidates with equal scores keep the order of the phase that found them.
func (f *CandidateFinder) Find(ctx context.Context, record models.SourceRecord, limit int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.CandidateFinder.Find")
	defer span.End()

	if limit <= 0 {
		limit = f.config.DefaultLimit
	}

	set := &candidateSet{seen: map[string]struct{}{}}
	nameKey := normalizers.NameKey(record.Name)

	if nameKey != "" {
		exact, err := f.products.FindByExactName(ctx, record.Name)
		if err != nil {
			return nil, tracing.RecordError(span, err)
		}
		for i := range exact {
			p := &exact[i]
			if normalizers.NameKey(p.CanonicalName) != nameKey {
				continue
			}
			c := f.candidate(record, p, models.MatchTypeExactName)
			c.MatchScore = ExactNameScore
			set.add(c)
		}
	}

	if set.len() < limit && similarity.Normalize(record.Name) != "" {
		recent, err := f.products.ListRecentActive(ctx, f.config.FuzzyWindow)
		if err != nil {
			return nil, tracing.RecordError(span, err)
		}
		for i := range recent {
			p := &recent[i]
			c := f.candidate(record, p, models.MatchTypeFuzzyName)
			if c.NameScore < f.config.FuzzyThreshold {
				continue
			}
			c.MatchScore = c.NameScore
			set.add(c)
		}
	}

	brand, category := record.BrandValue(), record.CategoryValue()
	if set.len() < limit && (brand != "" || category != "") {
		related, err := f.products.FindByBrandOrCategory(ctx, brand, category, limit)
		if err != nil {
			return nil, tracing.RecordError(span, err)
		}
		for i := range related {
			p := &related[i]
			c := f.candidate(record, p, models.MatchTypeBrandCategory)
			c.MatchScore = BrandCategoryScore(c.BrandScore == 1, c.CategoryScore == 1)
			set.add(c)
		}
	}

	candidates := set.candidates
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].MatchScore > candidates[j].MatchScore
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"external_sku": record.ExternalSKU,
		"source":       record.Source,
		"candidates":   len(candidates),
	}).Debug("Found match candidates")

	return candidates, nil
}

func (f *CandidateFinder) candidate(record models.SourceRecord, p *models.MasterProduct, matchType models.MatchType) models.MatchCandidate {
	c := models.MatchCandidate{
		MasterID:  p.MasterID,
		MatchType: matchType,
		NameScore: similarity.Similarity(record.Name, p.CanonicalName),
		Product:   p,
	}
	if brand := record.BrandValue(); brand != "" && strings.EqualFold(brand, p.Brand()) {
		c.BrandScore = 1
	}
	if category := record.CategoryValue(); category != "" && strings.EqualFold(category, p.Category()) {
		c.CategoryScore = 1
	}
	return c
}
