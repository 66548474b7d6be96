// Package matching finds and scores master product candidates for external
// SKU records and persists the resulting mappings.
package matching

import (
	"math"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/similarity"
)

// Confidence term weights
const (
	NameWeight        = 0.4
	BrandWeight       = 0.3
	CategoryWeight    = 0.2
	ReliabilityWeight = 0.1
)

const DefaultSourceReliability = 0.7

// DefaultReliabilityTable returns the built-in per-source reliability
func DefaultReliabilityTable() map[string]float64 {
	return map[string]float64{
		"internal":      1.0,
		"manual":        1.0,
		"wildberries":   0.9,
		"ozon":          0.9,
		"yandex_market": 0.9,
		"amazon":        0.9,
		"ebay":          0.9,
		"aliexpress":    0.9,
	}
}

// ConfidenceEngine computes how likely a source record and a master product
// describe the same item. Terms are additive and a term is included only
// when both sides carry the attribute, so incomplete records score lower
// instead of being renormalised.
type ConfidenceEngine struct {
	reliability        map[string]float64
	defaultReliability float64
}

// NewConfidenceEngine creates an engine with the default reliability table,
// overridden per source by overrides.
func NewConfidenceEngine(overrides map[string]float64) *ConfidenceEngine {
	table := DefaultReliabilityTable()
	for source, value := range overrides {
		table[normalizers.Source(source)] = clamp01(value)
	}
	return &ConfidenceEngine{
		reliability:        table,
		defaultReliability: DefaultSourceReliability,
	}
}

// Reliability returns the reliability constant of a source
func (e *ConfidenceEngine) Reliability(source string) float64 {
	if v, ok := e.reliability[normalizers.Source(source)]; ok {
		return v
	}
	return e.defaultReliability
}

// Confidence returns the total confidence in [0, 1]
func (e *ConfidenceEngine) Confidence(record models.SourceRecord, product *models.MasterProduct) float64 {
	return e.Breakdown(record, product).Total
}

// Breakdown returns each term's contribution along with the total
func (e *ConfidenceEngine) Breakdown(record models.SourceRecord, product *models.MasterProduct) models.ConfidenceBreakdown {
	var b models.ConfidenceBreakdown
	if product == nil {
		return b
	}

	total := 0.0
	add := func(weight, value float64) *float64 {
		v := weight * value
		total += v
		return &v
	}

	if strings.TrimSpace(record.Name) != "" && strings.TrimSpace(product.CanonicalName) != "" {
		b.Name = add(NameWeight, similarity.Similarity(record.Name, product.CanonicalName))
	}
	if brand := record.BrandValue(); brand != "" && product.Brand() != "" {
		b.Brand = add(BrandWeight, equalScore(brand, product.Brand()))
	}
	if category := record.CategoryValue(); category != "" && product.Category() != "" {
		b.Category = add(CategoryWeight, equalScore(category, product.Category()))
	}
	if strings.TrimSpace(record.Source) != "" {
		b.SourceReliability = add(ReliabilityWeight, e.Reliability(record.Source))
	}

	b.Total = clamp01(math.Round(total*1000) / 1000)
	return b
}

func equalScore(a, b string) float64 {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return 1.0
	}
	return 0.0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
