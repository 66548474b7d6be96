package models

// MatchType records which finder phase produced a candidate
type MatchType string

const (
	MatchTypeExactName     MatchType = "exact_name"
	MatchTypeFuzzyName     MatchType = "fuzzy_name"
	MatchTypeBrandCategory MatchType = "brand_category"
)

// MatchCandidate is a scored, unsaved pairing of a source record with a master product
type MatchCandidate struct {
	MasterID      string         `json:"master_id"`
	NameScore     float64        `json:"name_score"`
	BrandScore    float64        `json:"brand_score"`
	CategoryScore float64        `json:"category_score"`
	MatchScore    float64        `json:"match_score"`
	MatchType     MatchType      `json:"match_type"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Product       *MasterProduct `json:"product,omitempty"`
}

// ConfidenceBreakdown holds the contribution of each confidence term.
// A nil term was omitted because one side lacked the attribute.
type ConfidenceBreakdown struct {
	Name              *float64 `json:"name,omitempty"`
	Brand             *float64 `json:"brand,omitempty"`
	Category          *float64 `json:"category,omitempty"`
	SourceReliability *float64 `json:"source_reliability,omitempty"`
	Total             float64  `json:"total"`
}
