package models

// SourceRecord is an external SKU record as received from a source system
type SourceRecord struct {
	ExternalSKU string         `json:"external_sku" validate:"required"`
	Source      string         `json:"source" validate:"required"`
	Name        string         `json:"name" validate:"required"`
	Brand       string         `json:"brand,omitempty"`
	Category    string         `json:"category,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// BrandValue returns the record's brand, or "" for a missing or placeholder brand.
func (r SourceRecord) BrandValue() string {
	return MeaningfulValue(r.Brand, UnknownBrand)
}

// CategoryValue returns the record's category, or "" for a missing or placeholder category.
func (r SourceRecord) CategoryValue() string {
	return MeaningfulValue(r.Category, Uncategorized)
}
