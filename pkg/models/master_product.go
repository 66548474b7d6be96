package models

import (
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
)

type MasterProductStatus string

const (
	MasterProductStatusActive   MasterProductStatus = "active"
	MasterProductStatusInactive MasterProductStatus = "inactive"
)

// Placeholder values stored when a product has no real brand or category.
// They are distinct from NULL but never count as a match.
const (
	UnknownBrand  = "unknown brand"
	Uncategorized = "uncategorized"
)

// MasterProduct is the canonical record external SKUs are mapped onto
type MasterProduct struct {
	MasterID          string                          `json:"master_id" db:"master_id"`
	CanonicalName     string                          `json:"canonical_name" db:"canonical_name"`
	CanonicalBrand    *string                         `json:"canonical_brand,omitempty" db:"canonical_brand"`
	CanonicalCategory *string                         `json:"canonical_category,omitempty" db:"canonical_category"`
	Description       *string                         `json:"description,omitempty" db:"description"`
	Attributes        database.JSONB[map[string]any] `json:"attributes" db:"attributes"`
	Status            MasterProductStatus             `json:"status" db:"status"`
	CreatedAt         time.Time                       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time                       `json:"updated_at" db:"updated_at"`
}

// Brand returns the canonical brand, or "" when unset or a placeholder.
func (p *MasterProduct) Brand() string {
	return meaningful(p.CanonicalBrand, UnknownBrand)
}

// Category returns the canonical category, or "" when unset or a placeholder.
func (p *MasterProduct) Category() string {
	return meaningful(p.CanonicalCategory, Uncategorized)
}

func (p *MasterProduct) IsActive() bool {
	return p.Status == MasterProductStatusActive
}

func meaningful(v *string, sentinel string) string {
	if v == nil {
		return ""
	}
	return MeaningfulValue(*v, sentinel)
}

// MeaningfulValue trims v and blanks it out when it equals the placeholder.
func MeaningfulValue(v, sentinel string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, sentinel) {
		return ""
	}
	return v
}

// MasterFields are the explicit fields for a new master product. Empty
// fields fall back to the source record.
type MasterFields struct {
	CanonicalName     string         `json:"canonical_name"`
	CanonicalBrand    string         `json:"canonical_brand"`
	CanonicalCategory string         `json:"canonical_category"`
	Description       string         `json:"description"`
	Attributes        map[string]any `json:"attributes"`
}

// CreateMasterProductRequest seeds a master product from an external catalog
type CreateMasterProductRequest struct {
	MasterID          string         `json:"master_id" validate:"required,max=64"`
	CanonicalName     string         `json:"canonical_name" validate:"required"`
	CanonicalBrand    *string        `json:"canonical_brand,omitempty"`
	CanonicalCategory *string        `json:"canonical_category,omitempty"`
	Description       *string        `json:"description,omitempty"`
	Attributes        map[string]any `json:"attributes,omitempty"`
}
