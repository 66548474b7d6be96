package models

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/database"
)

// VerificationStatus is the review state of a SKU mapping
type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"  // awaiting human review
	VerificationStatusAuto     VerificationStatus = "auto"     // accepted by the matcher above the auto-accept threshold
	VerificationStatusManual   VerificationStatus = "manual"   // approved by a reviewer
	VerificationStatusRejected VerificationStatus = "rejected" // declined by a reviewer, master cleared
)

// SkuMapping links one source's SKU to at most one master product
type SkuMapping struct {
	ID                 string                          `json:"id" db:"id"`
	ExternalSKU        string                          `json:"external_sku" db:"external_sku"`
	Source             string                          `json:"source" db:"source"`
	SourceName         string                          `json:"source_name" db:"source_name"`
	SourceBrand        *string                         `json:"source_brand,omitempty" db:"source_brand"`
	SourceCategory     *string                         `json:"source_category,omitempty" db:"source_category"`
	SourceAttributes   database.JSONB[map[string]any] `json:"source_attributes" db:"source_attributes"`
	MasterID           *string                         `json:"master_id,omitempty" db:"master_id"`
	ConfidenceScore    float64                         `json:"confidence_score" db:"confidence_score"`
	VerificationStatus VerificationStatus              `json:"verification_status" db:"verification_status"`
	RejectReason       *string                         `json:"reject_reason,omitempty" db:"reject_reason"`
	VerifiedBy         *string                         `json:"verified_by,omitempty" db:"verified_by"`
	VerifiedAt         *time.Time                      `json:"verified_at,omitempty" db:"verified_at"`
	CreatedAt          time.Time                       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time                       `json:"updated_at" db:"updated_at"`
}

// Record rebuilds the source record the mapping was created from.
func (m *SkuMapping) Record() SourceRecord {
	r := SourceRecord{
		ExternalSKU: m.ExternalSKU,
		Source:      m.Source,
		Name:        m.SourceName,
		Attributes:  m.SourceAttributes.Data,
	}
	if m.SourceBrand != nil {
		r.Brand = *m.SourceBrand
	}
	if m.SourceCategory != nil {
		r.Category = *m.SourceCategory
	}
	return r
}

func (m *SkuMapping) HasMaster() bool {
	return m.MasterID != nil && *m.MasterID != ""
}

// NewSkuMapping builds an unsaved mapping from a source record.
func NewSkuMapping(record SourceRecord, masterID *string, confidence float64, status VerificationStatus) *SkuMapping {
	m := &SkuMapping{
		ExternalSKU:        record.ExternalSKU,
		Source:             record.Source,
		SourceName:         record.Name,
		SourceAttributes:   database.NewJSONB(record.Attributes),
		MasterID:           masterID,
		ConfidenceScore:    confidence,
		VerificationStatus: status,
	}
	if record.Brand != "" {
		m.SourceBrand = &record.Brand
	}
	if record.Category != "" {
		m.SourceCategory = &record.Category
	}
	return m
}

// VerificationUpdate is a requested status change on a mapping
type VerificationUpdate struct {
	Status     VerificationStatus
	MasterID   *string
	Reason     *string
	VerifiedBy string
}

// ConfidenceBand groups pending mappings for review queues
type ConfidenceBand string

const (
	ConfidenceBandHigh   ConfidenceBand = "high"
	ConfidenceBandMedium ConfidenceBand = "medium"
	ConfidenceBandLow    ConfidenceBand = "low"
)

// Band boundaries. High starts at 0.8, medium at 0.5.
const (
	HighConfidenceFloor   = 0.8
	MediumConfidenceFloor = 0.5
)

// Range returns the inclusive lower bound and the exclusive upper bound of
// the band. The high band has no upper bound.
func (b ConfidenceBand) Range() (min float64, max *float64, ok bool) {
	high, medium := HighConfidenceFloor, MediumConfidenceFloor
	switch b {
	case ConfidenceBandHigh:
		return HighConfidenceFloor, nil, true
	case ConfidenceBandMedium:
		return MediumConfidenceFloor, &high, true
	case ConfidenceBandLow:
		return 0, &medium, true
	default:
		return 0, nil, false
	}
}

// PendingFilter narrows a pending-verification query
type PendingFilter struct {
	Band          ConfidenceBand `json:"band,omitempty" query:"band"`
	MinConfidence *float64       `json:"min_confidence,omitempty" query:"min_confidence"`
	MaxConfidence *float64       `json:"max_confidence,omitempty" query:"max_confidence"`
	NoMatches     bool           `json:"no_matches,omitempty" query:"no_matches"`
	Source        string         `json:"source,omitempty" query:"source"`
}

// Pagination describes one page of a result set
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func NewPagination(page, pageSize, total int) Pagination {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages}
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// NormalizePage clamps page and pageSize to sane values.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// BulkResult is the outcome of one id in a bulk operation
type BulkResult struct {
	MappingID string `json:"mapping_id"`
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ApproveRequest confirms a mapping. An empty master id keeps the suggestion.
type ApproveRequest struct {
	MasterID string `json:"master_id,omitempty" validate:"omitempty,max=64"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type BulkApproveRequest struct {
	MappingIDs []string `json:"mapping_ids" validate:"required,min=1,max=500,dive,required"`
}
