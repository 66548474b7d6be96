package models

import "time"

// AuditAction names a verification transition on the audit trail
type AuditAction string

const (
	AuditActionAutoMatched  AuditAction = "mapping.auto_matched"
	AuditActionQueued       AuditAction = "mapping.queued_for_review"
	AuditActionRematched    AuditAction = "mapping.rematched"
	AuditActionApproved     AuditAction = "mapping.approved"
	AuditActionRejected     AuditAction = "mapping.rejected"
	AuditActionMasterCreate AuditAction = "master.created"
	AuditActionMasterDeact  AuditAction = "master.deactivated"
)

// AuditRecord is one append-only audit entry
type AuditRecord struct {
	Actor     Actor          `json:"actor"`
	Action    AuditAction    `json:"action"`
	MappingID string         `json:"mapping_id,omitempty"`
	MasterID  string         `json:"master_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// EntityType names the kind of record a cache invalidation refers to
type EntityType string

const (
	EntityTypeMasterProduct EntityType = "masterProduct"
	EntityTypeMapping       EntityType = "mapping"
)

// Invalidation tells report caches to drop an entity
type Invalidation struct {
	EntityType EntityType `json:"entity_type"`
	ID         string     `json:"id"`
}

// Notification metric names
const (
	MetricLowConfidenceMapping = "low_confidence_mapping"
	MetricPendingQueueSize     = "pending_queue_size"
	MetricQueueExhausted       = "queue_job_exhausted"
)

// Notification is an operational alert
type Notification struct {
	Metric    string         `json:"metric"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
