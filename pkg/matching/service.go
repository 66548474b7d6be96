package matching

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// MappingStore persists SKU mappings produced by the matcher
type MappingStore interface {
	Create(ctx context.Context, mapping *models.SkuMapping) (*models.SkuMapping, error)
	Get(ctx context.Context, id string) (*models.SkuMapping, error)
	GetBySourceSKU(ctx context.Context, externalSKU, source string) (*models.SkuMapping, error)
	UpdateSuggestion(ctx context.Context, id string, masterID *string, confidence float64) (*models.SkuMapping, error)
	CountPending(ctx context.Context) (int, error)
}

// Config holds the matcher thresholds
type Config struct {
	AutoAcceptThreshold    float64 // best confidence at or above this is accepted without review
	LowConfidenceThreshold float64 // pending mappings below this raise a notification
	PendingAlertThreshold  int     // pending backlog size that raises a notification, 0 disables
	CandidateLimit         int
}

func DefaultConfig() Config {
	return Config{
		AutoAcceptThreshold:    0.85,
		LowConfidenceThreshold: 0.5,
		PendingAlertThreshold:  1000,
		CandidateLimit:         10,
	}
}

// Matcher matches source records to master products and stores the result
type Matcher struct {
	finder     *CandidateFinder
	confidence *ConfidenceEngine
	mappings   MappingStore
	hooks      *events.Hooks
	config     Config
	logger     ectologger.Logger

	// set while the pending backlog is at or above PendingAlertThreshold
	backlogAlerted atomic.Bool
}

func NewMatcher(finder *CandidateFinder, confidence *ConfidenceEngine, mappings MappingStore, hooks *events.Hooks, config Config, logger ectologger.Logger) *Matcher {
	if config.AutoAcceptThreshold <= 0 {
		config.AutoAcceptThreshold = DefaultConfig().AutoAcceptThreshold
	}
	if config.CandidateLimit <= 0 {
		config.CandidateLimit = DefaultConfig().CandidateLimit
	}
	return &Matcher{
		finder:     finder,
		confidence: confidence,
		mappings:   mappings,
		hooks:      hooks,
		config:     config,
		logger:     logger,
	}
}

// Result is the outcome of matching one record
type Result struct {
	Mapping    *models.SkuMapping      `json:"mapping"`
	Candidates []models.MatchCandidate `json:"candidates"`
	// Duplicate is set when the record was already mapped; Mapping is the existing one
	Duplicate bool `json:"duplicate"`
}

// ScoreCandidates finds candidates for record and fills in their confidence.
// The result keeps the finder order, match score descending.
func (m *Matcher) ScoreCandidates(ctx context.Context, record models.SourceRecord, limit int) ([]models.MatchCandidate, error) {
	if limit <= 0 {
		limit = m.config.CandidateLimit
	}

	candidates, err := m.finder.Find(ctx, record, limit)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		c := m.confidence.Confidence(record, candidates[i].Product)
		candidates[i].Confidence = &c
	}

	return candidates, nil
}

// bestCandidate picks the suggestion among candidates ordered by match
// score: the highest match score wins, confidence breaks ties.
func bestCandidate(candidates []models.MatchCandidate) (models.MatchCandidate, bool) {
	if len(candidates) == 0 {
		return models.MatchCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.MatchScore < best.MatchScore {
			break
		}
		if *c.Confidence > *best.Confidence {
			best = c
		}
	}
	return best, true
}

// MatchRecord scores record and stores a mapping: auto when the best
// candidate reaches the auto-accept threshold, pending with the best
// candidate as suggestion otherwise. A record that is already mapped is
// returned as a duplicate without error.
func (m *Matcher) MatchRecord(ctx context.Context, record models.SourceRecord) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.MatchRecord")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"external_sku": record.ExternalSKU,
		"source":       record.Source,
	})

	start := time.Now()
	candidates, err := m.ScoreCandidates(ctx, record, m.config.CandidateLimit)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	status := models.VerificationStatusPending
	var masterID *string
	confidence := 0.0
	if best, ok := bestCandidate(candidates); ok {
		id := best.MasterID
		masterID = &id
		confidence = *best.Confidence
		if confidence >= m.config.AutoAcceptThreshold {
			status = models.VerificationStatusAuto
		}
	}

	mapping, err := m.mappings.Create(ctx, models.NewSkuMapping(record, masterID, confidence, status))
	if errors.IsKind(err, errors.KindDuplicateMapping) {
		existing, getErr := m.mappings.GetBySourceSKU(ctx, record.ExternalSKU, record.Source)
		if getErr != nil {
			return nil, tracing.RecordError(span, getErr)
		}
		log.Info("Record already mapped, skipping")
		return &Result{Mapping: existing, Candidates: candidates, Duplicate: true}, nil
	}
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	metrics.RecordMatch(record.Source, string(status), confidence, time.Since(start))

	action := models.AuditActionQueued
	if status == models.VerificationStatusAuto {
		action = models.AuditActionAutoMatched
	}
	master := ""
	if masterID != nil {
		master = *masterID
	}
	m.hooks.Audit(ctx, models.AuditRecord{
		Actor:     models.SystemActor,
		Action:    action,
		MappingID: mapping.ID,
		MasterID:  master,
		Details: map[string]any{
			"confidence": confidence,
			"candidates": len(candidates),
		},
	})
	m.hooks.Invalidate(ctx, mapping.ID, master)

	if status == models.VerificationStatusPending {
		m.notifyPending(ctx, mapping)
	}

	log.WithFields(map[string]any{
		"mapping_id": mapping.ID,
		"master_id":  master,
		"confidence": confidence,
		"status":     status,
	}).Info("Matched source record")

	return &Result{Mapping: mapping, Candidates: candidates}, nil
}

// Rematch rescores a pending mapping and updates its suggested master and
// confidence. Mappings that were already reviewed or auto-accepted are
// returned unchanged.
func (m *Matcher) Rematch(ctx context.Context, mappingID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.Rematch")
	defer span.End()

	mapping, err := m.mappings.Get(ctx, mappingID)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}
	if mapping.VerificationStatus != models.VerificationStatusPending {
		return &Result{Mapping: mapping}, nil
	}

	candidates, err := m.ScoreCandidates(ctx, mapping.Record(), m.config.CandidateLimit)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	var masterID *string
	confidence := 0.0
	if best, ok := bestCandidate(candidates); ok {
		id := best.MasterID
		masterID = &id
		confidence = *best.Confidence
	}

	previous := ""
	if mapping.MasterID != nil {
		previous = *mapping.MasterID
	}

	updated, err := m.mappings.UpdateSuggestion(ctx, mappingID, masterID, confidence)
	if errors.IsKind(err, errors.KindInvalidTransition) {
		// reviewed while we were scoring
		current, getErr := m.mappings.Get(ctx, mappingID)
		if getErr != nil {
			return nil, getErr
		}
		return &Result{Mapping: current}, nil
	}
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	current := ""
	if masterID != nil {
		current = *masterID
	}
	m.hooks.Audit(ctx, models.AuditRecord{
		Actor:     models.SystemActor,
		Action:    models.AuditActionRematched,
		MappingID: mappingID,
		MasterID:  current,
		Details: map[string]any{
			"previous_master_id": previous,
			"confidence":         confidence,
		},
	})
	m.hooks.Invalidate(ctx, mappingID, previous, current)

	return &Result{Mapping: updated, Candidates: candidates}, nil
}

// FindSimilarProducts ranks candidate master products for an existing
// mapping. It does not modify anything.
func (m *Matcher) FindSimilarProducts(ctx context.Context, mappingID string, limit int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.FindSimilarProducts")
	defer span.End()

	mapping, err := m.mappings.Get(ctx, mappingID)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}
	return m.ScoreCandidates(ctx, mapping.Record(), limit)
}

// Breakdown exposes the confidence terms for display
func (m *Matcher) Breakdown(record models.SourceRecord, product *models.MasterProduct) models.ConfidenceBreakdown {
	return m.confidence.Breakdown(record, product)
}

func (m *Matcher) notifyPending(ctx context.Context, mapping *models.SkuMapping) {
	if mapping.ConfidenceScore < m.config.LowConfidenceThreshold {
		m.hooks.Notify(ctx, models.Notification{
			Metric:    models.MetricLowConfidenceMapping,
			Value:     mapping.ConfidenceScore,
			Threshold: m.config.LowConfidenceThreshold,
			Details: map[string]any{
				"mapping_id":   mapping.ID,
				"external_sku": mapping.ExternalSKU,
				"source":       mapping.Source,
			},
		})
	}

	if m.config.PendingAlertThreshold <= 0 {
		return
	}
	pending, err := m.mappings.CountPending(ctx)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Failed to count pending mappings")
		return
	}
	metrics.SetPendingMappings(pending)
	if pending < m.config.PendingAlertThreshold {
		m.backlogAlerted.Store(false)
		return
	}
	// once per crossing
	if m.backlogAlerted.CompareAndSwap(false, true) {
		m.hooks.Notify(ctx, models.Notification{
			Metric:    models.MetricPendingQueueSize,
			Value:     float64(pending),
			Threshold: float64(m.config.PendingAlertThreshold),
		})
	}
}
