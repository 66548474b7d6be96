// Package verification drives human review of SKU mappings: approving a
// suggested or chosen master product, rejecting a match, or promoting the
// source record to a new master product.
package verification

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type MappingStore interface {
	Get(ctx context.Context, id string) (*models.SkuMapping, error)
	UpdateVerification(ctx context.Context, id string, update models.VerificationUpdate) (*models.SkuMapping, error)
	BulkApprove(ctx context.Context, ids []string, verifiedBy string) ([]models.BulkResult, []models.SkuMapping, error)
	QueryPending(ctx context.Context, filter models.PendingFilter, page, pageSize int) ([]models.SkuMapping, int, error)
}

type ProductStore interface {
	Get(ctx context.Context, masterID string) (*models.MasterProduct, error)
	Create(ctx context.Context, p *models.MasterProduct) (*models.MasterProduct, error)
	Deactivate(ctx context.Context, masterID string) (*models.MasterProduct, error)
}

// CandidateRanker scores master products against a mapping's source record
type CandidateRanker interface {
	FindSimilarProducts(ctx context.Context, mappingID string, limit int) ([]models.MatchCandidate, error)
	Breakdown(record models.SourceRecord, product *models.MasterProduct) models.ConfidenceBreakdown
}

type Config struct {
	TransientRetries int           // attempts for a transaction that hits a transient store failure
	RetryBackoff     time.Duration // first backoff, doubled per attempt
	MasterIDPrefix   string
	MasterIDAttempts int // fresh ids tried before giving up on a new master
}

func DefaultConfig() Config {
	return Config{
		TransientRetries: 3,
		RetryBackoff:     100 * time.Millisecond,
		MasterIDPrefix:   "MP",
		MasterIDAttempts: 5,
	}
}

type Workflow struct {
	mappings   MappingStore
	products   ProductStore
	candidates CandidateRanker
	runTx      database.TxRunner
	hooks      *events.Hooks
	config     Config
	logger     ectologger.Logger
	newID      func() string
}

func NewWorkflow(mappings MappingStore, products ProductStore, candidates CandidateRanker, runTx database.TxRunner, hooks *events.Hooks, config Config, logger ectologger.Logger) *Workflow {
	defaults := DefaultConfig()
	if config.TransientRetries <= 0 {
		config.TransientRetries = defaults.TransientRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.MasterIDPrefix == "" {
		config.MasterIDPrefix = defaults.MasterIDPrefix
	}
	if config.MasterIDAttempts <= 0 {
		config.MasterIDAttempts = defaults.MasterIDAttempts
	}
	if runTx == nil {
		runTx = database.NoTx
	}

	w := &Workflow{
		mappings:   mappings,
		products:   products,
		candidates: candidates,
		runTx:      runTx,
		hooks:      hooks,
		config:     config,
		logger:     logger,
	}
	w.newID = w.generateMasterID
	return w
}

// generateMasterID returns the prefix followed by twelve random hex digits
func (w *Workflow) generateMasterID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return w.config.MasterIDPrefix + "-" + strings.ToUpper(hex[:12])
}

// transact runs fn in one transaction, retrying the whole transaction while
// it fails with a transient store error.
func (w *Workflow) transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return errors.Retry(ctx, w.config.TransientRetries, w.config.RetryBackoff, func(ctx context.Context) error {
		return classify(w.runTx(ctx, fn))
	})
}

// classify gives untyped errors from begin or commit a kind
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if errors.As(err, &e) {
		return err
	}
	return errors.FromStore(err, errors.KindInternal, "transaction failed")
}

// Approve confirms a mapping as manual. masterID overrides the suggested
// master; with neither the call fails with KindMissingMasterID and the
// mapping is unchanged. The master must exist and be active.
func (w *Workflow) Approve(ctx context.Context, actor models.Actor, mappingID, masterID string) (mapping *models.SkuMapping, err error) {
	ctx, span := tracing.StartSpan(ctx, "verification.Workflow.Approve")
	defer span.End()
	defer func() { metrics.RecordVerification("approve", err) }()

	actor = actor.OrSystem()
	var before *models.SkuMapping

	err = w.transact(ctx, func(ctx context.Context) error {
		current, err := w.mappings.Get(ctx, mappingID)
		if err != nil {
			return err
		}
		before = current

		target := strings.TrimSpace(masterID)
		if target == "" && current.MasterID != nil {
			target = *current.MasterID
		}
		if target == "" {
			return errors.Newf(errors.KindMissingMasterID, "cannot approve mapping %s: no master id", mappingID).AddMeta("mapping_id", mappingID)
		}

		product, err := w.products.Get(ctx, target)
		if err != nil {
			return err
		}
		if !product.IsActive() {
			return errors.Newf(errors.KindNotFound, "master product %s is inactive", target).AddMeta("master_id", target)
		}

		mapping, err = w.mappings.UpdateVerification(ctx, mappingID, models.VerificationUpdate{
			Status:     models.VerificationStatusManual,
			MasterID:   &target,
			VerifiedBy: actor.ActorID,
		})
		return err
	})
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).WithField("mapping_id", mappingID).Warn("Failed to approve mapping")
		return nil, tracing.RecordError(span, err)
	}

	w.transitioned(ctx, actor, models.AuditActionApproved, before, mapping, nil)
	return mapping, nil
}

// Reject declines a mapping's match, clearing its master and recording reason
func (w *Workflow) Reject(ctx context.Context, actor models.Actor, mappingID, reason string) (mapping *models.SkuMapping, err error) {
	ctx, span := tracing.StartSpan(ctx, "verification.Workflow.Reject")
	defer span.End()
	defer func() { metrics.RecordVerification("reject", err) }()

	actor = actor.OrSystem()
	var before *models.SkuMapping

	update := models.VerificationUpdate{
		Status:     models.VerificationStatusRejected,
		VerifiedBy: actor.ActorID,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		update.Reason = &reason
	}

	err = w.transact(ctx, func(ctx context.Context) error {
		current, err := w.mappings.Get(ctx, mappingID)
		if err != nil {
			return err
		}
		before = current

		mapping, err = w.mappings.UpdateVerification(ctx, mappingID, update)
		return err
	})
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).WithField("mapping_id", mappingID).Warn("Failed to reject mapping")
		return nil, tracing.RecordError(span, err)
	}

	w.transitioned(ctx, actor, models.AuditActionRejected, before, mapping, map[string]any{"reason": reason})
	return mapping, nil
}

// CreateNewMaster promotes a mapping's source record to a new master
// product and links the mapping to it as manual. Explicit fields win over
// the raw source fields. The insert and the mapping update commit together.
func (w *Workflow) CreateNewMaster(ctx context.Context, actor models.Actor, mappingID string, fields models.MasterFields) (mapping *models.SkuMapping, product *models.MasterProduct, err error) {
	ctx, span := tracing.StartSpan(ctx, "verification.Workflow.CreateNewMaster")
	defer span.End()
	defer func() { metrics.RecordVerification("new_master", err) }()

	actor = actor.OrSystem()
	var before *models.SkuMapping

	err = w.transact(ctx, func(ctx context.Context) error {
		current, err := w.mappings.Get(ctx, mappingID)
		if err != nil {
			return err
		}
		before = current
		if !models.CanTransition(current.VerificationStatus, models.VerificationStatusManual) {
			return errors.Newf(errors.KindInvalidTransition, "mapping %s cannot move from %s to manual", mappingID, current.VerificationStatus)
		}

		product, err = w.insertMaster(ctx, masterFrom(current, fields))
		if err != nil {
			return err
		}

		mapping, err = w.mappings.UpdateVerification(ctx, mappingID, models.VerificationUpdate{
			Status:     models.VerificationStatusManual,
			MasterID:   &product.MasterID,
			VerifiedBy: actor.ActorID,
		})
		return err
	})
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).WithField("mapping_id", mappingID).Warn("Failed to create master from mapping")
		return nil, nil, tracing.RecordError(span, err)
	}

	w.hooks.Audit(ctx, models.AuditRecord{
		Actor:     actor,
		Action:    models.AuditActionMasterCreate,
		MappingID: mappingID,
		MasterID:  product.MasterID,
		Details:   map[string]any{"canonical_name": product.CanonicalName},
	})
	w.transitioned(ctx, actor, models.AuditActionApproved, before, mapping, map[string]any{"new_master": true})
	return mapping, product, nil
}

// insertMaster stores p under a fresh id, drawing another id on collision
func (w *Workflow) insertMaster(ctx context.Context, p *models.MasterProduct) (*models.MasterProduct, error) {
	for attempt := 1; attempt <= w.config.MasterIDAttempts; attempt++ {
		p.MasterID = w.newID()
		created, err := w.products.Create(ctx, p)
		if err == nil {
			return created, nil
		}
		if !errors.IsKind(err, errors.KindDuplicateMasterID) {
			return nil, err
		}
		w.logger.WithContext(ctx).WithFields(map[string]any{
			"master_id": p.MasterID,
			"attempt":   attempt,
		}).Warn("Generated master id already taken, retrying")
	}
	return nil, errors.Newf(errors.KindDuplicateMasterID, "no free master id after %d attempts", w.config.MasterIDAttempts)
}

// masterFrom builds the new product, defaulting each field from the mapping
func masterFrom(m *models.SkuMapping, fields models.MasterFields) *models.MasterProduct {
	pick := func(explicit string, fallback *string) *string {
		if v := strings.TrimSpace(explicit); v != "" {
			return &v
		}
		if fallback != nil && strings.TrimSpace(*fallback) != "" {
			v := strings.TrimSpace(*fallback)
			return &v
		}
		return nil
	}

	name := strings.TrimSpace(fields.CanonicalName)
	if name == "" {
		name = strings.TrimSpace(m.SourceName)
	}
	attributes := fields.Attributes
	if len(attributes) == 0 {
		attributes = m.SourceAttributes.Data
	}

	return &models.MasterProduct{
		CanonicalName:     name,
		CanonicalBrand:    pick(fields.CanonicalBrand, m.SourceBrand),
		CanonicalCategory: pick(fields.CanonicalCategory, m.SourceCategory),
		Description:       pick(fields.Description, nil),
		Attributes:        database.NewJSONB(attributes),
		Status:            models.MasterProductStatusActive,
	}
}

// BulkApprove approves each mapping with a suggested master. Mappings
// without one are skipped and reported, failures do not stop the batch.
func (w *Workflow) BulkApprove(ctx context.Context, actor models.Actor, mappingIDs []string) ([]models.BulkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "verification.Workflow.BulkApprove")
	defer span.End()

	actor = actor.OrSystem()
	var (
		results  []models.BulkResult
		approved []models.SkuMapping
	)
	err := w.transact(ctx, func(ctx context.Context) error {
		var err error
		results, approved, err = w.mappings.BulkApprove(ctx, mappingIDs, actor.ActorID)
		return err
	})
	if err != nil {
		metrics.RecordVerification("bulk_approve", err)
		return nil, tracing.RecordError(span, err)
	}

	for i := range approved {
		metrics.RecordVerification("bulk_approve", nil)
		w.transitioned(ctx, actor, models.AuditActionApproved, nil, &approved[i], map[string]any{"bulk": true})
	}

	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	w.logger.WithContext(ctx).WithFields(map[string]any{
		"requested": len(mappingIDs),
		"approved":  len(approved),
		"skipped":   skipped,
	}).Info("Bulk approved mappings")

	return results, nil
}

// DeactivateMaster soft deletes a master product that no live mapping uses
func (w *Workflow) DeactivateMaster(ctx context.Context, actor models.Actor, masterID string) (product *models.MasterProduct, err error) {
	ctx, span := tracing.StartSpan(ctx, "verification.Workflow.DeactivateMaster")
	defer span.End()
	defer func() { metrics.RecordVerification("deactivate_master", err) }()

	actor = actor.OrSystem()
	err = w.transact(ctx, func(ctx context.Context) error {
		deactivated, err := w.products.Deactivate(ctx, masterID)
		product = deactivated
		return err
	})
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	w.hooks.Audit(ctx, models.AuditRecord{
		Actor:    actor,
		Action:   models.AuditActionMasterDeact,
		MasterID: masterID,
	})
	w.hooks.Invalidate(ctx, "", masterID)
	return product, nil
}

// transitioned emits the audit record and cache invalidations of a mapping
// transition. before may be nil when the previous state was not read.
func (w *Workflow) transitioned(ctx context.Context, actor models.Actor, action models.AuditAction, before, after *models.SkuMapping, extra map[string]any) {
	details := map[string]any{
		"status":     after.VerificationStatus,
		"confidence": after.ConfidenceScore,
	}
	for k, v := range extra {
		details[k] = v
	}

	previousMaster := ""
	if before != nil {
		details["previous_status"] = before.VerificationStatus
		if before.MasterID != nil {
			previousMaster = *before.MasterID
			details["previous_master_id"] = previousMaster
		}
	}
	master := ""
	if after.MasterID != nil {
		master = *after.MasterID
	}

	w.hooks.Audit(ctx, models.AuditRecord{
		Actor:     actor,
		Action:    action,
		MappingID: after.ID,
		MasterID:  master,
		Details:   details,
	})

	masters := []string{master}
	if previousMaster != master {
		masters = append(masters, previousMaster)
	}
	w.hooks.Invalidate(ctx, after.ID, masters...)

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"mapping_id": after.ID,
		"master_id":  master,
		"action":     action,
		"actor_id":   actor.ActorID,
	}).Info("Mapping verification changed")
}
