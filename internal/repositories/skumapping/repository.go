package skumapping

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "sku_mappings"

var columns = []string{
	"id", "external_sku", "source", "source_name", "source_brand", "source_category", "source_attributes",
	"master_id", "confidence_score", "verification_status", "reject_reason", "verified_by", "verified_at",
	"created_at", "updated_at",
}

// Repository handles SKU mapping persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new SKU mapping repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a mapping. A second mapping for the same external SKU and
// source fails with KindDuplicateMapping.
func (r *Repository) Create(ctx context.Context, m *models.SkuMapping) (*models.SkuMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.Create")
	defer span.End()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.ExternalSKU = normalizers.SKU(m.ExternalSKU)
	m.Source = normalizers.Source(m.Source)
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	if m.SourceAttributes.Data == nil {
		m.SourceAttributes.Data = map[string]any{}
	}

	ib := database.NewInsertBuilder(table)
	ib.Cols(columns...)
	ib.Values(m.ID, m.ExternalSKU, m.Source, m.SourceName, m.SourceBrand, m.SourceCategory, m.SourceAttributes,
		m.MasterID, m.ConfidenceScore, m.VerificationStatus, m.RejectReason, m.VerifiedBy, m.VerifiedAt,
		m.CreatedAt, m.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		log := r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_sku": m.ExternalSKU,
			"source":       m.Source,
		})
		serr := errors.FromStore(err, errors.KindDuplicateMapping, "failed to create sku mapping")
		if serr.Kind == errors.KindDuplicateMapping {
			log.Debug("SKU mapping already exists")
		} else {
			log.Error("Failed to create sku mapping")
		}
		return nil, tracing.RecordError(span, serr.AddMeta("external_sku", m.ExternalSKU).AddMeta("source", m.Source))
	}

	return m, nil
}

// Get retrieves a mapping by id
func (r *Repository) Get(ctx context.Context, id string) (*models.SkuMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	return r.get(ctx, sb, "sku mapping "+id+" not found")
}

// GetBySourceSKU retrieves the mapping of an external SKU from source
func (r *Repository) GetBySourceSKU(ctx context.Context, externalSKU, source string) (*models.SkuMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.GetBySourceSKU")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("external_sku", normalizers.SKU(externalSKU)),
		sb.Equal("source", normalizers.Source(source)),
	)

	return r.get(ctx, sb, "sku mapping for "+externalSKU+" from "+source+" not found")
}

func (r *Repository) get(ctx context.Context, sb *sqlbuilder.SelectBuilder, notFound string) (*models.SkuMapping, error) {
	query, args := sb.Build()
	var m models.SkuMapping
	if err := r.db.Conn(ctx).GetContext(ctx, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.KindNotFound, notFound)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get sku mapping")
		return nil, errors.FromStore(err, errors.KindInternal, "failed to get sku mapping")
	}
	return &m, nil
}

// GetMany retrieves the mappings with the given ids. Unknown ids are
// absent from the result.
func (r *Repository) GetMany(ctx context.Context, ids []string) (map[string]*models.SkuMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.GetMany")
	defer span.End()

	found := make(map[string]*models.SkuMapping, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where("id = ANY(" + sb.Var(pq.Array(ids)) + ")")

	query, args := sb.Build()
	var mappings []models.SkuMapping
	if err := r.db.Conn(ctx).SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(ids)).Error("Failed to get sku mappings")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to get sku mappings"))
	}

	for i := range mappings {
		found[mappings[i].ID] = &mappings[i]
	}
	return found, nil
}

// UpdateVerification moves a mapping to a reviewed status. The update only
// applies when the current status may transition to the new one; otherwise
// the mapping is left unchanged and KindInvalidTransition is returned.
// Rejecting clears the master and records the reason.
func (r *Repository) UpdateVerification(ctx context.Context, id string, update models.VerificationUpdate) (*models.SkuMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.UpdateVerification")
	defer span.End()

	allowed := models.AllowedFrom(update.Status)
	if len(allowed) == 0 {
		return nil, errors.Newf(errors.KindInvalidTransition, "mappings cannot be moved to %s", update.Status)
	}

	masterID, reason := update.MasterID, update.Reason
	if update.Status == models.VerificationStatusRejected {
		masterID = nil
	} else {
		reason = nil
	}
	if update.Status == models.VerificationStatusManual && (masterID == nil || *masterID == "") {
		return nil, errors.New(errors.KindMissingMasterID, "approving a mapping requires a master product")
	}

	now := time.Now().UTC()
	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("verification_status", update.Status),
		ub.Assign("master_id", masterID),
		ub.Assign("reject_reason", reason),
		ub.Assign("verified_by", update.VerifiedBy),
		ub.Assign("verified_at", now),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		"verification_status = ANY("+ub.Var(statusArray(allowed))+")",
	)

	updated, err := r.updateReturning(ctx, ub)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"mapping_id": id,
			"status":     update.Status,
		}).Error("Failed to update sku mapping verification")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to update sku mapping"))
	}
	if updated == nil {
		return nil, r.explainNoop(ctx, id, update.Status)
	}

	return updated, nil
}

// UpdateSuggestion replaces the suggested master and confidence of a
// pending mapping. Mappings that left pending are not touched.
func (r *Repository) UpdateSuggestion(ctx context.Context, id string, masterID *string, confidence float64) (*models.SkuMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.UpdateSuggestion")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("master_id", masterID),
		ub.Assign("confidence_score", confidence),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("verification_status", models.VerificationStatusPending),
	)

	updated, err := r.updateReturning(ctx, ub)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("mapping_id", id).Error("Failed to update sku mapping suggestion")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to update sku mapping"))
	}
	if updated == nil {
		return nil, r.explainNoop(ctx, id, models.VerificationStatusPending)
	}

	return updated, nil
}

// BulkApprove approves every mapping in ids whose suggested master is an
// active product, in one statement. Mappings without a master are skipped,
// mappings whose master is missing or inactive fail as not found, and each
// id gets its own outcome. Results follow the order of ids.
func (r *Repository) BulkApprove(ctx context.Context, ids []string, verifiedBy string) ([]models.BulkResult, []models.SkuMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.BulkApprove")
	defer span.End()

	if len(ids) == 0 {
		return []models.BulkResult{}, nil, nil
	}

	now := time.Now().UTC()
	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("verification_status", models.VerificationStatusManual),
		ub.Assign("reject_reason", nil),
		ub.Assign("verified_by", verifiedBy),
		ub.Assign("verified_at", now),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		"id = ANY("+ub.Var(pq.Array(ids))+")",
		ub.IsNotNull("master_id"),
		"verification_status = ANY("+ub.Var(statusArray(models.AllowedFrom(models.VerificationStatusManual)))+")",
		"EXISTS (SELECT 1 FROM master_products mp WHERE mp.master_id = "+table+".master_id AND mp.status = "+ub.Var(string(models.MasterProductStatusActive))+")",
	)

	query, args := ub.Build()
	query += " RETURNING " + strings.Join(columns, ", ")

	var approved []models.SkuMapping
	if err := r.db.Conn(ctx).SelectContext(ctx, &approved, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(ids)).Error("Failed to bulk approve sku mappings")
		return nil, nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to bulk approve sku mappings"))
	}

	done := make(map[string]bool, len(approved))
	var rest []string
	for _, m := range approved {
		done[m.ID] = true
	}
	for _, id := range ids {
		if !done[id] {
			rest = append(rest, id)
		}
	}

	others, err := r.GetMany(ctx, rest)
	if err != nil {
		return nil, nil, err
	}

	results := make([]models.BulkResult, 0, len(ids))
	for _, id := range ids {
		result := models.BulkResult{MappingID: id}
		m, exists := others[id]
		switch {
		case done[id]:
			result.Success = true
		case !exists:
			result.ErrorKind = string(errors.KindNotFound)
			result.Error = "sku mapping " + id + " not found"
		case !m.HasMaster():
			result.Skipped = true
		case models.CanTransition(m.VerificationStatus, models.VerificationStatusManual):
			result.ErrorKind = string(errors.KindNotFound)
			result.Error = "master product " + *m.MasterID + " not found or inactive"
		default:
			result.ErrorKind = string(errors.KindInvalidTransition)
			result.Error = "mapping cannot move from " + string(m.VerificationStatus) + " to manual"
		}
		results = append(results, result)
	}

	return results, approved, nil
}

// updateReturning runs ub and scans the updated row, nil when no row matched
func (r *Repository) updateReturning(ctx context.Context, ub *sqlbuilder.UpdateBuilder) (*models.SkuMapping, error) {
	query, args := ub.Build()
	query += " RETURNING " + strings.Join(columns, ", ")

	var m models.SkuMapping
	if err := r.db.Conn(ctx).GetContext(ctx, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *Repository) explainNoop(ctx context.Context, id string, target models.VerificationStatus) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.Newf(errors.KindInvalidTransition, "mapping %s cannot move from %s to %s", id, current.VerificationStatus, target).
		AddMeta("mapping_id", id).
		AddMeta("current_status", string(current.VerificationStatus))
}

// QueryPending returns one page of pending mappings matching filter, best
// suggestions first, along with the total number of matches.
func (r *Repository) QueryPending(ctx context.Context, filter models.PendingFilter, page, pageSize int) ([]models.SkuMapping, int, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.QueryPending")
	defer span.End()

	page, pageSize = models.NormalizePage(page, pageSize)

	cb := database.NewSelectBuilder()
	cb.Select("COUNT(*)")
	cb.From(table)
	cb.Where(pendingConditions(&cb.Cond, filter)...)

	query, args := cb.Build()
	var total int
	if err := r.db.Conn(ctx).GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count pending sku mappings")
		return nil, 0, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to count pending sku mappings"))
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(pendingConditions(&sb.Cond, filter)...)
	sb.OrderBy("confidence_score DESC", "created_at DESC")
	sb.Limit(pageSize)
	sb.Offset((page - 1) * pageSize)

	query, args = sb.Build()
	mappings := []models.SkuMapping{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to query pending sku mappings")
		return nil, 0, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to query pending sku mappings"))
	}

	return mappings, total, nil
}

func pendingConditions(c *sqlbuilder.Cond, filter models.PendingFilter) []string {
	where := []string{c.Equal("verification_status", models.VerificationStatusPending)}

	if min, max, ok := filter.Band.Range(); ok {
		where = append(where, c.GreaterEqualThan("confidence_score", min))
		if max != nil {
			where = append(where, c.LessThan("confidence_score", *max))
		}
	}
	if filter.MinConfidence != nil {
		where = append(where, c.GreaterEqualThan("confidence_score", *filter.MinConfidence))
	}
	if filter.MaxConfidence != nil {
		where = append(where, c.LessEqualThan("confidence_score", *filter.MaxConfidence))
	}
	if filter.NoMatches {
		where = append(where, c.IsNull("master_id"))
	}
	if filter.Source != "" {
		where = append(where, c.Equal("source", normalizers.Source(filter.Source)))
	}

	return where
}

// CountPending returns the size of the review backlog
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.CountPending")
	defer span.End()

	var count int
	query := "SELECT COUNT(*) FROM sku_mappings WHERE verification_status = $1"
	if err := r.db.Conn(ctx).GetContext(ctx, &count, query, models.VerificationStatusPending); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count pending sku mappings")
		return 0, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to count pending sku mappings"))
	}

	return count, nil
}

// DeleteRejectedBefore purges rejected mappings last updated before cutoff
// and returns how many were removed.
func (r *Repository) DeleteRejectedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "skumapping.Repository.DeleteRejectedBefore")
	defer span.End()

	del := database.NewDeleteBuilder()
	del.DeleteFrom(table)
	del.Where(
		del.Equal("verification_status", models.VerificationStatusRejected),
		del.LessThan("updated_at", cutoff),
	)

	query, args := del.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete rejected sku mappings")
		return 0, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to delete rejected sku mappings"))
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, tracing.RecordError(span, errors.Wrap(errors.KindInternal, err, "failed to delete rejected sku mappings"))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"deleted": deleted,
		"cutoff":  cutoff,
	}).Info("Deleted rejected sku mappings")

	return deleted, nil
}

func statusArray(statuses []models.VerificationStatus) any {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return pq.Array(values)
}
