package masterproduct

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "master_products"

var columns = []string{"master_id", "canonical_name", "canonical_brand", "canonical_category", "description", "attributes", "status", "created_at", "updated_at"}

// Repository handles master product persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new master product repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) insertBuilder(p *models.MasterProduct) *database.InsertBuilder {
	ib := database.NewInsertBuilder(table)
	ib.Cols(columns...)
	ib.Values(p.MasterID, p.CanonicalName, p.CanonicalBrand, p.CanonicalCategory, p.Description, p.Attributes, p.Status, p.CreatedAt, p.UpdatedAt)
	return ib
}

func stamp(p *models.MasterProduct) {
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	if p.Status == "" {
		p.Status = models.MasterProductStatusActive
	}
	if p.Attributes.Data == nil {
		p.Attributes.Data = map[string]any{}
	}
}

// Create inserts a new master product. An existing master_id fails with
// KindDuplicateMasterID and leaves an enclosing transaction usable, so
// callers may retry with another id.
func (r *Repository) Create(ctx context.Context, p *models.MasterProduct) (*models.MasterProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "masterproduct.Repository.Create")
	defer span.End()

	stamp(p)
	query, args := r.insertBuilder(p).OnConflictDoNothing().Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("master_id", p.MasterID).Error("Failed to create master product")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindDuplicateMasterID, "failed to create master product").AddMeta("master_id", p.MasterID))
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, tracing.RecordError(span, errors.Wrap(errors.KindInternal, err, "failed to create master product"))
	}
	if inserted == 0 {
		return nil, errors.Newf(errors.KindDuplicateMasterID, "master product %s already exists", p.MasterID).AddMeta("master_id", p.MasterID)
	}

	return p, nil
}

// Upsert creates the product or overwrites its descriptive fields. Status
// and created_at of an existing product are kept.
func (r *Repository) Upsert(ctx context.Context, p *models.MasterProduct) (*models.MasterProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "masterproduct.Repository.Upsert")
	defer span.End()

	stamp(p)
	ib := r.insertBuilder(p)
	ib.OnConflictUpdate([]string{"master_id"}, "canonical_name", "canonical_brand", "canonical_category", "description", "attributes", "updated_at")
	ib.Returning(columns...)

	query, args := ib.Build()
	var saved models.MasterProduct
	if err := r.db.Conn(ctx).GetContext(ctx, &saved, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("master_id", p.MasterID).Error("Failed to upsert master product")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindDuplicateMasterID, "failed to upsert master product"))
	}

	return &saved, nil
}

// Get retrieves a master product by id
func (r *Repository) Get(ctx context.Context, masterID string) (*models.MasterProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "masterproduct.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("master_id", masterID))

	query, args := sb.Build()
	var p models.MasterProduct
	if err := r.db.Conn(ctx).GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.KindNotFound, "master product %s not found", masterID).AddMeta("master_id", masterID)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("master_id", masterID).Error("Failed to get master product")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to get master product"))
	}

	return &p, nil
}

// FindByExactName returns active products whose name equals name ignoring
// case and runs of whitespace.
func (r *Repository) FindByExactName(ctx context.Context, name string) ([]models.MasterProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "masterproduct.Repository.FindByExactName")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("status", models.MasterProductStatusActive),
		sb.Equal(`regexp_replace(lower(trim(canonical_name)), '\s+', ' ', 'g')`, normalizers.NameKey(name)),
	)
	sb.OrderBy("created_at").Desc()

	return r.list(ctx, sb, "Failed to find master products by name")
}

// ListRecentActive returns up to limit active products, newest first
func (r *Repository) ListRecentActive(ctx context.Context, limit int) ([]models.MasterProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "masterproduct.Repository.ListRecentActive")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("status", models.MasterProductStatusActive))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	return r.list(ctx, sb, "Failed to list recent master products")
}

// FindByBrandOrCategory returns active products sharing the brand or the
// category, case-insensitively. Empty arguments are ignored.
func (r *Repository) FindByBrandOrCategory(ctx context.Context, brand, category string, limit int) ([]models.MasterProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "masterproduct.Repository.FindByBrandOrCategory")
	defer span.End()

	if brand == "" && category == "" {
		return nil, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)

	var either []string
	if brand != "" {
		either = append(either, sb.Equal("lower(canonical_brand)", normalizers.Lowercase(brand)))
	}
	if category != "" {
		either = append(either, sb.Equal("lower(canonical_category)", normalizers.Lowercase(category)))
	}
	sb.Where(sb.Equal("status", models.MasterProductStatusActive), sb.Or(either...))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	return r.list(ctx, sb, "Failed to find master products by brand or category")
}

// Deactivate soft deletes a product. It is refused while any mapping that
// is not rejected still points at the product.
func (r *Repository) Deactivate(ctx context.Context, masterID string) (*models.MasterProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "masterproduct.Repository.Deactivate")
	defer span.End()

	query := `
		UPDATE master_products SET status = $1, updated_at = $2
		WHERE master_id = $3
		AND NOT EXISTS (
			SELECT 1 FROM sku_mappings
			WHERE sku_mappings.master_id = master_products.master_id
			AND sku_mappings.verification_status <> $4
		)
	`
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, models.MasterProductStatusInactive, time.Now().UTC(), masterID, models.VerificationStatusRejected)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("master_id", masterID).Error("Failed to deactivate master product")
		return nil, tracing.RecordError(span, errors.FromStore(err, errors.KindInternal, "failed to deactivate master product"))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, tracing.RecordError(span, errors.Wrap(errors.KindInternal, err, "failed to deactivate master product"))
	}

	p, err := r.Get(ctx, masterID)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, errors.Newf(errors.KindInvalidTransition, "master product %s is still referenced by mappings", masterID).AddMeta("master_id", masterID)
	}

	return p, nil
}

func (r *Repository) list(ctx context.Context, sb *sqlbuilder.SelectBuilder, msg string) ([]models.MasterProduct, error) {
	query, args := sb.Build()
	var products []models.MasterProduct
	if err := r.db.Conn(ctx).SelectContext(ctx, &products, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error(msg)
		return nil, errors.FromStore(err, errors.KindInternal, "failed to query master products")
	}
	return products, nil
}
