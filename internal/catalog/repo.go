package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tillpoint/terminald/pkg/db/models"
)

// Repository owns the cached_products and cached_variants tables. Rows are
// only ever upserted after a successful backend fetch; nothing here deletes
// on read failure, because a stale cache beats an empty screen.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog cache repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertProductsTx replaces the cached rows for the fetched products.
func (r *Repository) UpsertProductsTx(tx *gorm.DB, products []models.CachedProduct) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(products) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "id"}},
		UpdateAll: true,
	}).Create(&products).Error
}

// UpsertVariantsTx replaces the cached rows for one product's variants.
func (r *Repository) UpsertVariantsTx(tx *gorm.DB, variants []models.CachedVariant) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(variants) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "id"}},
		UpdateAll: true,
	}).Create(&variants).Error
}

// ListProducts returns the tenant's cached products.
func (r *Repository) ListProducts(ctx context.Context, tenantID string) ([]models.CachedProduct, error) {
	var rows []models.CachedProduct
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Find(&rows).Error
	return rows, err
}

// ListVariants returns the cached variants of one product.
func (r *Repository) ListVariants(ctx context.Context, tenantID, productID string) ([]models.CachedVariant, error) {
	var rows []models.CachedVariant
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Order("name ASC").
		Find(&rows).Error
	return rows, err
}

// ListAllVariants returns every cached variant for the tenant.
func (r *Repository) ListAllVariants(ctx context.Context, tenantID string) ([]models.CachedVariant, error) {
	var rows []models.CachedVariant
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("product_id ASC").
		Order("name ASC").
		Find(&rows).Error
	return rows, err
}
