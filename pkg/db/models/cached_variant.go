package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CachedVariant mirrors a backend product variant. Variants are refreshed
// per product, so a rarely used terminal can hold a partial variant cache
// while still selling its popular items.
type CachedVariant struct {
	TenantID    string          `gorm:"column:tenant_id;primaryKey;index:idx_cached_variants_product,priority:1" json:"tenant_id"`
	ID          string          `gorm:"column:id;primaryKey" json:"id"`
	ProductID   string          `gorm:"column:product_id;not null;index:idx_cached_variants_product,priority:2" json:"product_id"`
	Name        string          `gorm:"column:name;not null" json:"name"`
	SKU         string          `gorm:"column:sku" json:"sku,omitempty"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric;not null" json:"unit_price"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true" json:"is_active"`
	LastUpdated time.Time       `gorm:"column:last_updated;not null" json:"last_updated"`
}

func (CachedVariant) TableName() string {
	return "cached_variants"
}
