package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CachedProduct is a denormalized copy of a backend catalog record. Rows are
// written only by the catalog cache manager after a successful fetch; the UI
// reads them and never mutates them. Stale rows beat missing rows, so
// nothing deletes on read failure.
type CachedProduct struct {
	TenantID    string          `gorm:"column:tenant_id;primaryKey" json:"tenant_id"`
	ID          string          `gorm:"column:id;primaryKey" json:"id"`
	SKU         string          `gorm:"column:sku;not null" json:"sku"`
	Name        string          `gorm:"column:name;not null" json:"name"`
	Category    string          `gorm:"column:category" json:"category,omitempty"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric;not null" json:"unit_price"`
	TaxRate     decimal.Decimal `gorm:"column:tax_rate;type:numeric;not null" json:"tax_rate"`
	HasVariants bool            `gorm:"column:has_variants;not null;default:false" json:"has_variants"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true" json:"is_active"`
	LastUpdated time.Time       `gorm:"column:last_updated;not null" json:"last_updated"`
}

func (CachedProduct) TableName() string {
	return "cached_products"
}
