package backend

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tillpoint/terminald/pkg/enums"
)

// OrderPayload is the wire body for POST /orders. It is built exactly once
// at checkout; every monetary field is frozen there and resubmitted verbatim
// on retries. TempID is the backend's idempotency key.
type OrderPayload struct {
	TempID         string           `json:"temp_id"`
	TenantID       string           `json:"tenant_id"`
	StoreID        string           `json:"store_id"`
	StaffID        string           `json:"staff_id,omitempty"`
	TerminalID     string           `json:"terminal_id,omitempty"`
	CustomerID     string           `json:"customer_id,omitempty"`
	VoucherID      string           `json:"voucher_id,omitempty"`
	Lines          []OrderLine      `json:"lines"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	Payments       []PaymentEntry   `json:"payments"`
	CreatedAt      time.Time        `json:"created_at"`
}

type OrderLine struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

type PaymentEntry struct {
	Method enums.PaymentMethod `json:"method"`
	Amount decimal.Decimal     `json:"amount"`
}

// ProductRecord mirrors a catalog product as served by GET /products.
type ProductRecord struct {
	ID          string          `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	HasVariants bool            `json:"has_variants"`
	IsActive    bool            `json:"is_active"`
}

// VariantRecord mirrors a product variant as served by
// GET /products/{id}/variants.
type VariantRecord struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  bool            `json:"is_active"`
}

type RegisterRequest struct {
	TenantID   string `json:"tenant_id"`
	StoreID    string `json:"store_id"`
	TerminalID string `json:"terminal_id,omitempty"`
}

type RegisterResponse struct {
	TerminalID string `json:"terminal_id"`
	Token      string `json:"token,omitempty"`
}

type HeartbeatRequest struct {
	TerminalID string    `json:"terminal_id"`
	TenantID   string    `json:"tenant_id"`
	Timestamp  time.Time `json:"timestamp"`
}
