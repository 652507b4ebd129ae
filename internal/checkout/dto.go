package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/tillpoint/terminald/pkg/enums"
)

// CartSnapshot is the register UI's view of a cart at the moment the
// operator hits pay. Line prices were read from the catalog cache when the
// items were added; from here on they are frozen.
type CartSnapshot struct {
	CustomerID string           `json:"customer_id,omitempty"`
	VoucherID  string           `json:"voucher_id,omitempty"`
	TaxRate    decimal.Decimal  `json:"tax_rate"`
	Discount   *decimal.Decimal `json:"discount,omitempty"`
	Lines      []CartLine       `json:"lines" validate:"required,min=1,dive"`
	Payments   []CartPayment    `json:"payments" validate:"required,min=1,dive"`
}

type CartLine struct {
	ProductID string          `json:"product_id" validate:"required"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CartPayment struct {
	Method enums.PaymentMethod `json:"method" validate:"required"`
	Amount decimal.Decimal     `json:"amount"`
}

// State is the only checkout outcome the register UI ever sees.
type State string

const (
	// StateConfirmed means the backend accepted the order; nothing is
	// persisted locally.
	StateConfirmed State = "confirmed"
	// StateQueued means the order is durably captured locally and will
	// sync. The operator must never re-key it.
	StateQueued State = "queued"
	// StateRejected means the backend definitively refused the payload.
	StateRejected State = "rejected"
)

// Result reports a checkout outcome. TempID identifies the order whether it
// was confirmed immediately or queued for sync.
type Result struct {
	State       State           `json:"state"`
	TempID      string          `json:"temp_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
}
