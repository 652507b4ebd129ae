package models

import (
	"encoding/json"
	"time"

	"github.com/tillpoint/terminald/pkg/enums"
)

// PendingOrder is the unit of durability for checkout. The payload is frozen
// at creation, pricing included; only status, attempts, last_error and the
// attempt timestamps ever change afterwards. TempID doubles as the backend's
// idempotency key and must match the temp_id inside OrderData.
type PendingOrder struct {
	TempID        string                `gorm:"column:temp_id;primaryKey" json:"temp_id"`
	TenantID      string                `gorm:"column:tenant_id;not null;index:idx_pending_orders_tenant_status,priority:1" json:"tenant_id"`
	OrderData     json.RawMessage       `gorm:"column:order_data;not null" json:"order_data"`
	Status        enums.OrderSyncStatus `gorm:"column:status;not null;default:pending;index:idx_pending_orders_tenant_status,priority:2" json:"status"`
	Attempts      int                   `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError     *string               `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	LastAttemptAt *time.Time            `gorm:"column:last_attempt_at" json:"last_attempt_at,omitempty"`
	SyncedAt      *time.Time            `gorm:"column:synced_at" json:"synced_at,omitempty"`
}

func (PendingOrder) TableName() string {
	return "pending_orders"
}
