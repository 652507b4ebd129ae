package enums

import "fmt"

// OrderSyncStatus tracks a queued order through the background sync engine.
type OrderSyncStatus string

const (
	// OrderSyncStatusPending means the order is waiting for a drain pass.
	OrderSyncStatusPending OrderSyncStatus = "pending"
	// OrderSyncStatusSyncing means a drain pass has the item in flight.
	OrderSyncStatusSyncing OrderSyncStatus = "syncing"
	// OrderSyncStatusSynced means the backend confirmed delivery.
	OrderSyncStatusSynced OrderSyncStatus = "synced"
	// OrderSyncStatusFailed is terminal: the backend rejected the payload
	// and automatic retries have stopped. Operator action required.
	OrderSyncStatusFailed OrderSyncStatus = "failed"
)

var validOrderSyncStatuses = []OrderSyncStatus{
	OrderSyncStatusPending,
	OrderSyncStatusSyncing,
	OrderSyncStatusSynced,
	OrderSyncStatusFailed,
}

// IsValid reports whether the value matches the canonical sync status enum.
func (s OrderSyncStatus) IsValid() bool {
	for _, candidate := range validOrderSyncStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends automatic processing.
func (s OrderSyncStatus) IsTerminal() bool {
	return s == OrderSyncStatusSynced || s == OrderSyncStatusFailed
}

// ParseOrderSyncStatus converts the raw string to OrderSyncStatus.
func ParseOrderSyncStatus(value string) (OrderSyncStatus, error) {
	for _, candidate := range validOrderSyncStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order sync status %q", value)
}
