package orders

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tillpoint/terminald/pkg/db/models"
	"github.com/tillpoint/terminald/pkg/enums"
)

// ErrStatusConflict is returned when a status mark finds the row in a
// different state than expected. The single-flight guard makes this rare;
// it signals a second writer touched the queue.
var ErrStatusConflict = errors.New("pending order not in expected status")

const maxLastErrorLen = 1024

// Repository owns the pending-order queue table. A PendingOrder is
// immutable after insert except for status, attempts, last_error and the
// attempt timestamps; every mark method is a single-row transaction step.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a queue repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertTx enqueues a frozen order payload.
func (r *Repository) InsertTx(tx *gorm.DB, order *models.PendingOrder) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(order).Error
}

// FetchDrainable returns pending rows whose backoff window has elapsed,
// oldest-first; temp_id sorts by creation time by construction and breaks
// created_at ties. An item with N failed attempts waits N*baseDelay after
// its last attempt before it is drainable again. Both the window and the
// batch bound live in the query so a deep queue is never loaded whole.
func (r *Repository) FetchDrainable(ctx context.Context, tenantID string, now time.Time, baseDelay time.Duration, limit int) ([]models.PendingOrder, error) {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, enums.OrderSyncStatusPending).
		Where("attempts = 0 OR last_attempt_at IS NULL OR strftime('%s', last_attempt_at) + attempts * ? <= ?",
			int64(baseDelay/time.Second), now.Unix()).
		Order("created_at ASC").
		Order("temp_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.PendingOrder
	err := q.Find(&rows).Error
	return rows, err
}

// ListByStatus returns the tenant's queue rows for one status, oldest-first.
func (r *Repository) ListByStatus(ctx context.Context, tenantID string, status enums.OrderSyncStatus) ([]models.PendingOrder, error) {
	var rows []models.PendingOrder
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, status).
		Order("created_at ASC").
		Order("temp_id ASC").
		Find(&rows).Error
	return rows, err
}

// GetByTempID loads one queue row.
func (r *Repository) GetByTempID(ctx context.Context, tempID string) (*models.PendingOrder, error) {
	var row models.PendingOrder
	err := r.db.WithContext(ctx).Where("temp_id = ?", tempID).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkSyncingTx transitions pending -> syncing. Guarded on the current
// status so two drain passes can never both take the same item.
func (r *Repository) MarkSyncingTx(tx *gorm.DB, tempID string, now time.Time) error {
	return r.guardedUpdate(tx, tempID, enums.OrderSyncStatusPending, map[string]any{
		"status":          enums.OrderSyncStatusSyncing,
		"last_attempt_at": now,
	})
}

// MarkSyncedTx transitions syncing -> synced after backend confirmation.
func (r *Repository) MarkSyncedTx(tx *gorm.DB, tempID string, now time.Time) error {
	return r.guardedUpdate(tx, tempID, enums.OrderSyncStatusSyncing, map[string]any{
		"status":     enums.OrderSyncStatusSynced,
		"last_error": nil,
		"synced_at":  now,
	})
}

// MarkRetryTx reverts syncing -> pending after a transient failure,
// incrementing attempts and recording the error for diagnostics.
func (r *Repository) MarkRetryTx(tx *gorm.DB, tempID string, cause error, now time.Time) error {
	return r.guardedUpdate(tx, tempID, enums.OrderSyncStatusSyncing, map[string]any{
		"status":          enums.OrderSyncStatusPending,
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      truncateError(cause),
		"last_attempt_at": now,
	})
}

// MarkTerminalTx transitions syncing -> failed. The item leaves automatic
// retry; only an operator requeue or delete resolves it.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, tempID string, cause error, now time.Time) error {
	return r.guardedUpdate(tx, tempID, enums.OrderSyncStatusSyncing, map[string]any{
		"status":          enums.OrderSyncStatusFailed,
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      truncateError(cause),
		"last_attempt_at": now,
	})
}

// ReleaseSyncingTx reverts every syncing row for the tenant back to pending
// and reports how many it touched. Only the engine moves rows into syncing
// and it runs single-flight, so a row found syncing outside a pass was
// stranded by a crash or shutdown between the mark and its outcome.
// Attempts and last_error are preserved; re-posting a stranded row whose
// submit actually landed is safe because the backend dedupes on temp_id.
func (r *Repository) ReleaseSyncingTx(tx *gorm.DB, tenantID string) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	res := tx.Model(&models.PendingOrder{}).
		Where("tenant_id = ? AND status = ?", tenantID, enums.OrderSyncStatusSyncing).
		Update("status", enums.OrderSyncStatusPending)
	return res.RowsAffected, res.Error
}

// RequeueTx puts a terminally failed item back into rotation. The temp_id
// is untouched: minting a new one would let the backend create a duplicate
// sale.
func (r *Repository) RequeueTx(tx *gorm.DB, tempID string) error {
	return r.guardedUpdate(tx, tempID, enums.OrderSyncStatusFailed, map[string]any{
		"status":          enums.OrderSyncStatusPending,
		"attempts":        0,
		"last_error":      nil,
		"last_attempt_at": nil,
	})
}

// DeleteTx removes a row that reached a terminal state. In-flight and
// pending rows are never deleted.
func (r *Repository) DeleteTx(tx *gorm.DB, tempID string) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	res := tx.Where("temp_id = ? AND status IN ?", tempID, []enums.OrderSyncStatus{
		enums.OrderSyncStatusFailed,
		enums.OrderSyncStatusSynced,
	}).Delete(&models.PendingOrder{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// PurgeSyncedBefore drops synced rows older than the retention cutoff.
func (r *Repository) PurgeSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND synced_at < ?", enums.OrderSyncStatusSynced, cutoff).
		Delete(&models.PendingOrder{})
	return res.RowsAffected, res.Error
}

// CountByStatus reports queue depth per status for metrics and the admin
// surface.
func (r *Repository) CountByStatus(ctx context.Context, tenantID string) (map[enums.OrderSyncStatus]int64, error) {
	type row struct {
		Status enums.OrderSyncStatus
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.PendingOrder{}).
		Select("status, COUNT(*) AS n").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.OrderSyncStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (r *Repository) guardedUpdate(tx *gorm.DB, tempID string, expected enums.OrderSyncStatus, updates map[string]any) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	res := tx.Model(&models.PendingOrder{}).
		Where("temp_id = ? AND status = ?", tempID, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxLastErrorLen {
		return msg[:maxLastErrorLen]
	}
	return msg
}
