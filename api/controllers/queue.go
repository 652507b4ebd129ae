package controllers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/tillpoint/terminald/api/responses"
	"github.com/tillpoint/terminald/internal/orders"
	"github.com/tillpoint/terminald/pkg/db"
	"github.com/tillpoint/terminald/pkg/db/models"
	"github.com/tillpoint/terminald/pkg/enums"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

type queueItemResponse struct {
	TempID    string                `json:"temp_id"`
	Status    enums.OrderSyncStatus `json:"status"`
	Attempts  int                   `json:"attempts"`
	LastError *string               `json:"last_error,omitempty"`
	CreatedAt string                `json:"created_at"`
}

// QueueList exposes the pending-order queue for operator diagnostics,
// optionally filtered by status.
func QueueList(repo *orders.Repository, tenantID string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []models.PendingOrder
		var err error

		if raw := r.URL.Query().Get("status"); raw != "" {
			status, parseErr := enums.ParseOrderSyncStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status filter"))
				return
			}
			rows, err = repo.ListByStatus(r.Context(), tenantID, status)
		} else {
			rows, err = listAllStatuses(r, repo, tenantID)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "listing queue"))
			return
		}

		items := make([]queueItemResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, queueItemResponse{
				TempID:    row.TempID,
				Status:    row.Status,
				Attempts:  row.Attempts,
				LastError: row.LastError,
				CreatedAt: row.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			})
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

func listAllStatuses(r *http.Request, repo *orders.Repository, tenantID string) ([]models.PendingOrder, error) {
	var all []models.PendingOrder
	for _, status := range []enums.OrderSyncStatus{
		enums.OrderSyncStatusPending,
		enums.OrderSyncStatusSyncing,
		enums.OrderSyncStatusSynced,
		enums.OrderSyncStatusFailed,
	} {
		rows, err := repo.ListByStatus(r.Context(), tenantID, status)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

// QueueRequeue puts a terminally failed order back into sync rotation. The
// temp_id and frozen payload are untouched; only attempts and errors reset.
func QueueRequeue(repo *orders.Repository, client *db.Client, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tempID := chi.URLParam(r, "tempID")
		err := client.WithTx(r.Context(), func(tx *gorm.DB) error {
			return repo.RequeueTx(tx, tempID)
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, queueMutationError(err, "requeue"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"temp_id": tempID, "status": string(enums.OrderSyncStatusPending)})
	}
}

// QueueDelete removes a failed or synced order from the queue. Pending and
// in-flight rows stay; deleting those could drop a captured sale.
func QueueDelete(repo *orders.Repository, client *db.Client, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tempID := chi.URLParam(r, "tempID")
		err := client.WithTx(r.Context(), func(tx *gorm.DB) error {
			return repo.DeleteTx(tx, tempID)
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, queueMutationError(err, "delete"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"temp_id": tempID, "status": "deleted"})
	}
}

func queueMutationError(err error, action string) error {
	if errors.Is(err, orders.ErrStatusConflict) {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "order is not in a state that allows "+action)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, action+" failed")
}
