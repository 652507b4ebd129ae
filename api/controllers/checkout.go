package controllers

import (
	"context"
	"net/http"

	"github.com/tillpoint/terminald/api/responses"
	"github.com/tillpoint/terminald/api/validators"
	checkoutsvc "github.com/tillpoint/terminald/internal/checkout"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

type checkoutService interface {
	Submit(ctx context.Context, cart checkoutsvc.CartSnapshot) (*checkoutsvc.Result, error)
}

// Checkout submits the register's cart snapshot. A rejected order still
// carries its result body so the UI can show which order the backend
// refused.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var cart checkoutsvc.CartSnapshot
		if err := validators.DecodeJSONBody(r, &cart); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Submit(r.Context(), cart)
		if err != nil {
			if result != nil && result.State == checkoutsvc.StateRejected {
				responses.WriteSuccessStatus(w, http.StatusUnprocessableEntity, result)
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.State == checkoutsvc.StateQueued {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
