package controllers

import (
	"net/http"

	"github.com/tillpoint/terminald/api/responses"
	"github.com/tillpoint/terminald/pkg/config"
	"github.com/tillpoint/terminald/pkg/db"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Terminald-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports whether the local store answers. The backend being
// unreachable is normal operation for this daemon, so readiness never
// depends on it.
func HealthReady(cfg *config.Config, logg *logger.Logger, store *db.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Terminald-Env", cfg.App.Env)
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store not wired"))
			return
		}
		if err := store.Ping(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "store ping failed"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
