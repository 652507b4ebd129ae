package controllers

import (
	"net/http"

	"github.com/tillpoint/terminald/api/responses"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

type syncKicker interface {
	Kick()
}

// SyncKick signals the engine that connectivity is back. The kick is
// fire-and-forget; an in-flight pass absorbs it.
func SyncKick(engine syncKicker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync engine unavailable"))
			return
		}
		engine.Kick()
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "kicked"})
	}
}
