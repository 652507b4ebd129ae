package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tillpoint/terminald/api/responses"
	"github.com/tillpoint/terminald/pkg/db/models"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

type catalogService interface {
	FetchCatalog(ctx context.Context) ([]models.CachedProduct, []models.CachedVariant, error)
	FetchVariants(ctx context.Context, productID string) ([]models.CachedVariant, error)
}

type catalogResponse struct {
	Products []models.CachedProduct `json:"products"`
	Variants []models.CachedVariant `json:"variants"`
}

// CatalogProducts serves the register's product view, network-first with
// cache fallback.
func CatalogProducts(svc catalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		products, variants, err := svc.FetchCatalog(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, catalogResponse{Products: products, Variants: variants})
	}
}

// CatalogVariants serves one product's variants.
func CatalogVariants(svc catalogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		variants, err := svc.FetchVariants(r.Context(), chi.URLParam(r, "productID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"variants": variants})
	}
}
