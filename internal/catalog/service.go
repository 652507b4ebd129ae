package catalog

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tillpoint/terminald/internal/backend"
	"github.com/tillpoint/terminald/pkg/db"
	"github.com/tillpoint/terminald/pkg/db/models"
	pkgerrors "github.com/tillpoint/terminald/pkg/errors"
	"github.com/tillpoint/terminald/pkg/logger"
)

// backendReader is the slice of the backend client the cache manager needs.
type backendReader interface {
	FetchProducts(ctx context.Context) ([]backend.ProductRecord, error)
	FetchVariants(ctx context.Context, productID string) ([]backend.VariantRecord, error)
}

// ServiceParams configure the catalog cache manager.
type ServiceParams struct {
	TenantID string
	Backend  backendReader
	Repo     *Repository
	DB       *db.Client
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service is the catalog cache manager: network-first reads that keep the
// local cache warm, with a stale-but-available fallback when the backend is
// unreachable.
type Service struct {
	tenantID string
	backend  backendReader
	repo     *Repository
	db       *db.Client
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds a catalog cache manager.
func NewService(params ServiceParams) (*Service, error) {
	if params.TenantID == "" {
		return nil, errors.New("tenant id required")
	}
	if params.Backend == nil {
		return nil, errors.New("backend client required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository required")
	}
	if params.DB == nil {
		return nil, errors.New("db client required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tenantID: params.TenantID,
		backend:  params.Backend,
		repo:     params.Repo,
		db:       params.DB,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// FetchCatalog returns the tenant's products plus every cached variant.
// A successful network read refreshes the cache in one transaction; a
// transient failure falls back to cached rows. Only an unreachable backend
// combined with an empty cache is an error the screen cannot recover from.
func (s *Service) FetchCatalog(ctx context.Context) ([]models.CachedProduct, []models.CachedVariant, error) {
	records, err := s.backend.FetchProducts(ctx)
	if err != nil {
		if !pkgerrors.IsTransient(err) {
			return nil, nil, err
		}
		return s.catalogFromCache(ctx, err)
	}

	fetchedAt := s.now()
	cached := make([]models.CachedProduct, 0, len(records))
	for _, record := range records {
		cached = append(cached, productFromRecord(s.tenantID, record, fetchedAt))
	}
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.UpsertProductsTx(tx, cached)
	}); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "refreshing product cache")
	}

	variants, err := s.repo.ListAllVariants(ctx, s.tenantID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "reading variant cache")
	}
	return cached, variants, nil
}

// FetchVariants returns one product's variants, following the same
// network-first pattern independently per product. That keeps granular
// lookups working on a terminal whose variant cache is only partially warm.
func (s *Service) FetchVariants(ctx context.Context, productID string) ([]models.CachedVariant, error) {
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}

	records, err := s.backend.FetchVariants(ctx, productID)
	if err != nil {
		if !pkgerrors.IsTransient(err) {
			return nil, err
		}
		return s.variantsFromCache(ctx, productID, err)
	}

	fetchedAt := s.now()
	cached := make([]models.CachedVariant, 0, len(records))
	for _, record := range records {
		cached = append(cached, variantFromRecord(s.tenantID, productID, record, fetchedAt))
	}
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.UpsertVariantsTx(tx, cached)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "refreshing variant cache")
	}
	return cached, nil
}

func (s *Service) catalogFromCache(ctx context.Context, cause error) ([]models.CachedProduct, []models.CachedVariant, error) {
	products, err := s.repo.ListProducts(ctx, s.tenantID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "reading product cache")
	}
	if len(products) == 0 {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeCatalogUnavailable, cause, "no cached catalog and backend unreachable")
	}
	variants, err := s.repo.ListAllVariants(ctx, s.tenantID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "reading variant cache")
	}
	s.logg.Warn(s.logg.WithField(ctx, "cached_products", len(products)), "serving catalog from cache")
	return products, variants, nil
}

func (s *Service) variantsFromCache(ctx context.Context, productID string, cause error) ([]models.CachedVariant, error) {
	variants, err := s.repo.ListVariants(ctx, s.tenantID, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLocalStorage, err, "reading variant cache")
	}
	if len(variants) == 0 {
		return nil, pkgerrors.Wrap(pkgerrors.CodeCatalogUnavailable, cause, "no cached variants and backend unreachable")
	}
	return variants, nil
}

func productFromRecord(tenantID string, record backend.ProductRecord, fetchedAt time.Time) models.CachedProduct {
	return models.CachedProduct{
		TenantID:    tenantID,
		ID:          record.ID,
		SKU:         record.SKU,
		Name:        record.Name,
		Category:    record.Category,
		UnitPrice:   record.UnitPrice,
		TaxRate:     record.TaxRate,
		HasVariants: record.HasVariants,
		IsActive:    record.IsActive,
		LastUpdated: fetchedAt,
	}
}

func variantFromRecord(tenantID, productID string, record backend.VariantRecord, fetchedAt time.Time) models.CachedVariant {
	variant := models.CachedVariant{
		TenantID:    tenantID,
		ID:          record.ID,
		ProductID:   record.ProductID,
		Name:        record.Name,
		SKU:         record.SKU,
		UnitPrice:   record.UnitPrice,
		IsActive:    record.IsActive,
		LastUpdated: fetchedAt,
	}
	if variant.ProductID == "" {
		variant.ProductID = productID
	}
	return variant
}
