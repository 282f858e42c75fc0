package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormProductRepository implements catalog.ProductRepository using GORM
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormProductRepository) WithTx(tx *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: tx}
}

// FindByID finds a product by its ID
func (r *GormProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	var model models.ProductModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByMarketplaceIdentity finds the product imported from a marketplace listing
func (r *GormProductRepository) FindByMarketplaceIdentity(ctx context.Context, name marketplace.Name, marketplaceProductID string) (*catalog.Product, error) {
	var model models.ProductModel
	if err := r.db.WithContext(ctx).
		Where("marketplace_name = ? AND marketplace_product_id = ?", name.String(), marketplaceProductID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountByMarketplaceIdentity counts products with a marketplace identity
func (r *GormProductRepository) CountByMarketplaceIdentity(ctx context.Context, name marketplace.Name, marketplaceProductID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ProductModel{}).
		Where("marketplace_name = ? AND marketplace_product_id = ?", name.String(), marketplaceProductID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindMarketplaceSourced lists products that carry a marketplace identity,
// ordered by id so pages are stable while the sweep writes.
func (r *GormProductRepository) FindMarketplaceSourced(ctx context.Context, filter catalog.ProductFilter) ([]catalog.Product, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ProductModel{}).
		Where("marketplace_name IS NOT NULL AND marketplace_product_id IS NOT NULL")
	if filter.Marketplace != nil {
		query = query.Where("marketplace_name = ?", filter.Marketplace.String())
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var rows []models.ProductModel
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make([]catalog.Product, len(rows))
	for i := range rows {
		products[i] = *rows[i].ToDomain()
	}
	return products, nil
}

// Create inserts a product
func (r *GormProductRepository) Create(ctx context.Context, product *catalog.Product) error {
	model := models.ProductModelFromDomain(product)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return catalog.ErrDuplicateMarketplaceID
		}
		return err
	}
	return nil
}

// Update saves a product with optimistic locking
func (r *GormProductRepository) Update(ctx context.Context, product *catalog.Product) error {
	currentVersion := product.Version
	model := models.ProductModelFromDomain(product)
	model.Version = currentVersion + 1

	result := r.db.WithContext(ctx).
		Model(model).
		Where("version = ?", currentVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return catalog.ErrDuplicateMarketplaceID
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.ProductModel{}).Where("id = ?", product.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return catalog.ErrProductNotFound
		}
		return shared.ErrConcurrencyConflict
	}
	product.Version = model.Version
	product.UpdatedAt = model.UpdatedAt
	return nil
}

// Ensure GormProductRepository implements catalog.ProductRepository
var _ catalog.ProductRepository = (*GormProductRepository)(nil)
