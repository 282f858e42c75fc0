package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCategoryRepository implements catalog.CategoryRepository using GORM
type GormCategoryRepository struct {
	db *gorm.DB
}

// NewGormCategoryRepository creates a new GormCategoryRepository
func NewGormCategoryRepository(db *gorm.DB) *GormCategoryRepository {
	return &GormCategoryRepository{db: db}
}

// FindByID finds a category by its ID
func (r *GormCategoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*catalog.Category, error) {
	var model models.CategoryModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalog.ErrCategoryNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindBySlug finds a category by its unique slug
func (r *GormCategoryRepository) FindBySlug(ctx context.Context, slug string) (*catalog.Category, error) {
	var model models.CategoryModel
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalog.ErrCategoryNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a category
func (r *GormCategoryRepository) Create(ctx context.Context, category *catalog.Category) error {
	if err := r.db.WithContext(ctx).Create(models.CategoryModelFromDomain(category)).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.NewDomainError("CATEGORY_SLUG_EXISTS", "A category with this slug already exists")
		}
		return err
	}
	return nil
}

// GetOrCreateDefault inserts the default category unless its slug already
// exists, then reads the single stored row. Losers of a concurrent insert
// read the winner's row.
func (r *GormCategoryRepository) GetOrCreateDefault(ctx context.Context) (*catalog.Category, error) {
	candidate := models.CategoryModelFromDomain(catalog.NewDefaultCategory())
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoNothing: true,
		}).
		Create(candidate).Error; err != nil {
		return nil, err
	}
	return r.FindBySlug(ctx, catalog.DefaultCategorySlug)
}

// Ensure GormCategoryRepository implements catalog.CategoryRepository
var _ catalog.CategoryRepository = (*GormCategoryRepository)(nil)
