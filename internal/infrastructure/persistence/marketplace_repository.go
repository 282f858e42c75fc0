package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ---------------------------------------------------------------------------
// Category mappings
// ---------------------------------------------------------------------------

// GormCategoryMappingRepository implements marketplace.CategoryMappingRepository using GORM
type GormCategoryMappingRepository struct {
	db *gorm.DB
}

// NewGormCategoryMappingRepository creates a new GormCategoryMappingRepository
func NewGormCategoryMappingRepository(db *gorm.DB) *GormCategoryMappingRepository {
	return &GormCategoryMappingRepository{db: db}
}

// FindByMarketplaceCategory finds the mapping for a remote category
func (r *GormCategoryMappingRepository) FindByMarketplaceCategory(ctx context.Context, name marketplace.Name, marketplaceCategoryID string) (*marketplace.CategoryMapping, error) {
	var model models.CategoryMappingModel
	if err := r.db.WithContext(ctx).
		Where("marketplace_name = ? AND marketplace_category_id = ?", name, marketplaceCategoryID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, marketplace.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByMarketplace lists the mappings of a marketplace
func (r *GormCategoryMappingRepository) FindByMarketplace(ctx context.Context, name marketplace.Name) ([]marketplace.CategoryMapping, error) {
	var rows []models.CategoryMappingModel
	if err := r.db.WithContext(ctx).
		Where("marketplace_name = ?", name).
		Order("marketplace_category_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	mappings := make([]marketplace.CategoryMapping, len(rows))
	for i := range rows {
		mappings[i] = *rows[i].ToDomain()
	}
	return mappings, nil
}

// Upsert inserts the mapping or repoints an existing one to the new local category
func (r *GormCategoryMappingRepository) Upsert(ctx context.Context, mapping *marketplace.CategoryMapping) error {
	mapping.UpdatedAt = time.Now()
	model := models.CategoryMappingModelFromDomain(mapping)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "marketplace_name"}, {Name: "marketplace_category_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"local_category_id", "updated_at"}),
		}).
		Create(model).Error; err != nil {
		return err
	}

	stored, err := r.FindByMarketplaceCategory(ctx, mapping.Marketplace, mapping.MarketplaceCategoryID)
	if err != nil {
		return err
	}
	mapping.ID = stored.ID
	mapping.CreatedAt = stored.CreatedAt
	return nil
}

// Delete deletes a mapping
func (r *GormCategoryMappingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.CategoryMappingModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return marketplace.ErrMappingNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sync logs
// ---------------------------------------------------------------------------

// GormSyncLogRepository implements marketplace.SyncLogRepository using GORM
type GormSyncLogRepository struct {
	db *gorm.DB
}

// NewGormSyncLogRepository creates a new GormSyncLogRepository
func NewGormSyncLogRepository(db *gorm.DB) *GormSyncLogRepository {
	return &GormSyncLogRepository{db: db}
}

// Create inserts a running sync log
func (r *GormSyncLogRepository) Create(ctx context.Context, log *marketplace.SyncLog) error {
	return r.db.WithContext(ctx).Create(models.SyncLogModelFromDomain(log)).Error
}

// Finalize writes the final state of a log still marked running
func (r *GormSyncLogRepository) Finalize(ctx context.Context, log *marketplace.SyncLog) error {
	if !log.Status.IsFinal() {
		return errors.New("sync log must be completed or failed before it is finalized")
	}
	model := models.SyncLogModelFromDomain(log)
	result := r.db.WithContext(ctx).
		Model(model).
		Where("status = ?", marketplace.SyncStatusRunning).
		Select("status", "products_processed", "products_imported", "products_updated", "errors", "completed_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.SyncLogModel{}).Where("id = ?", log.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return marketplace.ErrSyncLogNotFound
		}
		return marketplace.ErrSyncLogAlreadyFinalized
	}
	return nil
}

// FindByID finds a sync log by its ID
func (r *GormSyncLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*marketplace.SyncLog, error) {
	var model models.SyncLogModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, marketplace.ErrSyncLogNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists sync logs, newest first by default, with the total count before paging
func (r *GormSyncLogRepository) FindAll(ctx context.Context, filter marketplace.SyncLogFilter) ([]marketplace.SyncLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncLogModel{})
	if filter.Marketplace != nil {
		query = query.Where("marketplace_name = ?", *filter.Marketplace)
	}
	if filter.Operation != nil {
		query = query.Where("operation = ?", *filter.Operation)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var rows []models.SyncLogModel
	if err := query.
		Order(orderBy(filter.SortBy, filter.SortOrder, syncLogColumns, "started_at")).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	logs := make([]marketplace.SyncLog, len(rows))
	for i := range rows {
		logs[i] = *rows[i].ToDomain()
	}
	return logs, total, nil
}

// ---------------------------------------------------------------------------
// Connection settings
// ---------------------------------------------------------------------------

// GormConnectionSettingsRepository implements marketplace.ConnectionSettingsRepository using GORM
type GormConnectionSettingsRepository struct {
	db *gorm.DB
}

// NewGormConnectionSettingsRepository creates a new GormConnectionSettingsRepository
func NewGormConnectionSettingsRepository(db *gorm.DB) *GormConnectionSettingsRepository {
	return &GormConnectionSettingsRepository{db: db}
}

// FindByMarketplace finds the settings of a marketplace
func (r *GormConnectionSettingsRepository) FindByMarketplace(ctx context.Context, name marketplace.Name) (*marketplace.ConnectionSettings, error) {
	var model models.ConnectionSettingsModel
	if err := r.db.WithContext(ctx).Where("marketplace_name = ?", name).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, marketplace.ErrSettingsNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActive lists active settings ordered by marketplace
func (r *GormConnectionSettingsRepository) FindActive(ctx context.Context) ([]marketplace.ConnectionSettings, error) {
	var rows []models.ConnectionSettingsModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("marketplace_name ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	settings := make([]marketplace.ConnectionSettings, len(rows))
	for i := range rows {
		settings[i] = *rows[i].ToDomain()
	}
	return settings, nil
}

// Save inserts the settings or overwrites the stored row of the same marketplace
func (r *GormConnectionSettingsRepository) Save(ctx context.Context, settings *marketplace.ConnectionSettings) error {
	if err := settings.RateLimit.Validate(); err != nil {
		return err
	}
	settings.UpdatedAt = time.Now()
	model := models.ConnectionSettingsModelFromDomain(settings)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "marketplace_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"is_active", "credential_ref",
				"max_concurrent", "min_spacing_ms", "reservoir", "reservoir_refresh_ms",
				"last_tested_at", "last_test_ok", "last_test_error", "updated_at",
			}),
		}).
		Create(model).Error; err != nil {
		return err
	}

	stored, err := r.FindByMarketplace(ctx, settings.Marketplace)
	if err != nil {
		return err
	}
	settings.ID = stored.ID
	settings.CreatedAt = stored.CreatedAt
	return nil
}

// Ensure the GORM repositories implement the marketplace interfaces
var (
	_ marketplace.CategoryMappingRepository    = (*GormCategoryMappingRepository)(nil)
	_ marketplace.SyncLogRepository            = (*GormSyncLogRepository)(nil)
	_ marketplace.ConnectionSettingsRepository = (*GormConnectionSettingsRepository)(nil)
)
