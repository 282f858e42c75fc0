package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// CategoryMappingModel is the persistence model for marketplace category mappings
type CategoryMappingModel struct {
	ID                    uuid.UUID        `gorm:"type:uuid;primary_key"`
	MarketplaceName       marketplace.Name `gorm:"type:varchar(30);not null;uniqueIndex:idx_category_mapping_key,priority:1"`
	MarketplaceCategoryID string           `gorm:"type:varchar(100);not null;uniqueIndex:idx_category_mapping_key,priority:2"`
	LocalCategoryID       uuid.UUID        `gorm:"type:uuid;not null;index"`
	CreatedAt             time.Time        `gorm:"not null"`
	UpdatedAt             time.Time        `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CategoryMappingModel) TableName() string {
	return "category_mappings"
}

// ToDomain converts the persistence model to a domain CategoryMapping
func (m *CategoryMappingModel) ToDomain() *marketplace.CategoryMapping {
	return &marketplace.CategoryMapping{
		ID:                    m.ID,
		Marketplace:           m.MarketplaceName,
		MarketplaceCategoryID: m.MarketplaceCategoryID,
		LocalCategoryID:       m.LocalCategoryID,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// CategoryMappingModelFromDomain creates a persistence model from a domain CategoryMapping
func CategoryMappingModelFromDomain(c *marketplace.CategoryMapping) *CategoryMappingModel {
	return &CategoryMappingModel{
		ID:                    c.ID,
		MarketplaceName:       c.Marketplace,
		MarketplaceCategoryID: c.MarketplaceCategoryID,
		LocalCategoryID:       c.LocalCategoryID,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

// SyncLogModel is the persistence model for sync run audit rows
type SyncLogModel struct {
	ID                uuid.UUID                 `gorm:"type:uuid;primary_key"`
	MarketplaceName   marketplace.Name          `gorm:"type:varchar(30);not null;index:idx_sync_log_marketplace_started,priority:1"`
	Operation         marketplace.SyncOperation `gorm:"type:varchar(30);not null"`
	Status            marketplace.SyncStatus    `gorm:"type:varchar(20);not null;index"`
	ProductsProcessed int                       `gorm:"not null;default:0"`
	ProductsImported  int                       `gorm:"not null;default:0"`
	ProductsUpdated   int                       `gorm:"not null;default:0"`
	Errors            []string                  `gorm:"type:jsonb;serializer:json"`
	StartedAt         time.Time                 `gorm:"not null;index:idx_sync_log_marketplace_started,priority:2"`
	CompletedAt       *time.Time
}

// TableName returns the table name for GORM
func (SyncLogModel) TableName() string {
	return "sync_logs"
}

// ToDomain converts the persistence model to a domain SyncLog
func (m *SyncLogModel) ToDomain() *marketplace.SyncLog {
	errs := m.Errors
	if errs == nil {
		errs = []string{}
	}
	return &marketplace.SyncLog{
		ID:                m.ID,
		Marketplace:       m.MarketplaceName,
		Operation:         m.Operation,
		Status:            m.Status,
		ProductsProcessed: m.ProductsProcessed,
		ProductsImported:  m.ProductsImported,
		ProductsUpdated:   m.ProductsUpdated,
		Errors:            errs,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
	}
}

// SyncLogModelFromDomain creates a persistence model from a domain SyncLog
func SyncLogModelFromDomain(l *marketplace.SyncLog) *SyncLogModel {
	errs := l.Errors
	if errs == nil {
		errs = []string{}
	}
	return &SyncLogModel{
		ID:                l.ID,
		MarketplaceName:   l.Marketplace,
		Operation:         l.Operation,
		Status:            l.Status,
		ProductsProcessed: l.ProductsProcessed,
		ProductsImported:  l.ProductsImported,
		ProductsUpdated:   l.ProductsUpdated,
		Errors:            errs,
		StartedAt:         l.StartedAt,
		CompletedAt:       l.CompletedAt,
	}
}

// ConnectionSettingsModel is the persistence model for marketplace connection settings
type ConnectionSettingsModel struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primary_key"`
	MarketplaceName    marketplace.Name `gorm:"type:varchar(30);not null;uniqueIndex:idx_connection_settings_marketplace"`
	IsActive           bool             `gorm:"not null"`
	CredentialRef      string           `gorm:"type:varchar(100);not null"`
	MaxConcurrent      int              `gorm:"not null;default:0"`
	MinSpacingMs       int64            `gorm:"column:min_spacing_ms;not null;default:0"`
	Reservoir          int              `gorm:"not null;default:0"`
	ReservoirRefreshMs int64            `gorm:"column:reservoir_refresh_ms;not null;default:0"`
	LastTestedAt       *time.Time
	LastTestOK         bool      `gorm:"column:last_test_ok;not null"`
	LastTestError      string    `gorm:"type:text"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ConnectionSettingsModel) TableName() string {
	return "marketplace_connection_settings"
}

// ToDomain converts the persistence model to domain ConnectionSettings
func (m *ConnectionSettingsModel) ToDomain() *marketplace.ConnectionSettings {
	return &marketplace.ConnectionSettings{
		ID:            m.ID,
		Marketplace:   m.MarketplaceName,
		IsActive:      m.IsActive,
		CredentialRef: m.CredentialRef,
		RateLimit: marketplace.RateLimitPolicy{
			MaxConcurrent:    m.MaxConcurrent,
			MinSpacing:       time.Duration(m.MinSpacingMs) * time.Millisecond,
			Reservoir:        m.Reservoir,
			ReservoirRefresh: time.Duration(m.ReservoirRefreshMs) * time.Millisecond,
		},
		LastTestedAt:  m.LastTestedAt,
		LastTestOK:    m.LastTestOK,
		LastTestError: m.LastTestError,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// ConnectionSettingsModelFromDomain creates a persistence model from domain ConnectionSettings
func ConnectionSettingsModelFromDomain(s *marketplace.ConnectionSettings) *ConnectionSettingsModel {
	return &ConnectionSettingsModel{
		ID:                 s.ID,
		MarketplaceName:    s.Marketplace,
		IsActive:           s.IsActive,
		CredentialRef:      s.CredentialRef,
		MaxConcurrent:      s.RateLimit.MaxConcurrent,
		MinSpacingMs:       s.RateLimit.MinSpacing.Milliseconds(),
		Reservoir:          s.RateLimit.Reservoir,
		ReservoirRefreshMs: s.RateLimit.ReservoirRefresh.Milliseconds(),
		LastTestedAt:       s.LastTestedAt,
		LastTestOK:         s.LastTestOK,
		LastTestError:      s.LastTestError,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}
