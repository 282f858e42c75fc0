package marketplace

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMappingInvalidCategoryID      = errors.New("marketplace: invalid marketplace category ID")
	ErrMappingInvalidLocalCategoryID = errors.New("marketplace: invalid local category ID")
)

// CategoryMapping maps a marketplace category onto a local category
type CategoryMapping struct {
	// ID is the unique identifier of the mapping
	ID uuid.UUID
	// Marketplace is the marketplace owning the remote category
	Marketplace Name
	// MarketplaceCategoryID is the remote category identifier
	MarketplaceCategoryID string
	// LocalCategoryID is the local catalog category
	LocalCategoryID uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewCategoryMapping creates a validated mapping
func NewCategoryMapping(name Name, marketplaceCategoryID string, localCategoryID uuid.UUID) (*CategoryMapping, error) {
	if !name.IsValid() {
		return nil, ErrInvalidMarketplace
	}
	marketplaceCategoryID = strings.TrimSpace(marketplaceCategoryID)
	if marketplaceCategoryID == "" {
		return nil, ErrMappingInvalidCategoryID
	}
	if localCategoryID == uuid.Nil {
		return nil, ErrMappingInvalidLocalCategoryID
	}
	now := time.Now()
	return &CategoryMapping{
		ID:                    uuid.New(),
		Marketplace:           name,
		MarketplaceCategoryID: marketplaceCategoryID,
		LocalCategoryID:       localCategoryID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// CategoryMappingRepository persists category mappings.
// (marketplace, marketplace category) is unique.
type CategoryMappingRepository interface {
	// FindByMarketplaceCategory returns ErrMappingNotFound when absent
	FindByMarketplaceCategory(ctx context.Context, name Name, marketplaceCategoryID string) (*CategoryMapping, error)
	FindByMarketplace(ctx context.Context, name Name) ([]CategoryMapping, error)
	// Upsert inserts or repoints the mapping for its (marketplace, category) key
	Upsert(ctx context.Context, mapping *CategoryMapping) error
	Delete(ctx context.Context, id uuid.UUID) error
}
