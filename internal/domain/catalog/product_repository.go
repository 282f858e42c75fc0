package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// ProductFilter selects marketplace-sourced products
type ProductFilter struct {
	// Marketplace restricts to one marketplace (optional)
	Marketplace *marketplace.Name
	// ActiveOnly skips deactivated products
	ActiveOnly bool
	Page       int
	PageSize   int
}

// ProductRepository defines the interface for product persistence
type ProductRepository interface {
	// FindByID returns ErrProductNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*Product, error)

	// FindByMarketplaceIdentity finds the product imported from a marketplace
	// listing. Returns ErrProductNotFound when absent.
	FindByMarketplaceIdentity(ctx context.Context, name marketplace.Name, marketplaceProductID string) (*Product, error)

	// CountByMarketplaceIdentity counts products with a marketplace identity
	CountByMarketplaceIdentity(ctx context.Context, name marketplace.Name, marketplaceProductID string) (int64, error)

	// FindMarketplaceSourced lists products that carry a marketplace identity
	FindMarketplaceSourced(ctx context.Context, filter ProductFilter) ([]Product, error)

	// Create inserts a product. A second product with the same marketplace
	// identity fails with ErrDuplicateMarketplaceID.
	Create(ctx context.Context, product *Product) error

	// Update saves a product if its stored version still equals
	// product.Version, then increments Version. A concurrent writer causes
	// shared.ErrConcurrencyConflict.
	Update(ctx context.Context, product *Product) error
}
