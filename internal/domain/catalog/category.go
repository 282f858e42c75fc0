package catalog

import (
	"strings"

	"github.com/storefront/marketsync/internal/domain/shared"
)

const (
	// DefaultCategorySlug identifies the fallback category for unmapped imports
	DefaultCategorySlug = "marketplace-imports"
	// DefaultCategoryName is the display name of the fallback category
	DefaultCategoryName = "Marketplace Imports"
)

var ErrCategoryNotFound = shared.NewDomainError("CATEGORY_NOT_FOUND", "Category not found")

// Category is a product category. Slug is unique.
type Category struct {
	shared.BaseEntity
	Name      string
	Slug      string
	IsDefault bool
}

// NewCategory creates a category with a slug derived from its name
func NewCategory(name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_CATEGORY_NAME", "Category name cannot be empty")
	}
	return &Category{
		BaseEntity: shared.NewBaseEntity(),
		Name:       name,
		Slug:       Slugify(name),
	}, nil
}

// NewDefaultCategory returns the fallback category used when no mapping exists
func NewDefaultCategory() *Category {
	return &Category{
		BaseEntity: shared.NewBaseEntity(),
		Name:       DefaultCategoryName,
		Slug:       DefaultCategorySlug,
		IsDefault:  true,
	}
}
