package catalog

import (
	"context"

	"github.com/google/uuid"
)

// CategoryRepository defines the interface for category persistence
type CategoryRepository interface {
	// FindByID returns ErrCategoryNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*Category, error)

	// Create inserts a category
	Create(ctx context.Context, category *Category) error

	// GetOrCreateDefault returns the default category, creating it on first
	// use. Concurrent callers always observe the same single row.
	GetOrCreateDefault(ctx context.Context) (*Category, error)
}
