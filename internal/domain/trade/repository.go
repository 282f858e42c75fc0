package trade

import (
	"context"

	"github.com/google/uuid"
)

// OrderRepository defines the interface for order persistence
type OrderRepository interface {
	// FindByID loads the order with its items and marketplace links. Item
	// marketplace fields are filled from the referenced products.
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// FindItemByID loads a single order item
	FindItemByID(ctx context.Context, itemID uuid.UUID) (*OrderItem, error)

	// Create inserts an order and its items
	Create(ctx context.Context, order *Order) error

	// Update saves status, primary linkage and marketplace links if the stored
	// version still equals order.Version, then increments Version. A link is unique per (order, marketplace);
	// an existing link keeps its remote order id.
	Update(ctx context.Context, order *Order) error

	// FindOpenLinked returns ids of orders that have at least one marketplace
	// link and are not yet delivered, cancelled or under return, least
	// recently updated first
	FindOpenLinked(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// OrderReturnRepository defines the interface for return persistence
type OrderReturnRepository interface {
	Create(ctx context.Context, ret *OrderReturn) error
	FindByID(ctx context.Context, id uuid.UUID) (*OrderReturn, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderReturn, error)
	// Update persists a status change. Writing a status that is not ahead
	// of the stored one fails with ErrInvalidReturnTransition.
	Update(ctx context.Context, ret *OrderReturn) error
}

// FulfillmentLogRepository defines the interface for fulfillment audit rows
type FulfillmentLogRepository interface {
	Create(ctx context.Context, log *FulfillmentLog) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]FulfillmentLog, error)
}
