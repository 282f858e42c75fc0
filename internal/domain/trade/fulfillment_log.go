package trade

import (
	"time"

	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// FulfillmentOperation names the orchestrator operation a log row records
type FulfillmentOperation string

const (
	FulfillmentOperationProcessOrder FulfillmentOperation = "process_new_order"
	FulfillmentOperationStatusUpdate FulfillmentOperation = "update_order_status"
	FulfillmentOperationReturn       FulfillmentOperation = "initiate_return"
)

// MarketplaceOrderOutcome is one successful marketplace group
type MarketplaceOrderOutcome struct {
	Marketplace   marketplace.Name        `json:"marketplace"`
	RemoteOrderID string                  `json:"remote_order_id"`
	Status        marketplace.OrderStatus `json:"status"`
}

// FulfillmentLog is the audit row written after every orchestrator operation
type FulfillmentLog struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	Operation         FulfillmentOperation
	Success           bool
	MarketplaceOrders []MarketplaceOrderOutcome
	Errors            []string
	Message           string
	CreatedAt         time.Time
}

// NewFulfillmentLog creates a log row
func NewFulfillmentLog(orderID uuid.UUID, op FulfillmentOperation, success bool, message string) *FulfillmentLog {
	return &FulfillmentLog{
		ID:                uuid.New(),
		OrderID:           orderID,
		Operation:         op,
		Success:           success,
		MarketplaceOrders: []MarketplaceOrderOutcome{},
		Errors:            []string{},
		Message:           message,
		CreatedAt:         time.Now(),
	}
}
