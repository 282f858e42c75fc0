package trade

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/shared"
)

var (
	ErrReturnNotFound          = shared.NewDomainError("RETURN_NOT_FOUND", "Order return not found")
	ErrInvalidReturnTransition = shared.NewDomainError("INVALID_STATE", "Return status cannot move backwards")
	ErrReturnReasonRequired    = shared.NewDomainError("INVALID_INPUT", "Return reason is required")
)

// ReturnStatus is the lifecycle of a return request
type ReturnStatus string

const (
	ReturnStatusRequested  ReturnStatus = "requested"
	ReturnStatusProcessing ReturnStatus = "processing"
	ReturnStatusResolved   ReturnStatus = "resolved"
)

var returnStatusRank = map[ReturnStatus]int{
	ReturnStatusRequested:  0,
	ReturnStatusProcessing: 1,
	ReturnStatusResolved:   2,
}

// IsValid returns true if the status is valid
func (s ReturnStatus) IsValid() bool {
	_, ok := returnStatusRank[s]
	return ok
}

// CanTransitionTo allows forward moves only
func (s ReturnStatus) CanTransitionTo(next ReturnStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return returnStatusRank[next] > returnStatusRank[s]
}

// OrderReturn is a return request for one order item
type OrderReturn struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	OrderItemID  uuid.UUID
	Reason       string
	Status       ReturnStatus
	RefundAmount decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewOrderReturn creates a requested return
func NewOrderReturn(orderID, orderItemID uuid.UUID, reason string) (*OrderReturn, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReturnReasonRequired
	}
	now := time.Now()
	return &OrderReturn{
		ID:           uuid.New(),
		OrderID:      orderID,
		OrderItemID:  orderItemID,
		Reason:       reason,
		Status:       ReturnStatusRequested,
		RefundAmount: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// TransitionTo moves the return forward. Resolved is terminal.
func (r *OrderReturn) TransitionTo(next ReturnStatus, refund *decimal.Decimal) error {
	if !r.Status.CanTransitionTo(next) {
		return ErrInvalidReturnTransition
	}
	if refund != nil {
		if refund.IsNegative() {
			return shared.NewDomainError("INVALID_INPUT", "Refund amount cannot be negative")
		}
		r.RefundAmount = *refund
	}
	r.Status = next
	r.UpdatedAt = time.Now()
	return nil
}
