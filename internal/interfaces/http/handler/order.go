package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/application/integration"
	"github.com/storefront/marketsync/internal/domain/trade"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
)

// OrderFulfiller places remote orders and tracks their lifecycle
type OrderFulfiller interface {
	ProcessNewOrder(ctx context.Context, orderID uuid.UUID) (*integration.FulfillmentResult, error)
	UpdateOrderStatusFromMarketplace(ctx context.Context, orderID uuid.UUID) integration.OperationResult
	RefreshOpenOrders(ctx context.Context, limit int) (*integration.StatusRefreshResult, error)
	InitiateReturn(ctx context.Context, orderItemID uuid.UUID, reason string) integration.ReturnResult
	AdvanceReturn(ctx context.Context, returnID uuid.UUID, status trade.ReturnStatus, refund *decimal.Decimal) (*trade.OrderReturn, error)
	ListReturns(ctx context.Context, orderID uuid.UUID) ([]trade.OrderReturn, error)
	ListFulfillmentLogs(ctx context.Context, orderID uuid.UUID) ([]trade.FulfillmentLog, error)
}

// OrderHandler handles order fulfillment and return endpoints
type OrderHandler struct {
	BaseHandler
	fulfiller OrderFulfiller
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(fulfiller OrderFulfiller) *OrderHandler {
	return &OrderHandler{fulfiller: fulfiller}
}

// InitiateReturnRequest is the HTTP body of a return request
type InitiateReturnRequest struct {
	OrderItemID string `json:"order_item_id" binding:"required,uuid"`
	Reason      string `json:"reason" binding:"required,min=1,max=500"`
}

// AdvanceReturnRequest is the HTTP body of a return transition
type AdvanceReturnRequest struct {
	Status       string           `json:"status" binding:"required,oneof=processing resolved"`
	RefundAmount *decimal.Decimal `json:"refund_amount"`
}

// RefreshOpenQuery holds the query parameters of a bulk status refresh
type RefreshOpenQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// Fulfill places one remote order per marketplace the order's items came from.
// A partially fulfilled order is still a 200; the result lists the failures.
// POST /orders/:id/fulfill
func (h *OrderHandler) Fulfill(c *gin.Context) {
	orderID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	result, err := h.fulfiller.ProcessNewOrder(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Order fulfillment requested",
		zap.String("operator", getOperator(c)),
		zap.String("order_id", orderID.String()),
		zap.Bool("success", result.Success),
	)
	h.Success(c, result)
}

// RefreshStatus pulls the remote status of one order.
// POST /orders/:id/refresh-status
func (h *OrderHandler) RefreshStatus(c *gin.Context) {
	orderID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	h.Success(c, h.fulfiller.UpdateOrderStatusFromMarketplace(c.Request.Context(), orderID))
}

// RefreshOpen pulls the remote status of open linked orders.
// POST /orders/refresh-status
func (h *OrderHandler) RefreshOpen(c *gin.Context) {
	var query RefreshOpenQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindingError(c, err)
		return
	}
	if query.Limit == 0 {
		query.Limit = 100
	}

	result, err := h.fulfiller.RefreshOpenOrders(c.Request.Context(), query.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ListReturns lists the returns of an order.
// GET /orders/:id/returns
func (h *OrderHandler) ListReturns(c *gin.Context) {
	orderID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	returns, err := h.fulfiller.ListReturns(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToOrderReturnResponses(returns))
}

// ListFulfillmentLogs lists the fulfillment audit trail of an order.
// GET /orders/:id/fulfillment-logs
func (h *OrderHandler) ListFulfillmentLogs(c *gin.Context) {
	orderID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	logs, err := h.fulfiller.ListFulfillmentLogs(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToFulfillmentLogResponses(logs))
}

// InitiateReturn opens a return for one order item.
// POST /returns
func (h *OrderHandler) InitiateReturn(c *gin.Context) {
	var req InitiateReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	appReq := integration.InitiateReturnRequest{
		OrderItemID: uuid.MustParse(req.OrderItemID),
		Reason:      req.Reason,
	}

	result := h.fulfiller.InitiateReturn(c.Request.Context(), appReq.OrderItemID, appReq.Reason)
	if !result.Success {
		h.UnprocessableEntity(c, dto.ErrCodeBusinessRule, result.Message)
		return
	}
	h.Created(c, result)
}

// AdvanceReturn moves a return to processing or resolved.
// PATCH /returns/:id
func (h *OrderHandler) AdvanceReturn(c *gin.Context) {
	returnID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req AdvanceReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	if req.RefundAmount != nil && req.RefundAmount.IsNegative() {
		h.BadRequest(c, "refund_amount must not be negative")
		return
	}

	ret, err := h.fulfiller.AdvanceReturn(c.Request.Context(), returnID, trade.ReturnStatus(req.Status), req.RefundAmount)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToOrderReturnResponse(ret))
}
