package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/application/integration"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
)

// ProductSyncer runs product imports and price and stock refreshes
type ProductSyncer interface {
	ImportFromMarketplace(ctx context.Context, name marketplace.Name, opts integration.ImportOptions) (*marketplace.SyncResult, error)
	RunDailySync(ctx context.Context, name marketplace.Name, cfg integration.DailySyncConfig) (*marketplace.SyncResult, error)
	UpdateProductStockAndPrice(ctx context.Context, productID uuid.UUID, name marketplace.Name) integration.OperationResult
	PushInventory(ctx context.Context, productID uuid.UUID) integration.OperationResult
	SetPriceStock(ctx context.Context, productID uuid.UUID, price decimal.Decimal, stock int) (*catalog.Product, error)
}

// SyncLogReader reads the audit trail of sync runs
type SyncLogReader interface {
	ListSyncLogs(ctx context.Context, filter marketplace.SyncLogFilter) ([]marketplace.SyncLog, int64, error)
	GetSyncLog(ctx context.Context, id uuid.UUID) (*marketplace.SyncLog, error)
}

// SyncHandler handles product synchronization endpoints
type SyncHandler struct {
	BaseHandler
	syncer ProductSyncer
	logs   SyncLogReader
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(syncer ProductSyncer, logs SyncLogReader) *SyncHandler {
	return &SyncHandler{syncer: syncer, logs: logs}
}

// ImportProductsRequest is the HTTP body of an import
type ImportProductsRequest struct {
	MaxProducts int              `json:"max_products" binding:"omitempty,min=1,max=500"`
	Category    string           `json:"category" binding:"max=100"`
	MinPrice    *decimal.Decimal `json:"min_price"`
	MaxPrice    *decimal.Decimal `json:"max_price"`
	Query       string           `json:"query" binding:"max=200"`
}

// DailySyncRequest is the HTTP body of an on-demand daily sweep
type DailySyncRequest struct {
	DelayBetweenCallsMs int `json:"delay_between_calls_ms" binding:"min=0,max=60000"`
	BatchSize           int `json:"batch_size" binding:"omitempty,min=1,max=500"`
	MaxConcurrent       int `json:"max_concurrent" binding:"omitempty,min=1,max=32"`
}

// SetPriceStockRequest is the HTTP body of a manual price and stock edit
type SetPriceStockRequest struct {
	Price *decimal.Decimal `json:"price" binding:"required"`
	Stock *int             `json:"stock" binding:"required,min=0"`
}

// SyncLogListQuery holds the query parameters of the sync log list
type SyncLogListQuery struct {
	Marketplace string `form:"marketplace" binding:"max=50"`
	Operation   string `form:"operation" binding:"max=50"`
	Status      string `form:"status" binding:"omitempty,oneof=running completed failed"`
	Page        int    `form:"page" binding:"omitempty,min=1"`
	PageSize    int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	SortBy      string `form:"sort_by" binding:"max=50"`
	SortOrder   string `form:"sort_order" binding:"omitempty,oneof=asc desc ASC DESC"`
}

// Import pulls listings from one marketplace into the local catalog.
// POST /sync/:marketplace/import
func (h *SyncHandler) Import(c *gin.Context) {
	name, ok := h.marketplaceParam(c)
	if !ok {
		return
	}

	var req ImportProductsRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	if req.MinPrice != nil && req.MaxPrice != nil && req.MinPrice.GreaterThan(*req.MaxPrice) {
		h.BadRequest(c, "min_price must not exceed max_price")
		return
	}

	appReq := integration.ImportProductsRequest{
		MaxProducts: req.MaxProducts,
		Category:    req.Category,
		MinPrice:    req.MinPrice,
		MaxPrice:    req.MaxPrice,
		Query:       req.Query,
	}

	ctx := logger.WithMarketplace(c.Request.Context(), name.String())
	result, err := h.syncer.ImportFromMarketplace(ctx, name, appReq.ToOptions())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Product import requested",
		zap.String("operator", getOperator(c)),
		zap.String("marketplace", name.String()),
		zap.String("sync_log_id", result.SyncLogID.String()),
	)
	h.Success(c, integration.ToSyncResultResponse(result))
}

// DailySync runs the price and stock sweep of one marketplace now.
// POST /sync/:marketplace/daily
func (h *SyncHandler) DailySync(c *gin.Context) {
	name, ok := h.marketplaceParam(c)
	if !ok {
		return
	}

	var req DailySyncRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	appReq := integration.DailySyncRequest{
		DelayBetweenCallsMs: req.DelayBetweenCallsMs,
		BatchSize:           req.BatchSize,
		MaxConcurrent:       req.MaxConcurrent,
	}

	ctx := logger.WithMarketplace(c.Request.Context(), name.String())
	result, err := h.syncer.RunDailySync(ctx, name, appReq.ToConfig())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToSyncResultResponse(result))
}

// RefreshProduct re-reads price and stock of one product from its marketplace.
// POST /sync/:marketplace/products/:id/refresh
func (h *SyncHandler) RefreshProduct(c *gin.Context) {
	name, ok := h.marketplaceParam(c)
	if !ok {
		return
	}
	productID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	result := h.syncer.UpdateProductStockAndPrice(c.Request.Context(), productID, name)
	h.Success(c, result)
}

// PushInventory sends the local stock of a product to its marketplace.
// POST /products/:id/push-inventory
func (h *SyncHandler) PushInventory(c *gin.Context) {
	productID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	h.Success(c, h.syncer.PushInventory(c.Request.Context(), productID))
}

// SetPriceStock records a manual price and stock edit. Later marketplace
// snapshots observed before the edit do not overwrite it.
// PATCH /products/:id/price-stock
func (h *SyncHandler) SetPriceStock(c *gin.Context) {
	productID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req SetPriceStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	if req.Price.IsNegative() {
		h.BadRequest(c, "price must not be negative")
		return
	}

	product, err := h.syncer.SetPriceStock(c.Request.Context(), productID, *req.Price, *req.Stock)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Price and stock edit requested",
		zap.String("operator", getOperator(c)),
		zap.String("product_id", productID.String()),
	)
	h.Success(c, integration.ToPriceStockResponse(product))
}

// ListSyncLogs lists sync runs, newest first unless sort_by says otherwise.
// GET /sync-logs
func (h *SyncHandler) ListSyncLogs(c *gin.Context) {
	var query SyncLogListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindingError(c, err)
		return
	}

	if query.Marketplace != "" {
		if _, err := marketplace.ParseName(query.Marketplace); err != nil {
			h.BadRequest(c, "Unknown marketplace: "+query.Marketplace)
			return
		}
	}
	if query.Page == 0 {
		query.Page = 1
	}
	if query.PageSize == 0 {
		query.PageSize = 20
	}
	filter := integration.SyncLogListFilter{
		Marketplace: query.Marketplace,
		Operation:   query.Operation,
		Status:      query.Status,
		Page:        query.Page,
		PageSize:    query.PageSize,
		SortBy:      query.SortBy,
		SortOrder:   query.SortOrder,
	}.ToDomainFilter()

	logs, total, err := h.logs.ListSyncLogs(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, integration.ToSyncLogResponses(logs), total, filter.Page, filter.PageSize)
}

// GetSyncLog returns one sync run.
// GET /sync-logs/:id
func (h *SyncHandler) GetSyncLog(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	log, err := h.logs.GetSyncLog(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToSyncResultResponse(log.Result()))
}
