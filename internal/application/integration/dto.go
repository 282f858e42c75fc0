package integration

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/trade"
)

// ---------------------------------------------------------------------------
// Sync DTOs
// ---------------------------------------------------------------------------

// SyncResultResponse represents a sync run in API responses
type SyncResultResponse struct {
	SyncLogID         uuid.UUID                 `json:"sync_log_id"`
	Marketplace       marketplace.Name          `json:"marketplace"`
	Operation         marketplace.SyncOperation `json:"operation"`
	Status            marketplace.SyncStatus    `json:"status"`
	Success           bool                      `json:"success"`
	ProductsProcessed int                       `json:"products_processed"`
	ProductsImported  int                       `json:"products_imported"`
	ProductsUpdated   int                       `json:"products_updated"`
	Errors            []string                  `json:"errors"`
	StartedAt         time.Time                 `json:"started_at"`
	CompletedAt       *time.Time                `json:"completed_at,omitempty"`
}

// ToSyncResultResponse converts a SyncResult to a response DTO
func ToSyncResultResponse(r *marketplace.SyncResult) SyncResultResponse {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	return SyncResultResponse{
		SyncLogID:         r.SyncLogID,
		Marketplace:       r.Marketplace,
		Operation:         r.Operation,
		Status:            r.Status,
		Success:           r.Success(),
		ProductsProcessed: r.ProductsProcessed,
		ProductsImported:  r.ProductsImported,
		ProductsUpdated:   r.ProductsUpdated,
		Errors:            errs,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
	}
}

// ToSyncLogResponses converts stored sync logs to response DTOs
func ToSyncLogResponses(logs []marketplace.SyncLog) []SyncResultResponse {
	responses := make([]SyncResultResponse, len(logs))
	for i := range logs {
		responses[i] = ToSyncResultResponse(logs[i].Result())
	}
	return responses
}

// PriceStockResponse is the price and stock of a product after an edit
type PriceStockResponse struct {
	ProductID           uuid.UUID        `json:"product_id"`
	Price               decimal.Decimal  `json:"price"`
	Stock               int              `json:"stock"`
	Source              string           `json:"source"`
	PriceStockUpdatedAt time.Time        `json:"price_stock_updated_at"`
	Marketplace         marketplace.Name `json:"marketplace,omitempty"`
	Version             int              `json:"version"`
}

// ToPriceStockResponse converts a product to a PriceStockResponse
func ToPriceStockResponse(p *catalog.Product) PriceStockResponse {
	return PriceStockResponse{
		ProductID:           p.ID,
		Price:               p.Price,
		Stock:               p.Stock,
		Source:              string(p.PriceStockSource),
		PriceStockUpdatedAt: p.PriceStockUpdatedAt,
		Marketplace:         p.MarketplaceName,
		Version:             p.Version,
	}
}

// ImportProductsRequest represents a request to import products
type ImportProductsRequest struct {
	MaxProducts int              `json:"max_products" validate:"omitempty,min=1,max=500"`
	Category    string           `json:"category,omitempty" validate:"max=100"`
	MinPrice    *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice    *decimal.Decimal `json:"max_price,omitempty"`
	Query       string           `json:"query,omitempty" validate:"max=200"`
}

// ToOptions converts the request to ImportOptions
func (r ImportProductsRequest) ToOptions() ImportOptions {
	return ImportOptions{
		MaxProducts:    r.MaxProducts,
		CategoryFilter: r.Category,
		MinPrice:       r.MinPrice,
		MaxPrice:       r.MaxPrice,
		Query:          r.Query,
	}
}

// DailySyncRequest represents a request to run the daily sweep now
type DailySyncRequest struct {
	DelayBetweenCallsMs int `json:"delay_between_calls_ms" validate:"min=0,max=60000"`
	BatchSize           int `json:"batch_size" validate:"omitempty,min=1,max=500"`
	MaxConcurrent       int `json:"max_concurrent" validate:"omitempty,min=1,max=32"`
}

// ToConfig converts the request to a DailySyncConfig
func (r DailySyncRequest) ToConfig() DailySyncConfig {
	return DailySyncConfig{
		DelayBetweenCalls: time.Duration(r.DelayBetweenCallsMs) * time.Millisecond,
		BatchSize:         r.BatchSize,
		MaxConcurrent:     r.MaxConcurrent,
	}
}

// SyncLogListFilter represents filter options for listing sync logs
type SyncLogListFilter struct {
	Marketplace string `form:"marketplace"`
	Operation   string `form:"operation"`
	Status      string `form:"status"`
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
	SortBy      string `form:"sort_by"`
	SortOrder   string `form:"sort_order"`
}

// ToDomainFilter converts a list filter to domain filter
func (f SyncLogListFilter) ToDomainFilter() marketplace.SyncLogFilter {
	filter := marketplace.SyncLogFilter{
		Page:      f.Page,
		PageSize:  f.PageSize,
		SortBy:    f.SortBy,
		SortOrder: f.SortOrder,
	}
	if name, err := marketplace.ParseName(f.Marketplace); err == nil {
		filter.Marketplace = &name
	}
	if f.Operation != "" {
		op := marketplace.SyncOperation(f.Operation)
		filter.Operation = &op
	}
	if status := marketplace.SyncStatus(f.Status); status.IsValid() {
		filter.Status = &status
	}
	return filter
}

// ---------------------------------------------------------------------------
// Connection DTOs
// ---------------------------------------------------------------------------

// RateLimitPolicyDTO is the wire form of a rate limit policy
type RateLimitPolicyDTO struct {
	MaxConcurrent           int `json:"max_concurrent" validate:"min=0,max=100"`
	MinSpacingMs            int `json:"min_spacing_ms" validate:"min=0,max=60000"`
	Reservoir               int `json:"reservoir" validate:"min=0"`
	ReservoirRefreshSeconds int `json:"reservoir_refresh_seconds" validate:"min=0,max=86400"`
}

// ToDomain converts the DTO to a RateLimitPolicy
func (p RateLimitPolicyDTO) ToDomain() marketplace.RateLimitPolicy {
	return marketplace.RateLimitPolicy{
		MaxConcurrent:    p.MaxConcurrent,
		MinSpacing:       time.Duration(p.MinSpacingMs) * time.Millisecond,
		Reservoir:        p.Reservoir,
		ReservoirRefresh: time.Duration(p.ReservoirRefreshSeconds) * time.Second,
	}
}

func rateLimitPolicyDTO(p marketplace.RateLimitPolicy) RateLimitPolicyDTO {
	return RateLimitPolicyDTO{
		MaxConcurrent:           p.MaxConcurrent,
		MinSpacingMs:            int(p.MinSpacing / time.Millisecond),
		Reservoir:               p.Reservoir,
		ReservoirRefreshSeconds: int(p.ReservoirRefresh / time.Second),
	}
}

// ConnectionSettingsResponse represents connection settings in API responses.
// Credentials are never returned, only their reference.
type ConnectionSettingsResponse struct {
	ID            uuid.UUID          `json:"id"`
	Marketplace   marketplace.Name   `json:"marketplace"`
	DisplayName   string             `json:"display_name"`
	IsActive      bool               `json:"is_active"`
	CredentialRef string             `json:"credential_ref"`
	RateLimit     RateLimitPolicyDTO `json:"rate_limit"`
	LastTestedAt  *time.Time         `json:"last_tested_at,omitempty"`
	LastTestOK    bool               `json:"last_test_ok"`
	LastTestError string             `json:"last_test_error,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// ToConnectionSettingsResponse converts settings to a response DTO
func ToConnectionSettingsResponse(s *marketplace.ConnectionSettings) ConnectionSettingsResponse {
	return ConnectionSettingsResponse{
		ID:            s.ID,
		Marketplace:   s.Marketplace,
		DisplayName:   s.Marketplace.DisplayName(),
		IsActive:      s.IsActive,
		CredentialRef: s.CredentialRef,
		RateLimit:     rateLimitPolicyDTO(s.RateLimit),
		LastTestedAt:  s.LastTestedAt,
		LastTestOK:    s.LastTestOK,
		LastTestError: s.LastTestError,
		UpdatedAt:     s.UpdatedAt,
	}
}

// ToConnectionSettingsResponses converts a slice of settings to response DTOs
func ToConnectionSettingsResponses(settings []marketplace.ConnectionSettings) []ConnectionSettingsResponse {
	responses := make([]ConnectionSettingsResponse, len(settings))
	for i := range settings {
		responses[i] = ToConnectionSettingsResponse(&settings[i])
	}
	return responses
}

// UpdateConnectionRequest represents a request to change connection settings
type UpdateConnectionRequest struct {
	IsActive      *bool               `json:"is_active,omitempty"`
	CredentialRef *string             `json:"credential_ref,omitempty" validate:"omitempty,max=200"`
	RateLimit     *RateLimitPolicyDTO `json:"rate_limit,omitempty"`
}

// ToInput converts the request to UpdateSettingsInput
func (r UpdateConnectionRequest) ToInput() UpdateSettingsInput {
	input := UpdateSettingsInput{
		IsActive:      r.IsActive,
		CredentialRef: r.CredentialRef,
	}
	if r.RateLimit != nil {
		policy := r.RateLimit.ToDomain()
		input.RateLimit = &policy
	}
	return input
}

// ---------------------------------------------------------------------------
// Fulfillment DTOs
// ---------------------------------------------------------------------------

// InitiateReturnRequest represents a request to return an order item
type InitiateReturnRequest struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required"`
	Reason      string    `json:"reason" validate:"required,max=500"`
}

// AdvanceReturnRequest represents a request to move a return forward
type AdvanceReturnRequest struct {
	Status       string           `json:"status" validate:"required,oneof=processing resolved"`
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
}

// OrderReturnResponse represents a return in API responses
type OrderReturnResponse struct {
	ID           uuid.UUID          `json:"id"`
	OrderID      uuid.UUID          `json:"order_id"`
	OrderItemID  uuid.UUID          `json:"order_item_id"`
	Reason       string             `json:"reason"`
	Status       trade.ReturnStatus `json:"status"`
	RefundAmount decimal.Decimal    `json:"refund_amount"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// ToOrderReturnResponse converts a return to a response DTO
func ToOrderReturnResponse(r *trade.OrderReturn) OrderReturnResponse {
	return OrderReturnResponse{
		ID:           r.ID,
		OrderID:      r.OrderID,
		OrderItemID:  r.OrderItemID,
		Reason:       r.Reason,
		Status:       r.Status,
		RefundAmount: r.RefundAmount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// ToOrderReturnResponses converts a slice of returns to response DTOs
func ToOrderReturnResponses(returns []trade.OrderReturn) []OrderReturnResponse {
	responses := make([]OrderReturnResponse, len(returns))
	for i := range returns {
		responses[i] = ToOrderReturnResponse(&returns[i])
	}
	return responses
}

// FulfillmentLogResponse represents a fulfillment audit row in API responses
type FulfillmentLogResponse struct {
	ID                uuid.UUID                       `json:"id"`
	Operation         trade.FulfillmentOperation      `json:"operation"`
	Success           bool                            `json:"success"`
	MarketplaceOrders []trade.MarketplaceOrderOutcome `json:"marketplace_orders"`
	Errors            []string                        `json:"errors"`
	Message           string                          `json:"message"`
	CreatedAt         time.Time                       `json:"created_at"`
}

// ToFulfillmentLogResponses converts log rows to response DTOs
func ToFulfillmentLogResponses(logs []trade.FulfillmentLog) []FulfillmentLogResponse {
	responses := make([]FulfillmentLogResponse, len(logs))
	for i, l := range logs {
		responses[i] = FulfillmentLogResponse{
			ID:                l.ID,
			Operation:         l.Operation,
			Success:           l.Success,
			MarketplaceOrders: l.MarketplaceOrders,
			Errors:            l.Errors,
			Message:           l.Message,
			CreatedAt:         l.CreatedAt,
		}
	}
	return responses
}
