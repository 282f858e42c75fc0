package catalog

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
)

var (
	ErrProductNotFound        = shared.NewDomainError("PRODUCT_NOT_FOUND", "Product not found")
	ErrDuplicateMarketplaceID = shared.NewDomainError("ALREADY_EXISTS", "A product with this marketplace identity already exists")
	ErrStaleUpdate            = shared.NewDomainError("STALE_UPDATE", "Price and stock were written more recently than this update")
	errNegativePrice          = shared.NewDomainError("INVALID_INPUT", "Price cannot be negative")
	errNegativeStock          = shared.NewDomainError("INVALID_INPUT", "Stock cannot be negative")

	errMissingMarketplaceIdentity = errors.New("catalog: marketplace product has no id")
	errMissingTitle               = errors.New("catalog: marketplace product has no title")
)

// PriceStockSource records which writer last set price and stock
type PriceStockSource string

const (
	// PriceStockSourceManual is an edit made through the admin console
	PriceStockSourceManual PriceStockSource = "manual"
	// PriceStockSourceMarketplace is a value written by marketplace sync
	PriceStockSourceMarketplace PriceStockSource = "marketplace_sync"
)

// Product is a local catalog product. Products imported from a marketplace
// carry a (MarketplaceName, MarketplaceProductID) identity that is unique.
type Product struct {
	shared.BaseAggregateRoot
	Name          string
	Slug          string
	Description   string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	Currency      string
	Stock         int
	CategoryID    uuid.UUID
	IsActive      bool
	IsFeatured    bool
	Images        []string
	Condition     string

	MarketplaceName      marketplace.Name
	MarketplaceProductID string

	// PriceStockSource and PriceStockUpdatedAt arbitrate concurrent writers of
	// Price, OriginalPrice and Stock. Writes observed before PriceStockUpdatedAt
	// are rejected with ErrStaleUpdate.
	PriceStockSource    PriceStockSource
	PriceStockUpdatedAt time.Time
}

// NewProductFromMarketplace creates a local product from a marketplace snapshot
func NewProductFromMarketplace(src marketplace.Product, categoryID uuid.UUID, observedAt time.Time) (*Product, error) {
	if strings.TrimSpace(src.ID) == "" {
		return nil, errMissingMarketplaceIdentity
	}
	title := strings.TrimSpace(src.Title)
	if title == "" {
		return nil, errMissingTitle
	}
	if err := validatePriceStock(src.Price, src.Stock); err != nil {
		return nil, err
	}

	p := &Product{
		BaseAggregateRoot:    shared.NewBaseAggregateRoot(),
		Name:                 title,
		Slug:                 Slugify(title + " " + src.ID),
		Description:          src.Description,
		Price:                src.Price,
		OriginalPrice:        src.OriginalPrice,
		Currency:             src.Currency,
		Stock:                src.Stock,
		CategoryID:           categoryID,
		IsActive:             true,
		Images:               slices.Clone(src.Images),
		Condition:            src.Condition,
		MarketplaceName:      src.Marketplace,
		MarketplaceProductID: src.ID,
		PriceStockSource:     PriceStockSourceMarketplace,
		PriceStockUpdatedAt:  observedAt,
	}
	return p, nil
}

// HasMarketplaceOrigin returns true for products imported from a marketplace
func (p *Product) HasMarketplaceOrigin() bool {
	return p.MarketplaceName.IsValid() && p.MarketplaceProductID != ""
}

// ApplyMarketplaceSnapshot refreshes price, stock and description from a
// marketplace snapshot. It reports whether anything changed; an unchanged
// snapshot leaves the product untouched.
func (p *Product) ApplyMarketplaceSnapshot(src marketplace.Product, observedAt time.Time) (bool, error) {
	if observedAt.Before(p.PriceStockUpdatedAt) {
		return false, ErrStaleUpdate
	}
	if err := validatePriceStock(src.Price, src.Stock); err != nil {
		return false, err
	}

	changed := !p.Price.Equal(src.Price) ||
		p.Stock != src.Stock ||
		!equalOptionalDecimal(p.OriginalPrice, src.OriginalPrice) ||
		(src.Description != "" && p.Description != src.Description)
	if !changed {
		return false, nil
	}

	p.Price = src.Price
	p.OriginalPrice = src.OriginalPrice
	p.Stock = src.Stock
	if src.Description != "" {
		p.Description = src.Description
	}
	p.touchPriceStock(PriceStockSourceMarketplace, observedAt)
	return true, nil
}

// SetPriceStock writes price and stock on behalf of source, typically a
// manual edit. It reports whether anything changed.
func (p *Product) SetPriceStock(price decimal.Decimal, stock int, source PriceStockSource, at time.Time) (bool, error) {
	if at.Before(p.PriceStockUpdatedAt) {
		return false, ErrStaleUpdate
	}
	if err := validatePriceStock(price, stock); err != nil {
		return false, err
	}
	if p.Price.Equal(price) && p.Stock == stock {
		return false, nil
	}
	p.Price = price
	p.Stock = stock
	p.touchPriceStock(source, at)
	return true, nil
}

func (p *Product) touchPriceStock(source PriceStockSource, at time.Time) {
	p.PriceStockSource = source
	p.PriceStockUpdatedAt = at
	p.Touch(time.Now())
}

func validatePriceStock(price decimal.Decimal, stock int) error {
	if price.IsNegative() {
		return errNegativePrice
	}
	if stock < 0 {
		return errNegativeStock
	}
	return nil
}

func equalOptionalDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
