package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
)

// ProductModel is the persistence model for the Product aggregate root.
// Local-only products keep NULL marketplace columns so the identity index
// only constrains imported products.
type ProductModel struct {
	AggregateModel
	Name                 string                   `gorm:"type:varchar(300);not null"`
	Slug                 string                   `gorm:"type:varchar(400);not null;uniqueIndex:idx_product_slug"`
	Description          string                   `gorm:"type:text"`
	Price                decimal.Decimal          `gorm:"type:decimal(18,4);not null;default:0"`
	OriginalPrice        *decimal.Decimal         `gorm:"type:decimal(18,4)"`
	Currency             string                   `gorm:"type:varchar(3)"`
	Stock                int                      `gorm:"not null;default:0"`
	CategoryID           uuid.UUID                `gorm:"type:uuid;not null;index"`
	IsActive             bool                     `gorm:"not null"`
	IsFeatured           bool                     `gorm:"not null"`
	Images               []string                 `gorm:"type:jsonb;serializer:json"`
	Condition            string                   `gorm:"type:varchar(30)"`
	MarketplaceName      *string                  `gorm:"type:varchar(30);uniqueIndex:idx_product_marketplace_identity,priority:1"`
	MarketplaceProductID *string                  `gorm:"type:varchar(100);uniqueIndex:idx_product_marketplace_identity,priority:2"`
	PriceStockSource     catalog.PriceStockSource `gorm:"type:varchar(20);not null;default:'manual'"`
	PriceStockUpdatedAt  time.Time                `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to a domain Product entity.
func (m *ProductModel) ToDomain() *catalog.Product {
	p := &catalog.Product{
		BaseAggregateRoot:   m.ToAggregateRoot(),
		Name:                m.Name,
		Slug:                m.Slug,
		Description:         m.Description,
		Price:               m.Price,
		OriginalPrice:       m.OriginalPrice,
		Currency:            m.Currency,
		Stock:               m.Stock,
		CategoryID:          m.CategoryID,
		IsActive:            m.IsActive,
		IsFeatured:          m.IsFeatured,
		Images:              m.Images,
		Condition:           m.Condition,
		PriceStockSource:    m.PriceStockSource,
		PriceStockUpdatedAt: m.PriceStockUpdatedAt,
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	if m.MarketplaceName != nil {
		p.MarketplaceName = marketplace.Name(*m.MarketplaceName)
	}
	if m.MarketplaceProductID != nil {
		p.MarketplaceProductID = *m.MarketplaceProductID
	}
	return p
}

// FromDomain populates the persistence model from a domain Product entity.
func (m *ProductModel) FromDomain(p *catalog.Product) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.Name = p.Name
	m.Slug = p.Slug
	m.Description = p.Description
	m.Price = p.Price
	m.OriginalPrice = p.OriginalPrice
	m.Currency = p.Currency
	m.Stock = p.Stock
	m.CategoryID = p.CategoryID
	m.IsActive = p.IsActive
	m.IsFeatured = p.IsFeatured
	m.Images = p.Images
	m.Condition = p.Condition
	m.MarketplaceName = nil
	m.MarketplaceProductID = nil
	if p.HasMarketplaceOrigin() {
		name, id := p.MarketplaceName.String(), p.MarketplaceProductID
		m.MarketplaceName = &name
		m.MarketplaceProductID = &id
	}
	m.PriceStockSource = p.PriceStockSource
	if m.PriceStockSource == "" {
		m.PriceStockSource = catalog.PriceStockSourceManual
	}
	m.PriceStockUpdatedAt = p.PriceStockUpdatedAt
	if m.PriceStockUpdatedAt.IsZero() {
		m.PriceStockUpdatedAt = p.CreatedAt
	}
}

// ProductModelFromDomain creates a new persistence model from a domain Product entity.
func ProductModelFromDomain(p *catalog.Product) *ProductModel {
	m := &ProductModel{}
	m.FromDomain(p)
	return m
}

// CategoryModel is the persistence model for the Category entity.
type CategoryModel struct {
	BaseModel
	Name      string `gorm:"type:varchar(200);not null"`
	Slug      string `gorm:"type:varchar(200);not null;uniqueIndex:idx_category_slug"`
	IsDefault bool   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CategoryModel) TableName() string {
	return "categories"
}

// ToDomain converts the persistence model to a domain Category entity.
func (m *CategoryModel) ToDomain() *catalog.Category {
	return &catalog.Category{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Name:      m.Name,
		Slug:      m.Slug,
		IsDefault: m.IsDefault,
	}
}

// FromDomain populates the persistence model from a domain Category entity.
func (m *CategoryModel) FromDomain(c *catalog.Category) {
	m.FromDomainBaseEntity(c.BaseEntity)
	m.Name = c.Name
	m.Slug = c.Slug
	m.IsDefault = c.IsDefault
}

// CategoryModelFromDomain creates a new persistence model from a domain Category entity.
func CategoryModelFromDomain(c *catalog.Category) *CategoryModel {
	m := &CategoryModel{}
	m.FromDomain(c)
	return m
}
