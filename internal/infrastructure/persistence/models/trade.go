package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/trade"
)

// AddressJSON is the stored shape of a shipping address
type AddressJSON struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// OrderModel is the persistence model for the Order aggregate root.
type OrderModel struct {
	AggregateModel
	OrderNumber        string                  `gorm:"type:varchar(50);not null;uniqueIndex:idx_order_number"`
	CustomerName       string                  `gorm:"type:varchar(200)"`
	ShippingAddress    AddressJSON             `gorm:"type:jsonb;serializer:json"`
	PaymentMethod      string                  `gorm:"type:varchar(30)"`
	Currency           string                  `gorm:"type:varchar(3)"`
	TotalAmount        decimal.Decimal         `gorm:"type:decimal(18,4);not null;default:0"`
	Status             trade.OrderStatus       `gorm:"type:varchar(30);not null;default:'pending';index"`
	MarketplaceOrderID *string                 `gorm:"type:varchar(100)"`
	MarketplaceName    *string                 `gorm:"type:varchar(30)"`
	MarketplaceStatus  *string                 `gorm:"type:varchar(30)"`
	Items              []OrderItemModel        `gorm:"foreignKey:OrderID;references:ID"`
	MarketplaceOrders  []MarketplaceOrderModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model to a domain Order. Item marketplace
// fields are left for the repository to fill from products.
func (m *OrderModel) ToDomain() *trade.Order {
	order := &trade.Order{
		BaseAggregateRoot:  m.ToAggregateRoot(),
		OrderNumber:        m.OrderNumber,
		CustomerName:       m.CustomerName,
		ShippingAddress:    marketplace.Address(m.ShippingAddress),
		PaymentMethod:      m.PaymentMethod,
		Currency:           m.Currency,
		TotalAmount:        m.TotalAmount,
		Status:             m.Status,
		MarketplaceOrderID: m.MarketplaceOrderID,
		Items:              make([]trade.OrderItem, 0, len(m.Items)),
		MarketplaceOrders:  make([]trade.MarketplaceOrder, 0, len(m.MarketplaceOrders)),
	}
	if m.MarketplaceName != nil {
		name := marketplace.Name(*m.MarketplaceName)
		order.MarketplaceName = &name
	}
	if m.MarketplaceStatus != nil {
		status := marketplace.OrderStatus(*m.MarketplaceStatus)
		order.MarketplaceStatus = &status
	}
	for i := range m.Items {
		order.Items = append(order.Items, m.Items[i].ToDomain())
	}
	for i := range m.MarketplaceOrders {
		order.MarketplaceOrders = append(order.MarketplaceOrders, m.MarketplaceOrders[i].ToDomain())
	}
	return order
}

// FromDomain populates the persistence model from a domain Order.
func (m *OrderModel) FromDomain(o *trade.Order) {
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	m.OrderNumber = o.OrderNumber
	m.CustomerName = o.CustomerName
	m.ShippingAddress = AddressJSON(o.ShippingAddress)
	m.PaymentMethod = o.PaymentMethod
	m.Currency = o.Currency
	m.TotalAmount = o.TotalAmount
	m.Status = o.Status
	m.MarketplaceOrderID = o.MarketplaceOrderID
	m.MarketplaceName = nil
	if o.MarketplaceName != nil {
		name := o.MarketplaceName.String()
		m.MarketplaceName = &name
	}
	m.MarketplaceStatus = nil
	if o.MarketplaceStatus != nil {
		status := string(*o.MarketplaceStatus)
		m.MarketplaceStatus = &status
	}
	m.Items = make([]OrderItemModel, len(o.Items))
	for i := range o.Items {
		m.Items[i].FromDomain(&o.Items[i])
		m.Items[i].OrderID = o.ID
	}
	m.MarketplaceOrders = make([]MarketplaceOrderModel, len(o.MarketplaceOrders))
	for i := range o.MarketplaceOrders {
		m.MarketplaceOrders[i] = *MarketplaceOrderModelFromDomain(&o.MarketplaceOrders[i])
		m.MarketplaceOrders[i].OrderID = o.ID
	}
}

// OrderModelFromDomain creates a new persistence model from a domain Order.
func OrderModelFromDomain(o *trade.Order) *OrderModel {
	m := &OrderModel{}
	m.FromDomain(o)
	return m
}

// OrderItemModel is the persistence model for an order line.
type OrderItemModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductName string          `gorm:"type:varchar(300)"`
	Quantity    int             `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ToDomain converts the persistence model to a domain OrderItem.
func (m *OrderItemModel) ToDomain() trade.OrderItem {
	return trade.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		ProductName: m.ProductName,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
	}
}

// FromDomain populates the persistence model from a domain OrderItem.
func (m *OrderItemModel) FromDomain(i *trade.OrderItem) {
	m.ID = i.ID
	m.OrderID = i.OrderID
	m.ProductID = i.ProductID
	m.ProductName = i.ProductName
	m.Quantity = i.Quantity
	m.UnitPrice = i.UnitPrice
}

// MarketplaceOrderModel links an order to one remote marketplace order.
// (order_id, marketplace_name) is unique.
type MarketplaceOrderModel struct {
	ID              uuid.UUID               `gorm:"type:uuid;primary_key"`
	OrderID         uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex:idx_order_marketplace,priority:1"`
	MarketplaceName marketplace.Name        `gorm:"type:varchar(30);not null;uniqueIndex:idx_order_marketplace,priority:2"`
	RemoteOrderID   string                  `gorm:"type:varchar(100);not null"`
	Status          marketplace.OrderStatus `gorm:"type:varchar(30);not null"`
	CreatedAt       time.Time               `gorm:"not null"`
	UpdatedAt       time.Time               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MarketplaceOrderModel) TableName() string {
	return "order_marketplace_links"
}

// ToDomain converts the persistence model to a domain MarketplaceOrder.
func (m *MarketplaceOrderModel) ToDomain() trade.MarketplaceOrder {
	return trade.MarketplaceOrder{
		ID:            m.ID,
		OrderID:       m.OrderID,
		Marketplace:   m.MarketplaceName,
		RemoteOrderID: m.RemoteOrderID,
		Status:        m.Status,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// MarketplaceOrderModelFromDomain creates a persistence model from a domain MarketplaceOrder.
func MarketplaceOrderModelFromDomain(l *trade.MarketplaceOrder) *MarketplaceOrderModel {
	return &MarketplaceOrderModel{
		ID:              l.ID,
		OrderID:         l.OrderID,
		MarketplaceName: l.Marketplace,
		RemoteOrderID:   l.RemoteOrderID,
		Status:          l.Status,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

// OrderReturnModel is the persistence model for a return request.
type OrderReturnModel struct {
	ID           uuid.UUID          `gorm:"type:uuid;primary_key"`
	OrderID      uuid.UUID          `gorm:"type:uuid;not null;index"`
	OrderItemID  uuid.UUID          `gorm:"type:uuid;not null;index"`
	Reason       string             `gorm:"type:text;not null"`
	Status       trade.ReturnStatus `gorm:"type:varchar(20);not null"`
	RefundAmount decimal.Decimal    `gorm:"type:decimal(18,4);not null;default:0"`
	CreatedAt    time.Time          `gorm:"not null"`
	UpdatedAt    time.Time          `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderReturnModel) TableName() string {
	return "order_returns"
}

// ToDomain converts the persistence model to a domain OrderReturn.
func (m *OrderReturnModel) ToDomain() *trade.OrderReturn {
	return &trade.OrderReturn{
		ID:           m.ID,
		OrderID:      m.OrderID,
		OrderItemID:  m.OrderItemID,
		Reason:       m.Reason,
		Status:       m.Status,
		RefundAmount: m.RefundAmount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// OrderReturnModelFromDomain creates a persistence model from a domain OrderReturn.
func OrderReturnModelFromDomain(r *trade.OrderReturn) *OrderReturnModel {
	return &OrderReturnModel{
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

// FulfillmentLogModel is the persistence model for fulfillment audit rows.
type FulfillmentLogModel struct {
	ID                uuid.UUID                       `gorm:"type:uuid;primary_key"`
	OrderID           uuid.UUID                       `gorm:"type:uuid;not null;index:idx_fulfillment_log_order_created,priority:1"`
	Operation         trade.FulfillmentOperation      `gorm:"type:varchar(30);not null"`
	Success           bool                            `gorm:"not null"`
	MarketplaceOrders []trade.MarketplaceOrderOutcome `gorm:"type:jsonb;serializer:json"`
	Errors            []string                        `gorm:"type:jsonb;serializer:json"`
	Message           string                          `gorm:"type:text"`
	CreatedAt         time.Time                       `gorm:"not null;index:idx_fulfillment_log_order_created,priority:2"`
}

// TableName returns the table name for GORM
func (FulfillmentLogModel) TableName() string {
	return "fulfillment_logs"
}

// ToDomain converts the persistence model to a domain FulfillmentLog.
func (m *FulfillmentLogModel) ToDomain() *trade.FulfillmentLog {
	log := &trade.FulfillmentLog{
		ID:                m.ID,
		OrderID:           m.OrderID,
		Operation:         m.Operation,
		Success:           m.Success,
		MarketplaceOrders: m.MarketplaceOrders,
		Errors:            m.Errors,
		Message:           m.Message,
		CreatedAt:         m.CreatedAt,
	}
	if log.MarketplaceOrders == nil {
		log.MarketplaceOrders = []trade.MarketplaceOrderOutcome{}
	}
	if log.Errors == nil {
		log.Errors = []string{}
	}
	return log
}

// FulfillmentLogModelFromDomain creates a persistence model from a domain FulfillmentLog.
func FulfillmentLogModelFromDomain(l *trade.FulfillmentLog) *FulfillmentLogModel {
	return &FulfillmentLogModel{
		ID:                l.ID,
		OrderID:           l.OrderID,
		Operation:         l.Operation,
		Success:           l.Success,
		MarketplaceOrders: l.MarketplaceOrders,
		Errors:            l.Errors,
		Message:           l.Message,
		CreatedAt:         l.CreatedAt,
	}
}
