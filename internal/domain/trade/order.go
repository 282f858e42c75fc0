package trade

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
)

var (
	ErrOrderNotFound            = shared.NewDomainError("ORDER_NOT_FOUND", "Order not found")
	ErrOrderItemNotFound        = shared.NewDomainError("ORDER_ITEM_NOT_FOUND", "Order item not found")
	ErrOrderHasNoItems          = shared.NewDomainError("ORDER_HAS_NO_ITEMS", "Order has no items")
	ErrMarketplaceOrderConflict = shared.NewDomainError("ALREADY_EXISTS", "Order already has a different remote order for this marketplace")
	ErrNoMarketplaceLinkage     = shared.NewDomainError("NO_MARKETPLACE_LINKAGE", "no marketplace information")
)

// OrderStatus is the local order status
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusConfirmed       OrderStatus = "confirmed"
	OrderStatusProcessing      OrderStatus = "processing"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusReturnRequested OrderStatus = "return_requested"
)

// remoteToLocal is the fixed remote → local status table
var remoteToLocal = map[marketplace.OrderStatus]OrderStatus{
	marketplace.OrderStatusPending:    OrderStatusPending,
	marketplace.OrderStatusConfirmed:  OrderStatusConfirmed,
	marketplace.OrderStatusProcessing: OrderStatusProcessing,
	marketplace.OrderStatusShipped:    OrderStatusShipped,
	marketplace.OrderStatusDelivered:  OrderStatusDelivered,
	marketplace.OrderStatusCancelled:  OrderStatusCancelled,
}

// MapRemoteStatus maps a remote order status onto the local vocabulary.
// Unknown values map to pending.
func MapRemoteStatus(s marketplace.OrderStatus) OrderStatus {
	if local, ok := remoteToLocal[s]; ok {
		return local
	}
	return OrderStatusPending
}

// ---------------------------------------------------------------------------
// Order aggregate
// ---------------------------------------------------------------------------

// Order is a storefront order. It may map to several remote marketplace
// orders, at most one per marketplace.
type Order struct {
	shared.BaseAggregateRoot
	OrderNumber     string
	CustomerName    string
	ShippingAddress marketplace.Address
	PaymentMethod   string
	Currency        string
	TotalAmount     decimal.Decimal
	Status          OrderStatus

	// MarketplaceOrderID, MarketplaceName and MarketplaceStatus describe the
	// first remote counterpart created for this order.
	MarketplaceOrderID *string
	MarketplaceName    *marketplace.Name
	MarketplaceStatus  *marketplace.OrderStatus

	Items             []OrderItem
	MarketplaceOrders []MarketplaceOrder
}

// OrderItem is one line of an order
type OrderItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal

	// MarketplaceName and MarketplaceProductID come from the referenced
	// product and are empty for local-only products.
	MarketplaceName      marketplace.Name
	MarketplaceProductID string
}

// MarketplaceKey returns the marketplace the item originated from, or
// marketplace.Unknown when it has none
func (i OrderItem) MarketplaceKey() marketplace.Name {
	if i.MarketplaceName.IsValid() {
		return i.MarketplaceName
	}
	return marketplace.Unknown
}

// Subtotal returns quantity × unit price
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// MarketplaceOrder links an order to the remote order created for one marketplace
type MarketplaceOrder struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	Marketplace   marketplace.Name
	RemoteOrderID string
	Status        marketplace.OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder creates a pending order
func NewOrder(orderNumber string, address marketplace.Address, paymentMethod, currency string) *Order {
	return &Order{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		OrderNumber:       orderNumber,
		ShippingAddress:   address,
		PaymentMethod:     paymentMethod,
		Currency:          currency,
		TotalAmount:       decimal.Zero,
		Status:            OrderStatusPending,
	}
}

// AddItem appends an item and updates the total
func (o *Order) AddItem(productID uuid.UUID, name string, quantity int, unitPrice decimal.Decimal) *OrderItem {
	item := OrderItem{
		ID:          uuid.New(),
		OrderID:     o.ID,
		ProductID:   productID,
		ProductName: name,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
	}
	o.Items = append(o.Items, item)
	o.TotalAmount = o.TotalAmount.Add(item.Subtotal())
	return &o.Items[len(o.Items)-1]
}

// FindItem returns the item with the given ID
func (o *Order) FindItem(itemID uuid.UUID) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// GroupItemsByMarketplace groups items by originating marketplace
func (o *Order) GroupItemsByMarketplace() map[marketplace.Name][]OrderItem {
	groups := make(map[marketplace.Name][]OrderItem)
	for _, item := range o.Items {
		key := item.MarketplaceKey()
		groups[key] = append(groups[key], item)
	}
	return groups
}

// SortedMarketplaces returns the group keys in a stable order
func SortedMarketplaces(groups map[marketplace.Name][]OrderItem) []marketplace.Name {
	names := make([]marketplace.Name, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// MarketplaceOrderFor returns the link for a marketplace, if any
func (o *Order) MarketplaceOrderFor(name marketplace.Name) (*MarketplaceOrder, bool) {
	for i := range o.MarketplaceOrders {
		if o.MarketplaceOrders[i].Marketplace == name {
			return &o.MarketplaceOrders[i], true
		}
	}
	return nil, false
}

// HasMarketplaceLinkage returns true once any remote order exists
func (o *Order) HasMarketplaceLinkage() bool {
	if len(o.MarketplaceOrders) > 0 {
		return true
	}
	return o.MarketplaceOrderID != nil && o.MarketplaceName != nil && *o.MarketplaceOrderID != ""
}

// RecordMarketplaceOrder links a remote order to this order. Recording the
// same remote order twice is a no-op; a different remote id for an already
// linked marketplace is rejected.
func (o *Order) RecordMarketplaceOrder(name marketplace.Name, remoteOrderID string, status marketplace.OrderStatus) (*MarketplaceOrder, error) {
	if existing, ok := o.MarketplaceOrderFor(name); ok {
		if existing.RemoteOrderID != remoteOrderID {
			return nil, ErrMarketplaceOrderConflict
		}
		return existing, nil
	}

	now := time.Now()
	status = marketplace.NormalizeOrderStatus(string(status))
	o.MarketplaceOrders = append(o.MarketplaceOrders, MarketplaceOrder{
		ID:            uuid.New(),
		OrderID:       o.ID,
		Marketplace:   name,
		RemoteOrderID: remoteOrderID,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	if o.MarketplaceOrderID == nil {
		id, n, s := remoteOrderID, name, status
		o.MarketplaceOrderID = &id
		o.MarketplaceName = &n
		o.MarketplaceStatus = &s
	}
	o.refreshStatus()
	return &o.MarketplaceOrders[len(o.MarketplaceOrders)-1], nil
}

// ApplyRemoteStatus records a polled remote status for a marketplace link
func (o *Order) ApplyRemoteStatus(name marketplace.Name, status marketplace.OrderStatus) error {
	status = marketplace.NormalizeOrderStatus(string(status))
	link, ok := o.MarketplaceOrderFor(name)
	if !ok {
		if o.MarketplaceName == nil || *o.MarketplaceName != name {
			return ErrNoMarketplaceLinkage
		}
	} else {
		link.Status = status
		link.UpdatedAt = time.Now()
	}
	if o.MarketplaceName != nil && *o.MarketplaceName == name {
		s := status
		o.MarketplaceStatus = &s
	}
	o.refreshStatus()
	return nil
}

// MarkReturnRequested flags the order as having a return in progress
func (o *Order) MarkReturnRequested() {
	if o.Status == OrderStatusReturnRequested {
		return
	}
	o.Status = OrderStatusReturnRequested
	o.touch()
}

// refreshStatus derives the local status from remote statuses: the least
// advanced live remote order wins, and the order is cancelled only when every
// remote order is. A return in progress is never overwritten.
func (o *Order) refreshStatus() {
	defer o.touch()
	if o.Status == OrderStatusReturnRequested {
		return
	}

	statuses := make([]marketplace.OrderStatus, 0, len(o.MarketplaceOrders))
	for _, link := range o.MarketplaceOrders {
		statuses = append(statuses, link.Status)
	}
	if len(statuses) == 0 && o.MarketplaceStatus != nil {
		statuses = append(statuses, *o.MarketplaceStatus)
	}
	if len(statuses) == 0 {
		return
	}

	var least *marketplace.OrderStatus
	for i := range statuses {
		s := statuses[i]
		if s == marketplace.OrderStatusCancelled {
			continue
		}
		if least == nil || s.CanTransitionTo(*least) {
			least = &s
		}
	}
	if least == nil {
		o.Status = OrderStatusCancelled
		return
	}
	o.Status = MapRemoteStatus(*least)
}

func (o *Order) touch() {
	o.Touch(time.Now())
}
