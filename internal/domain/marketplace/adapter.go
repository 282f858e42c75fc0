package marketplace

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Adapter is the port every marketplace implementation satisfies
// ---------------------------------------------------------------------------

// Adapter normalizes one marketplace API into a single contract.
// One instance exists per (marketplace, credential set).
type Adapter interface {
	// Name returns the marketplace this adapter talks to
	Name() Name

	// Authenticate establishes or refreshes credentials. It is idempotent and
	// cheap when a valid token is already held.
	Authenticate(ctx context.Context) (bool, error)

	// IsAuthenticated reports whether a token is held and its expiry is in the
	// future. It never refreshes.
	IsAuthenticated() bool

	// SearchProducts returns matching products, authenticating on demand.
	// No results is an empty slice, not an error.
	SearchProducts(ctx context.Context, query ProductQuery) ([]Product, error)

	// GetProductDetails returns a single product
	GetProductDetails(ctx context.Context, productID string) (*Product, error)

	// CreateOrder places a remote order. Marketplaces that cannot take orders
	// return an error matching ErrUnsupportedOperation.
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderConfirmation, error)

	// GetOrderStatus returns the remote order status mapped onto OrderStatus
	GetOrderStatus(ctx context.Context, remoteOrderID string) (OrderStatus, error)

	// UpdateInventory sets the available quantity of a listing
	UpdateInventory(ctx context.Context, productID string, quantity int) error

	// GetInventory returns the available quantity of a listing
	GetInventory(ctx context.Context, productID string) (int, error)
}

// AdapterProvider resolves the configured adapter for a marketplace
type AdapterProvider interface {
	Adapter(ctx context.Context, name Name) (Adapter, error)
}

// ---------------------------------------------------------------------------
// Value objects exchanged with adapters
// ---------------------------------------------------------------------------

// Product is an immutable snapshot of a marketplace listing
type Product struct {
	ID            string
	Title         string
	Description   string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	Currency      string
	Images        []string
	Stock         int
	CategoryID    string
	Condition     string
	Marketplace   Name
}

// ProductQuery filters a product search
type ProductQuery struct {
	Query      string
	CategoryID string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	Limit      int
	Offset     int
}

// Address is a shipping destination
type Address struct {
	Name       string
	Street     string
	Number     string
	Complement string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// OrderItemRequest is one line of a remote order
type OrderItemRequest struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderRequest is the normalized input to CreateOrder
type OrderRequest struct {
	// Reference is the local order identifier sent as the merchant reference
	Reference       string
	Items           []OrderItemRequest
	ShippingAddress Address
	PaymentMethod   string
	Currency        string
}

// OrderConfirmation is the normalized result of CreateOrder
type OrderConfirmation struct {
	OrderID   string
	Status    OrderStatus
	Total     decimal.Decimal
	CreatedAt time.Time
}

// ---------------------------------------------------------------------------
// OrderStatus is the fixed remote order vocabulary
// ---------------------------------------------------------------------------

// OrderStatus is the status of a remote order from the local perspective
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// IsValid returns true if the status is one of the six known values
func (s OrderStatus) IsValid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := orderStatusRank[s]
	return ok
}

// IsTerminal returns true for delivered and cancelled
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether moving from s to next respects
// pending → confirmed → processing → shipped → delivered, with cancelled
// reachable from any non-terminal status. Forward skips are allowed because
// polling can miss intermediate states.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.IsValid() || !next.IsValid() || s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	return orderStatusRank[next] > orderStatusRank[s]
}

// NormalizeOrderStatus maps a raw value onto the fixed set, defaulting to pending
func NormalizeOrderStatus(raw string) OrderStatus {
	s := OrderStatus(raw)
	if s.IsValid() {
		return s
	}
	return OrderStatusPending
}

// ---------------------------------------------------------------------------
// Live quota reporting
// ---------------------------------------------------------------------------

// Quota is the rate-limit budget reported by a marketplace response
type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// QuotaObserver receives rate-limit signals observed on marketplace responses
type QuotaObserver interface {
	// ObserveQuota reports budget headers seen on a response
	ObserveQuota(name Name, quota Quota)
	// ObserveRateLimited reports a 429 response and its retry-after hint,
	// zero when the response carried none
	ObserveRateLimited(name Name, retryAfter time.Duration)
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// Credentials holds everything an adapter needs to authenticate.
// Fields unused by a marketplace stay empty.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
	AppKey       string
	AppSecret    string
	SellerID     string
	// MarketplaceID is the Amazon marketplace identifier or the MercadoLivre site id
	MarketplaceID      string
	Region             string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
}

// CredentialStore resolves a credential reference into credentials
type CredentialStore interface {
	Resolve(ctx context.Context, name Name, ref string) (Credentials, error)
}
