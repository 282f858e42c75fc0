package ecommerce

import (
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// ---------------------------------------------------------------------------
// Login with Amazon
// ---------------------------------------------------------------------------

// lwaTokenResponse is the Login with Amazon token response
type lwaTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// ---------------------------------------------------------------------------
// Catalog Items API (2022-04-01)
// ---------------------------------------------------------------------------

// amzCatalogSearchResponse is the response of GET /catalog/2022-04-01/items
type amzCatalogSearchResponse struct {
	NumberOfResults int              `json:"numberOfResults"`
	Items           []amzCatalogItem `json:"items"`
}

// amzCatalogItem is one catalog entry
type amzCatalogItem struct {
	ASIN      string `json:"asin"`
	Summaries []struct {
		MarketplaceID        string `json:"marketplaceId"`
		ItemName             string `json:"itemName"`
		ItemCondition        string `json:"itemCondition"`
		BrowseClassification *struct {
			ClassificationID string `json:"classificationId"`
		} `json:"browseClassification"`
	} `json:"summaries"`
	Images []struct {
		MarketplaceID string `json:"marketplaceId"`
		Images        []struct {
			Variant string `json:"variant"`
			Link    string `json:"link"`
		} `json:"images"`
	} `json:"images"`
	Attributes struct {
		ListPrice []amzMoneyAttribute `json:"list_price"`
		Price     []amzMoneyAttribute `json:"purchasable_offer_price"`
		Bullets   []struct {
			Value string `json:"value"`
		} `json:"bullet_point"`
	} `json:"attributes"`
}

// amzMoneyAttribute is a catalog price attribute
type amzMoneyAttribute struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

func (i amzCatalogItem) toProduct() marketplace.Product {
	p := marketplace.Product{
		ID:          i.ASIN,
		Marketplace: marketplace.Amazon,
		Images:      make([]string, 0),
		Condition:   "new",
	}
	if len(i.Summaries) > 0 {
		s := i.Summaries[0]
		p.Title = s.ItemName
		if s.ItemCondition != "" {
			p.Condition = s.ItemCondition
		}
		if s.BrowseClassification != nil {
			p.CategoryID = s.BrowseClassification.ClassificationID
		}
	}
	for _, set := range i.Images {
		for _, img := range set.Images {
			if img.Link != "" {
				p.Images = append(p.Images, img.Link)
			}
		}
	}
	if len(i.Attributes.ListPrice) > 0 {
		list := i.Attributes.ListPrice[0]
		p.Price = list.Value
		p.Currency = list.Currency
	}
	if len(i.Attributes.Price) > 0 {
		offer := i.Attributes.Price[0]
		if len(i.Attributes.ListPrice) > 0 && offer.Value.LessThan(p.Price) {
			original := p.Price
			p.OriginalPrice = &original
		}
		p.Price = offer.Value
		if offer.Currency != "" {
			p.Currency = offer.Currency
		}
	}
	for idx, b := range i.Attributes.Bullets {
		if idx > 0 {
			p.Description += "\n"
		}
		p.Description += b.Value
	}
	return p
}

// ---------------------------------------------------------------------------
// FBA Inventory API
// ---------------------------------------------------------------------------

// amzInventoryResponse is the response of GET /fba/inventory/v1/summaries
type amzInventoryResponse struct {
	Payload struct {
		InventorySummaries []struct {
			ASIN             string `json:"asin"`
			SellerSKU        string `json:"sellerSku"`
			TotalQuantity    int    `json:"totalQuantity"`
			InventoryDetails *struct {
				FulfillableQuantity int `json:"fulfillableQuantity"`
			} `json:"inventoryDetails"`
		} `json:"inventorySummaries"`
	} `json:"payload"`
}

// ---------------------------------------------------------------------------
// Listings Items API (2021-08-01)
// ---------------------------------------------------------------------------

// amzListingPatch is the body of PATCH /listings/2021-08-01/items/{seller}/{sku}
type amzListingPatch struct {
	ProductType string              `json:"productType"`
	Patches     []amzPatchOperation `json:"patches"`
}

type amzPatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value []any  `json:"value"`
}

// ---------------------------------------------------------------------------
// Fulfillment Outbound API (2020-07-01)
// ---------------------------------------------------------------------------

// amzFulfillmentOrderRequest is the body of POST /fba/outbound/2020-07-01/fulfillmentOrders
type amzFulfillmentOrderRequest struct {
	SellerFulfillmentOrderID string                    `json:"sellerFulfillmentOrderId"`
	DisplayableOrderID       string                    `json:"displayableOrderId"`
	DisplayableOrderDate     string                    `json:"displayableOrderDate"`
	DisplayableOrderComment  string                    `json:"displayableOrderComment"`
	ShippingSpeedCategory    string                    `json:"shippingSpeedCategory"`
	MarketplaceID            string                    `json:"marketplaceId,omitempty"`
	DestinationAddress       amzAddress                `json:"destinationAddress"`
	Items                    []amzFulfillmentOrderItem `json:"items"`
}

type amzAddress struct {
	Name          string `json:"name"`
	AddressLine1  string `json:"addressLine1"`
	AddressLine2  string `json:"addressLine2,omitempty"`
	City          string `json:"city"`
	StateOrRegion string `json:"stateOrRegion"`
	PostalCode    string `json:"postalCode"`
	CountryCode   string `json:"countryCode"`
	Phone         string `json:"phone,omitempty"`
}

type amzFulfillmentOrderItem struct {
	SellerSKU                    string `json:"sellerSku"`
	SellerFulfillmentOrderItemID string `json:"sellerFulfillmentOrderItemId"`
	Quantity                     int    `json:"quantity"`
}

// amzFulfillmentOrderResponse is the response of GET .../fulfillmentOrders/{id}
type amzFulfillmentOrderResponse struct {
	Payload struct {
		FulfillmentOrder struct {
			SellerFulfillmentOrderID string `json:"sellerFulfillmentOrderId"`
			FulfillmentOrderStatus   string `json:"fulfillmentOrderStatus"`
		} `json:"fulfillmentOrder"`
		FulfillmentShipments []struct {
			FulfillmentShipmentStatus  string `json:"fulfillmentShipmentStatus"`
			FulfillmentShipmentPackage []struct {
				TrackingNumber string `json:"trackingNumber"`
			} `json:"fulfillmentShipmentPackage"`
		} `json:"fulfillmentShipments"`
	} `json:"payload"`
}

// mapAmazonFulfillmentStatus maps a fulfillment order status onto OrderStatus
func mapAmazonFulfillmentStatus(status string) marketplace.OrderStatus {
	switch status {
	case "New":
		return marketplace.OrderStatusPending
	case "Received":
		return marketplace.OrderStatusConfirmed
	case "Planning", "Processing":
		return marketplace.OrderStatusProcessing
	case "Complete", "CompletePartialled":
		return marketplace.OrderStatusShipped
	case "Cancelled", "Unfulfillable", "Invalid":
		return marketplace.OrderStatusCancelled
	default:
		return marketplace.OrderStatusPending
	}
}
