package ecommerce

import (
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// ---------------------------------------------------------------------------
// MercadoLivre API types
// ---------------------------------------------------------------------------

// mlTokenResponse is the OAuth2 token grant response
type mlTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	UserID       int64  `json:"user_id"`
}

// mlSearchResponse is the response of /sites/{site}/search
type mlSearchResponse struct {
	Paging struct {
		Total  int `json:"total"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"paging"`
	Results []mlItem `json:"results"`
}

// mlItem is a listing as returned by search and /items/{id}
type mlItem struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Price             decimal.Decimal  `json:"price"`
	OriginalPrice     *decimal.Decimal `json:"original_price"`
	CurrencyID        string           `json:"currency_id"`
	AvailableQuantity int              `json:"available_quantity"`
	Thumbnail         string           `json:"thumbnail"`
	CategoryID        string           `json:"category_id"`
	Condition         string           `json:"condition"`
	Pictures          []struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	} `json:"pictures"`
}

// mlDescription is the response of /items/{id}/description
type mlDescription struct {
	PlainText string `json:"plain_text"`
}

// mlOrder is the subset of /orders/{id} used for status mapping
type mlOrder struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Shipping struct {
		Status string `json:"status"`
	} `json:"shipping"`
}

// mlInventoryUpdate is the body of PUT /items/{id}
type mlInventoryUpdate struct {
	AvailableQuantity int `json:"available_quantity"`
}

func (i mlItem) toProduct() marketplace.Product {
	p := marketplace.Product{
		ID:            i.ID,
		Title:         i.Title,
		Price:         i.Price,
		OriginalPrice: i.OriginalPrice,
		Currency:      i.CurrencyID,
		Stock:         i.AvailableQuantity,
		CategoryID:    i.CategoryID,
		Condition:     i.Condition,
		Marketplace:   marketplace.MercadoLivre,
		Images:        make([]string, 0, len(i.Pictures)+1),
	}
	for _, pic := range i.Pictures {
		if pic.SecureURL != "" {
			p.Images = append(p.Images, pic.SecureURL)
		} else if pic.URL != "" {
			p.Images = append(p.Images, pic.URL)
		}
	}
	if len(p.Images) == 0 && i.Thumbnail != "" {
		p.Images = append(p.Images, i.Thumbnail)
	}
	return p
}

// mapMercadoLivreOrderStatus maps order and shipping status onto OrderStatus.
// Shipping progress wins once the order is paid.
func mapMercadoLivreOrderStatus(o mlOrder) marketplace.OrderStatus {
	switch o.Status {
	case "cancelled", "invalid":
		return marketplace.OrderStatusCancelled
	}
	switch o.Shipping.Status {
	case "delivered":
		return marketplace.OrderStatusDelivered
	case "shipped":
		return marketplace.OrderStatusShipped
	case "ready_to_ship", "handling":
		return marketplace.OrderStatusProcessing
	}
	switch o.Status {
	case "confirmed":
		return marketplace.OrderStatusConfirmed
	case "paid", "partially_paid":
		return marketplace.OrderStatusProcessing
	default:
		return marketplace.OrderStatusPending
	}
}
