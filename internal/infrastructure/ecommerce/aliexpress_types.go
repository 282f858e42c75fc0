package ecommerce

import (
	"strconv"
	"strings"

	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// ---------------------------------------------------------------------------
// Common AliExpress API Response Types
// ---------------------------------------------------------------------------

// aeErrorResponse is returned with HTTP 200 when a call fails
type aeErrorResponse struct {
	Code      string `json:"code"`
	Msg       string `json:"msg"`
	SubCode   string `json:"sub_code,omitempty"`
	SubMsg    string `json:"sub_msg,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// aeEnvelope detects the error wrapper present on any response
type aeEnvelope struct {
	ErrorResponse *aeErrorResponse `json:"error_response,omitempty"`
}

// aeTokenResponse is the response of /auth/token/refresh
type aeTokenResponse struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// ---------------------------------------------------------------------------
// Product Types
// ---------------------------------------------------------------------------

// aeTextSearchResponse is the response of aliexpress.ds.text.search
type aeTextSearchResponse struct {
	Response *struct {
		Data struct {
			TotalCount int `json:"totalCount"`
			Products   struct {
				Items []aeSearchProduct `json:"selection_search_product"`
			} `json:"products"`
		} `json:"data"`
	} `json:"aliexpress_ds_text_search_response"`
}

// aeSearchProduct is a search result entry
type aeSearchProduct struct {
	ItemID              string `json:"itemId"`
	Title               string `json:"title"`
	ItemMainPic         string `json:"itemMainPic"`
	TargetSalePrice     string `json:"targetSalePrice"`
	TargetOriginalPrice string `json:"targetOriginalPrice"`
	TargetCurrency      string `json:"targetOriginalPriceCurrency"`
	CategoryID          string `json:"cateId"`
}

func (p aeSearchProduct) toProduct() marketplace.Product {
	out := marketplace.Product{
		ID:          p.ItemID,
		Title:       p.Title,
		Price:       ParseDecimal(p.TargetSalePrice),
		Currency:    p.TargetCurrency,
		CategoryID:  p.CategoryID,
		Condition:   "new",
		Marketplace: marketplace.AliExpress,
		Images:      make([]string, 0, 1),
	}
	if original := ParseDecimal(p.TargetOriginalPrice); original.GreaterThan(out.Price) {
		out.OriginalPrice = &original
	}
	if p.ItemMainPic != "" {
		out.Images = append(out.Images, p.ItemMainPic)
	}
	return out
}

// aeProductGetResponse is the response of aliexpress.ds.product.get
type aeProductGetResponse struct {
	Response *struct {
		Result struct {
			BaseInfo struct {
				ProductID    int64  `json:"product_id"`
				Subject      string `json:"subject"`
				Detail       string `json:"detail"`
				CategoryID   int64  `json:"category_id"`
				CurrencyCode string `json:"currency_code"`
			} `json:"ae_item_base_info_dto"`
			SKUs struct {
				Items []aeSKU `json:"ae_item_sku_info_d_t_o"`
			} `json:"ae_item_sku_info_dtos"`
			Multimedia struct {
				ImageURLs string `json:"image_urls"`
			} `json:"ae_multimedia_info_dto"`
		} `json:"result"`
	} `json:"aliexpress_ds_product_get_response"`
}

// aeSKU is one purchasable variant
type aeSKU struct {
	SKUAttr        string `json:"sku_attr"`
	SKUPrice       string `json:"sku_price"`
	OfferSalePrice string `json:"offer_sale_price"`
	AvailableStock int    `json:"sku_available_stock"`
	CurrencyCode   string `json:"currency_code"`
}

func (r aeProductGetResponse) toProduct(id string) marketplace.Product {
	res := r.Response.Result
	p := marketplace.Product{
		ID:          id,
		Title:       res.BaseInfo.Subject,
		Description: res.BaseInfo.Detail,
		Currency:    res.BaseInfo.CurrencyCode,
		Condition:   "new",
		Marketplace: marketplace.AliExpress,
		Images:      make([]string, 0),
	}
	if res.BaseInfo.CategoryID > 0 {
		p.CategoryID = strconv.FormatInt(res.BaseInfo.CategoryID, 10)
	}
	for _, u := range strings.Split(res.Multimedia.ImageURLs, ";") {
		if u = strings.TrimSpace(u); u != "" {
			p.Images = append(p.Images, u)
		}
	}
	// Cheapest variant sets the price; stock is the sum over variants.
	for i, sku := range res.SKUs.Items {
		sale := ParseDecimal(sku.OfferSalePrice)
		list := ParseDecimal(sku.SKUPrice)
		if sale.IsZero() {
			sale = list
		}
		if i == 0 || sale.LessThan(p.Price) {
			p.Price = sale
			p.OriginalPrice = nil
			if list.GreaterThan(sale) {
				original := list
				p.OriginalPrice = &original
			}
		}
		if p.Currency == "" {
			p.Currency = sku.CurrencyCode
		}
		p.Stock += sku.AvailableStock
	}
	return p
}

// ---------------------------------------------------------------------------
// Order Types
// ---------------------------------------------------------------------------

// aePlaceOrderRequest is the param_place_order_request4_open_api_d_t_o payload
type aePlaceOrderRequest struct {
	OutOrderID       string          `json:"out_order_id"`
	LogisticsAddress aeAddress       `json:"logistics_address"`
	ProductItems     []aeProductItem `json:"product_items"`
}

type aeAddress struct {
	ContactPerson string `json:"contact_person"`
	Address       string `json:"address"`
	Address2      string `json:"address2,omitempty"`
	City          string `json:"city"`
	Province      string `json:"province"`
	Zip           string `json:"zip"`
	Country       string `json:"country"`
	MobileNo      string `json:"mobile_no,omitempty"`
}

type aeProductItem struct {
	ProductID    string `json:"product_id"`
	ProductCount int    `json:"product_count"`
}

// aeOrderCreateResponse is the response of aliexpress.ds.order.create
type aeOrderCreateResponse struct {
	Response *struct {
		Result struct {
			IsSuccess bool   `json:"is_success"`
			ErrorCode string `json:"error_code"`
			ErrorMsg  string `json:"error_msg"`
			OrderList struct {
				Number []int64 `json:"number"`
			} `json:"order_list"`
		} `json:"result"`
	} `json:"aliexpress_ds_order_create_response"`
}

// aeOrderGetResponse is the response of aliexpress.trade.ds.order.get
type aeOrderGetResponse struct {
	Response *struct {
		Result struct {
			OrderStatus     string `json:"order_status"`
			LogisticsStatus string `json:"logistics_status"`
		} `json:"result"`
	} `json:"aliexpress_trade_ds_order_get_response"`
}

// mapAliExpressOrderStatus maps a dropshipping order status onto OrderStatus
func mapAliExpressOrderStatus(status string) marketplace.OrderStatus {
	switch status {
	case "PLACE_ORDER_SUCCESS":
		return marketplace.OrderStatusPending
	case "RISK_CONTROL", "WAIT_SELLER_EXAMINE_MONEY":
		return marketplace.OrderStatusConfirmed
	case "WAIT_SELLER_SEND_GOODS", "SELLER_PART_SEND_GOODS":
		return marketplace.OrderStatusProcessing
	case "WAIT_BUYER_ACCEPT_GOODS", "FUND_PROCESSING", "IN_ISSUE", "IN_FROZEN":
		return marketplace.OrderStatusShipped
	case "FINISH":
		return marketplace.OrderStatusDelivered
	case "IN_CANCEL", "CANCELLED":
		return marketplace.OrderStatusCancelled
	default:
		return marketplace.OrderStatusPending
	}
}
