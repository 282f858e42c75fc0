package ecommerce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func amazonCredentials() marketplace.Credentials {
	return marketplace.Credentials{
		ClientID:           "amzn1.application-oa2-client.x",
		ClientSecret:       "lwa-secret",
		RefreshToken:       "Atzr|refresh",
		SellerID:           "A1SELLER",
		MarketplaceID:      "ATVPDKIKX0DER",
		AWSAccessKeyID:     "AKIDEXAMPLE",
		AWSSecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
	}
}

// amazonServer fakes LWA and the SP-API endpoints used by the adapter
func amazonServer(t *testing.T, observer func(r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/o2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Atzr|refresh", r.PostForm.Get("refresh_token"))
		_, _ = w.Write([]byte(`{"access_token":"Atza|access","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/catalog/2022-04-01/items", func(w http.ResponseWriter, r *http.Request) {
		observer(r)
		w.Header().Set(headerRateLimitRemaining, "4")
		_, _ = w.Write([]byte(`{"numberOfResults":2,"items":[
			{"asin":"B0CHEAP","summaries":[{"itemName":"Cheap Cable"}],
			 "attributes":{"list_price":[{"value":5.00,"currency":"USD"}]}},
			{"asin":"B0GOOD","summaries":[{"itemName":"Good Headphones","browseClassification":{"classificationId":"172541"}}],
			 "images":[{"images":[{"variant":"MAIN","link":"https://m.media-amazon.com/1.jpg"}]}],
			 "attributes":{"list_price":[{"value":59.99,"currency":"USD"}],"purchasable_offer_price":[{"value":49.99,"currency":"USD"}],
			   "bullet_point":[{"value":"Noise cancelling"},{"value":"30h battery"}]}}]}`))
	})
	mux.HandleFunc("/catalog/2022-04-01/items/B0GOOD", func(w http.ResponseWriter, r *http.Request) {
		observer(r)
		_, _ = w.Write([]byte(`{"asin":"B0GOOD","summaries":[{"itemName":"Good Headphones"}],
			"attributes":{"list_price":[{"value":59.99,"currency":"USD"}]}}`))
	})
	mux.HandleFunc("/fba/inventory/v1/summaries", func(w http.ResponseWriter, r *http.Request) {
		observer(r)
		assert.Equal(t, "B0GOOD", r.URL.Query().Get("sellerSkus"))
		_, _ = w.Write([]byte(`{"payload":{"inventorySummaries":[{"sellerSku":"B0GOOD","totalQuantity":30,"inventoryDetails":{"fulfillableQuantity":25}}]}}`))
	})
	mux.HandleFunc("/fba/outbound/2020-07-01/fulfillmentOrders", func(w http.ResponseWriter, r *http.Request) {
		observer(r)
		var body amzFulfillmentOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "order-42", body.SellerFulfillmentOrderID)
		require.Len(t, body.Items, 1)
		assert.Equal(t, "B0GOOD", body.Items[0].SellerSKU)
		assert.Equal(t, "Rua A 10", body.DestinationAddress.AddressLine1)
		_, _ = w.Write([]byte(`{"payload":{}}`))
	})
	mux.HandleFunc("/fba/outbound/2020-07-01/fulfillmentOrders/order-42", func(w http.ResponseWriter, r *http.Request) {
		observer(r)
		_, _ = w.Write([]byte(`{"payload":{"fulfillmentOrder":{"sellerFulfillmentOrderId":"order-42","fulfillmentOrderStatus":"Processing"}}}`))
	})
	mux.HandleFunc("/listings/2021-08-01/items/A1SELLER/B0GOOD", func(w http.ResponseWriter, r *http.Request) {
		observer(r)
		assert.Equal(t, http.MethodPatch, r.Method)
		var body amzListingPatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Patches, 1)
		assert.Equal(t, "/attributes/fulfillment_availability", body.Patches[0].Path)
		_, _ = w.Write([]byte(`{"status":"ACCEPTED"}`))
	})
	return httptest.NewServer(mux)
}

func newTestAmazon(t *testing.T, server *httptest.Server, observer marketplace.QuotaObserver) *AmazonAdapter {
	t.Helper()
	a, err := NewAmazonAdapter(AdapterConfig{
		BaseURL: server.URL,
		AuthURL: server.URL + "/auth/o2/token",
	}, amazonCredentials(), observer, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestNewAmazonAdapter_ValidatesCredentials(t *testing.T) {
	creds := amazonCredentials()
	creds.SellerID = ""
	_, err := NewAmazonAdapter(AdapterConfig{}, creds, nil, nil)
	assert.ErrorIs(t, err, ErrMissingSellerID)

	creds = amazonCredentials()
	creds.AWSAccessKeyID = ""
	a, err := NewAmazonAdapter(AdapterConfig{}, creds, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, a.signer, "no signing without AWS credentials")
	assert.Equal(t, AmazonRegion, a.config.Region)
}

func TestAmazonAdapter_SignsRequests(t *testing.T) {
	var seen []*http.Request
	server := amazonServer(t, func(r *http.Request) { seen = append(seen, r) })
	defer server.Close()

	a := newTestAmazon(t, server, nil)
	_, err := a.SearchProducts(context.Background(), marketplace.ProductQuery{Query: "headphones"})
	require.NoError(t, err)

	require.Len(t, seen, 1)
	r := seen[0]
	assert.Equal(t, "Atza|access", r.Header.Get("x-amz-access-token"))
	auth := r.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), auth)
	assert.Contains(t, auth, "/us-east-1/execute-api/aws4_request")
	assert.Contains(t, auth, "SignedHeaders=")
}

func TestAmazonAdapter_SearchProducts(t *testing.T) {
	server := amazonServer(t, func(*http.Request) {})
	defer server.Close()

	observer := &recordingObserver{}
	a := newTestAmazon(t, server, observer)

	minPrice := decimal.NewFromInt(10)
	products, err := a.SearchProducts(context.Background(), marketplace.ProductQuery{Query: "headphones", MinPrice: &minPrice})
	require.NoError(t, err)
	require.Len(t, products, 1, "price filter drops the cheap cable")

	p := products[0]
	assert.Equal(t, "B0GOOD", p.ID)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("49.99")))
	require.NotNil(t, p.OriginalPrice)
	assert.True(t, p.OriginalPrice.Equal(decimal.RequireFromString("59.99")))
	assert.Equal(t, "172541", p.CategoryID)
	assert.Equal(t, "Noise cancelling\n30h battery", p.Description)
	assert.Equal(t, []string{"https://m.media-amazon.com/1.jpg"}, p.Images)

	require.Len(t, observer.quotas, 1)
	assert.Equal(t, 4, observer.quotas[0].Remaining)
}

func TestAmazonAdapter_GetProductDetailsIncludesStock(t *testing.T) {
	server := amazonServer(t, func(*http.Request) {})
	defer server.Close()
	a := newTestAmazon(t, server, nil)

	p, err := a.GetProductDetails(context.Background(), "B0GOOD")
	require.NoError(t, err)
	assert.Equal(t, 25, p.Stock)
	assert.Equal(t, "Good Headphones", p.Title)
}

func TestAmazonAdapter_OrderLifecycle(t *testing.T) {
	server := amazonServer(t, func(*http.Request) {})
	defer server.Close()
	a := newTestAmazon(t, server, nil)

	confirmation, err := a.CreateOrder(context.Background(), marketplace.OrderRequest{
		Reference: "order-42",
		Items: []marketplace.OrderItemRequest{
			{ProductID: "B0GOOD", Quantity: 2, UnitPrice: decimal.RequireFromString("49.99")},
		},
		ShippingAddress: marketplace.Address{Name: "Ana", Street: "Rua A", Number: "10", City: "Recife", State: "PE", PostalCode: "50000-000", Country: "BR"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order-42", confirmation.OrderID)
	assert.Equal(t, marketplace.OrderStatusPending, confirmation.Status)
	assert.True(t, confirmation.Total.Equal(decimal.RequireFromString("99.98")))

	status, err := a.GetOrderStatus(context.Background(), "order-42")
	require.NoError(t, err)
	assert.Equal(t, marketplace.OrderStatusProcessing, status)
}

func TestAmazonAdapter_Inventory(t *testing.T) {
	server := amazonServer(t, func(*http.Request) {})
	defer server.Close()
	a := newTestAmazon(t, server, nil)

	require.NoError(t, a.UpdateInventory(context.Background(), "B0GOOD", 3))
	qty, err := a.GetInventory(context.Background(), "B0GOOD")
	require.NoError(t, err)
	assert.Equal(t, 25, qty)
}

func TestMapAmazonFulfillmentStatus(t *testing.T) {
	tests := map[string]marketplace.OrderStatus{
		"New":                marketplace.OrderStatusPending,
		"Received":           marketplace.OrderStatusConfirmed,
		"Planning":           marketplace.OrderStatusProcessing,
		"Processing":         marketplace.OrderStatusProcessing,
		"Complete":           marketplace.OrderStatusShipped,
		"CompletePartialled": marketplace.OrderStatusShipped,
		"Cancelled":          marketplace.OrderStatusCancelled,
		"Unfulfillable":      marketplace.OrderStatusCancelled,
		"SomethingElse":      marketplace.OrderStatusPending,
	}
	for raw, expected := range tests {
		assert.Equal(t, expected, mapAmazonFulfillmentStatus(raw), raw)
	}
}
