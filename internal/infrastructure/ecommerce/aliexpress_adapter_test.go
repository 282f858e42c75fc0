package ecommerce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func aliCredentials() marketplace.Credentials {
	return marketplace.Credentials{
		AppKey:       "12345",
		AppSecret:    "secret",
		RefreshToken: "r1",
	}
}

// aliServer fakes the AliExpress gateway, dispatching on the method parameter
func aliServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/auth/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		params := map[string]string{}
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		assert.Equal(t, SignAliExpress("secret", "/auth/token/refresh", params), params["sign"])
		_, _ = w.Write([]byte(`{"code":"0","access_token":"session-1","expires_in":86400,"refresh_token":"r2"}`))
	})
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		params := map[string]string{}
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		assert.Equal(t, SignAliExpress("secret", "", params), params["sign"])
		assert.Equal(t, "session-1", params["session"])

		body, ok := responses[params["method"]]
		if !ok {
			t.Errorf("unexpected method %q", params["method"])
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	return httptest.NewServer(mux)
}

func newTestAliExpress(t *testing.T, server *httptest.Server) *AliExpressAdapter {
	t.Helper()
	a, err := NewAliExpressAdapter(AdapterConfig{
		BaseURL: server.URL + "/sync",
		AuthURL: server.URL + "/rest",
	}, aliCredentials(), nil, zap.NewNop())
	require.NoError(t, err)
	return a
}

const aliProductGet = `{"aliexpress_ds_product_get_response":{"result":{
	"ae_item_base_info_dto":{"product_id":1005001,"subject":"Smart Watch","detail":"<p>Watch</p>","category_id":200000,"currency_code":"USD"},
	"ae_item_sku_info_dtos":{"ae_item_sku_info_d_t_o":[
		{"sku_attr":"14:black","sku_price":"30.00","offer_sale_price":"24.50","sku_available_stock":40},
		{"sku_attr":"14:white","sku_price":"30.00","offer_sale_price":"22.00","sku_available_stock":10}]},
	"ae_multimedia_info_dto":{"image_urls":"https://ae/1.jpg;https://ae/2.jpg"}}}}`

func TestSignAliExpress(t *testing.T) {
	params := map[string]string{
		"app_key":     "12345",
		"method":      "aliexpress.ds.product.get",
		"session":     "sess",
		"sign_method": "sha256",
		"timestamp":   "1700000000000",
		"product_id":  "1005001",
	}
	assert.Equal(t, "F6929D8A944050C45BFC6C43E88ACE815CDA632D57036EFC371E06E0D3631D92", SignAliExpress("secret", "", params))

	// The sign parameter itself is excluded.
	params["sign"] = "ignored"
	assert.Equal(t, "F6929D8A944050C45BFC6C43E88ACE815CDA632D57036EFC371E06E0D3631D92", SignAliExpress("secret", "", params))

	system := map[string]string{"app_key": "12345", "refresh_token": "r1", "sign_method": "sha256", "timestamp": "1700000000000"}
	assert.Equal(t, "ADA2D254926EDF256052ED3277422E1E4C8873F698FCAFD9B8CF6BD4BC4F657C", SignAliExpress("secret", "/auth/token/refresh", system))
}

func TestAliExpressAdapter_AuthenticateWithRefreshToken(t *testing.T) {
	server := aliServer(t, nil)
	defer server.Close()
	a := newTestAliExpress(t, server)

	ok, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, a.IsAuthenticated())
	assert.Equal(t, "r2", a.creds.RefreshToken)
}

func TestAliExpressAdapter_AuthenticateWithStaticSession(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	a, err := NewAliExpressAdapter(AdapterConfig{BaseURL: server.URL, AuthURL: server.URL},
		marketplace.Credentials{AppKey: "k", AppSecret: "s", AccessToken: "static"}, nil, nil)
	require.NoError(t, err)

	ok, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestAliExpressAdapter_GetProductDetails(t *testing.T) {
	server := aliServer(t, map[string]string{"aliexpress.ds.product.get": aliProductGet})
	defer server.Close()
	a := newTestAliExpress(t, server)

	p, err := a.GetProductDetails(context.Background(), "1005001")
	require.NoError(t, err)
	assert.Equal(t, "Smart Watch", p.Title)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("22.00")), "cheapest variant")
	require.NotNil(t, p.OriginalPrice)
	assert.True(t, p.OriginalPrice.Equal(decimal.RequireFromString("30.00")))
	assert.Equal(t, 50, p.Stock)
	assert.Equal(t, "200000", p.CategoryID)
	assert.Equal(t, []string{"https://ae/1.jpg", "https://ae/2.jpg"}, p.Images)

	qty, err := a.GetInventory(context.Background(), "1005001")
	require.NoError(t, err)
	assert.Equal(t, 50, qty)

	_, err = a.GetProductDetails(context.Background(), "not-a-number")
	assert.ErrorIs(t, err, marketplace.ErrProductNotFound)
}

func TestAliExpressAdapter_SearchProducts(t *testing.T) {
	server := aliServer(t, map[string]string{
		"aliexpress.ds.text.search": `{"aliexpress_ds_text_search_response":{"data":{"totalCount":1,"products":{"selection_search_product":[
			{"itemId":"1005001","title":"Smart Watch","itemMainPic":"https://ae/1.jpg","targetSalePrice":"22.00","targetOriginalPrice":"30.00","targetOriginalPriceCurrency":"USD","cateId":"200000"}]}}}}`,
	})
	defer server.Close()
	a := newTestAliExpress(t, server)

	products, err := a.SearchProducts(context.Background(), marketplace.ProductQuery{Query: "watch"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "1005001", products[0].ID)
	assert.Equal(t, marketplace.AliExpress, products[0].Marketplace)
}

func TestAliExpressAdapter_Orders(t *testing.T) {
	server := aliServer(t, map[string]string{
		"aliexpress.ds.order.create":    `{"aliexpress_ds_order_create_response":{"result":{"is_success":true,"order_list":{"number":[8123456789]}}}}`,
		"aliexpress.trade.ds.order.get": `{"aliexpress_trade_ds_order_get_response":{"result":{"order_status":"WAIT_BUYER_ACCEPT_GOODS"}}}`,
	})
	defer server.Close()
	a := newTestAliExpress(t, server)

	confirmation, err := a.CreateOrder(context.Background(), marketplace.OrderRequest{
		Reference: "order-7",
		Items:     []marketplace.OrderItemRequest{{ProductID: "1005001", Quantity: 3, UnitPrice: decimal.RequireFromString("22.00")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "8123456789", confirmation.OrderID)
	assert.True(t, confirmation.Total.Equal(decimal.RequireFromString("66.00")))

	status, err := a.GetOrderStatus(context.Background(), "8123456789")
	require.NoError(t, err)
	assert.Equal(t, marketplace.OrderStatusShipped, status)
}

func TestAliExpressAdapter_ErrorResponses(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "expired session",
			body: `{"error_response":{"code":"IllegalAccessToken","msg":"The specified access token is invalid or expired"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, marketplace.ErrAuthentication)
			},
		},
		{
			name: "call limit",
			body: `{"error_response":{"code":"ApiCallLimit","msg":"App Call Limited"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, marketplace.ErrRateLimited)
			},
		},
		{
			name: "service unavailable",
			body: `{"error_response":{"code":"isp.service-unavailable","msg":"try later"}}`,
			check: func(t *testing.T, err error) {
				me, ok := marketplace.AsMarketplaceError(err)
				require.True(t, ok)
				assert.Equal(t, http.StatusServiceUnavailable, me.StatusCode)
			},
		},
		{
			name: "business error",
			body: `{"error_response":{"code":"B_PRODUCT_OFFLINE","msg":"product offline"}}`,
			check: func(t *testing.T, err error) {
				me, ok := marketplace.AsMarketplaceError(err)
				require.True(t, ok)
				assert.Equal(t, marketplace.ErrorKindGeneric, me.Kind)
				assert.Contains(t, me.Message, "B_PRODUCT_OFFLINE")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := aliServer(t, map[string]string{"aliexpress.ds.product.get": tt.body})
			defer server.Close()
			a := newTestAliExpress(t, server)
			_, err := a.GetProductDetails(context.Background(), "1005001")
			tt.check(t, err)
		})
	}
}

func TestAliExpressAdapter_UpdateInventoryUnsupported(t *testing.T) {
	a, err := NewAliExpressAdapter(AdapterConfig{}, aliCredentials(), nil, nil)
	require.NoError(t, err)
	err = a.UpdateInventory(context.Background(), "1005001", 5)
	assert.ErrorIs(t, err, marketplace.ErrUnsupportedOperation)
}

func TestMapAliExpressOrderStatus(t *testing.T) {
	assert.Equal(t, marketplace.OrderStatusPending, mapAliExpressOrderStatus("PLACE_ORDER_SUCCESS"))
	assert.Equal(t, marketplace.OrderStatusProcessing, mapAliExpressOrderStatus("WAIT_SELLER_SEND_GOODS"))
	assert.Equal(t, marketplace.OrderStatusDelivered, mapAliExpressOrderStatus("FINISH"))
	assert.Equal(t, marketplace.OrderStatusCancelled, mapAliExpressOrderStatus("IN_CANCEL"))
	assert.Equal(t, marketplace.OrderStatusPending, mapAliExpressOrderStatus("NEW_STATE"))
}
