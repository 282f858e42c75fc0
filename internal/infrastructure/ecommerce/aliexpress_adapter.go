package ecommerce

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"go.uber.org/zap"
)

// AliExpress error codes that change how a failure is classified
var (
	aeAuthErrorCodes      = map[string]bool{"IllegalAccessToken": true, "InvalidSession": true, "IllegalRefreshToken": true, "MissingSession": true}
	aeRateLimitErrorCodes = map[string]bool{"ApiCallLimit": true, "AppCallLimit": true, "7": true}
)

// aeSessionLifetime is assumed for a configured access token with no refresh token
const aeSessionLifetime = 24 * time.Hour

// AliExpressAdapter implements marketplace.Adapter for AliExpress dropshipping.
// Stock is read-only for dropshippers, so UpdateInventory is unsupported.
type AliExpressAdapter struct {
	config AdapterConfig
	client *apiClient
	tokens *tokenSource

	mu    sync.Mutex
	creds marketplace.Credentials
}

// NewAliExpressAdapter creates an AliExpress adapter
func NewAliExpressAdapter(config AdapterConfig, creds marketplace.Credentials, observer marketplace.QuotaObserver, logger *zap.Logger) (*AliExpressAdapter, error) {
	if err := validateCredentials(marketplace.AliExpress, creds); err != nil {
		return nil, err
	}
	config.applyDefaults(marketplace.AliExpress)
	client := newAPIClient(marketplace.AliExpress, config.timeout(), observer, logger)
	return &AliExpressAdapter{
		config: config,
		client: client,
		tokens: newTokenSource(client.now),
		creds:  creds,
	}, nil
}

// Name returns the marketplace this adapter handles
func (a *AliExpressAdapter) Name() marketplace.Name {
	return marketplace.AliExpress
}

// IsAuthenticated reports whether an unexpired session token is held
func (a *AliExpressAdapter) IsAuthenticated() bool {
	return a.tokens.Valid()
}

// Authenticate refreshes the session token, or adopts the configured one when
// no refresh token is available
func (a *AliExpressAdapter) Authenticate(ctx context.Context) (bool, error) {
	if _, err := a.tokens.Ensure(ctx, a.refreshToken); err != nil {
		return false, err
	}
	return true, nil
}

func (a *AliExpressAdapter) refreshToken(ctx context.Context) (string, time.Duration, error) {
	a.mu.Lock()
	creds := a.creds
	a.mu.Unlock()

	if creds.RefreshToken == "" {
		return creds.AccessToken, aeSessionLifetime, nil
	}

	const apiPath = "/auth/token/refresh"
	params := map[string]string{
		"app_key":       creds.AppKey,
		"refresh_token": creds.RefreshToken,
		"sign_method":   "sha256",
		"timestamp":     strconv.FormatInt(a.client.now().UnixMilli(), 10),
	}
	params["sign"] = SignAliExpress(creds.AppSecret, apiPath, params)

	req, err := a.formRequest(ctx, a.config.AuthURL+apiPath, params)
	if err != nil {
		return "", 0, err
	}
	body, err := a.client.do("authenticate", req)
	if err != nil {
		return "", 0, asAuthError(marketplace.AliExpress, err)
	}

	var resp aeTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, marketplace.NewAuthenticationError(marketplace.AliExpress, "failed to parse token response", err)
	}
	if resp.AccessToken == "" {
		msg := resp.Message
		if msg == "" {
			msg = "token response without access token"
		}
		return "", 0, marketplace.NewAuthenticationError(marketplace.AliExpress, msg, nil)
	}

	if resp.RefreshToken != "" {
		a.mu.Lock()
		a.creds.RefreshToken = resp.RefreshToken
		a.mu.Unlock()
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

// ---------------------------------------------------------------------------
// Product Operations
// ---------------------------------------------------------------------------

// SearchProducts runs a keyword search over the dropshipping catalog
func (a *AliExpressAdapter) SearchProducts(ctx context.Context, query marketplace.ProductQuery) ([]marketplace.Product, error) {
	pageSize := query.Limit
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 50
	}
	params := map[string]string{
		"method":      "aliexpress.ds.text.search",
		"keyWord":     query.Query,
		"local":       "en_US",
		"countryCode": a.config.ShipToCountry,
		"currency":    "USD",
		"pageSize":    strconv.Itoa(pageSize),
		"pageIndex":   strconv.Itoa(query.Offset/pageSize + 1),
	}
	if query.CategoryID != "" {
		params["categoryId"] = query.CategoryID
	}

	var resp aeTextSearchResponse
	if err := a.call(ctx, "searchProducts", params, &resp); err != nil {
		return nil, err
	}
	if resp.Response == nil {
		return []marketplace.Product{}, nil
	}

	items := resp.Response.Data.Products.Items
	products := make([]marketplace.Product, 0, len(items))
	for _, item := range items {
		p := item.toProduct()
		if !inPriceRange(p.Price, query.MinPrice, query.MaxPrice) {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// GetProductDetails returns a product with its cheapest variant price and
// total variant stock
func (a *AliExpressAdapter) GetProductDetails(ctx context.Context, productID string) (*marketplace.Product, error) {
	resp, err := a.getProduct(ctx, "getProductDetails", productID)
	if err != nil {
		return nil, err
	}
	p := resp.toProduct(productID)
	return &p, nil
}

func (a *AliExpressAdapter) getProduct(ctx context.Context, operation, productID string) (*aeProductGetResponse, error) {
	if _, err := strconv.ParseInt(productID, 10, 64); err != nil {
		return nil, marketplace.NewError(marketplace.AliExpress, operation, "invalid product id "+productID, marketplace.ErrProductNotFound)
	}
	params := map[string]string{
		"method":          "aliexpress.ds.product.get",
		"product_id":      productID,
		"ship_to_country": a.config.ShipToCountry,
		"target_currency": "USD",
		"target_language": "en",
	}
	var resp aeProductGetResponse
	if err := a.call(ctx, operation, params, &resp); err != nil {
		return nil, err
	}
	if resp.Response == nil {
		return nil, marketplace.NewError(marketplace.AliExpress, operation, "product "+productID+" not found", marketplace.ErrProductNotFound)
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Order Operations
// ---------------------------------------------------------------------------

// CreateOrder places a dropshipping order
func (a *AliExpressAdapter) CreateOrder(ctx context.Context, req marketplace.OrderRequest) (*marketplace.OrderConfirmation, error) {
	if len(req.Items) == 0 {
		return nil, marketplace.NewError(marketplace.AliExpress, "createOrder", "order has no items", nil)
	}
	payload := aePlaceOrderRequest{
		OutOrderID: req.Reference,
		LogisticsAddress: aeAddress{
			ContactPerson: req.ShippingAddress.Name,
			Address:       strings.TrimSpace(req.ShippingAddress.Street + " " + req.ShippingAddress.Number),
			Address2:      req.ShippingAddress.Complement,
			City:          req.ShippingAddress.City,
			Province:      req.ShippingAddress.State,
			Zip:           req.ShippingAddress.PostalCode,
			Country:       req.ShippingAddress.Country,
			MobileNo:      req.ShippingAddress.Phone,
		},
		ProductItems: make([]aeProductItem, 0, len(req.Items)),
	}
	total := decimal.Zero
	for _, item := range req.Items {
		payload.ProductItems = append(payload.ProductItems, aeProductItem{ProductID: item.ProductID, ProductCount: item.Quantity})
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, marketplace.NewError(marketplace.AliExpress, "createOrder", "failed to encode order", err)
	}

	params := map[string]string{
		"method": "aliexpress.ds.order.create",
		"param_place_order_request4_open_api_d_t_o": string(encoded),
	}
	var resp aeOrderCreateResponse
	if err := a.call(ctx, "createOrder", params, &resp); err != nil {
		return nil, err
	}
	if resp.Response == nil || !resp.Response.Result.IsSuccess || len(resp.Response.Result.OrderList.Number) == 0 {
		msg := "order was not accepted"
		if resp.Response != nil && resp.Response.Result.ErrorMsg != "" {
			msg = resp.Response.Result.ErrorCode + ": " + resp.Response.Result.ErrorMsg
		}
		return nil, marketplace.NewError(marketplace.AliExpress, "createOrder", msg, nil)
	}

	return &marketplace.OrderConfirmation{
		OrderID:   strconv.FormatInt(resp.Response.Result.OrderList.Number[0], 10),
		Status:    marketplace.OrderStatusPending,
		Total:     total,
		CreatedAt: a.client.now(),
	}, nil
}

// GetOrderStatus returns the mapped status of a dropshipping order
func (a *AliExpressAdapter) GetOrderStatus(ctx context.Context, remoteOrderID string) (marketplace.OrderStatus, error) {
	query, _ := json.Marshal(map[string]string{"order_id": remoteOrderID})
	params := map[string]string{
		"method":             "aliexpress.trade.ds.order.get",
		"single_order_query": string(query),
	}
	var resp aeOrderGetResponse
	if err := a.call(ctx, "getOrderStatus", params, &resp); err != nil {
		return "", err
	}
	if resp.Response == nil {
		return "", marketplace.NewError(marketplace.AliExpress, "getOrderStatus", "order "+remoteOrderID+" not found", marketplace.ErrOrderNotFound)
	}
	return mapAliExpressOrderStatus(resp.Response.Result.OrderStatus), nil
}

// ---------------------------------------------------------------------------
// Inventory Operations
// ---------------------------------------------------------------------------

// UpdateInventory is not available to dropshippers
func (a *AliExpressAdapter) UpdateInventory(ctx context.Context, productID string, quantity int) error {
	return marketplace.NewUnsupportedError(marketplace.AliExpress, "updateInventory")
}

// GetInventory returns the summed stock of all variants
func (a *AliExpressAdapter) GetInventory(ctx context.Context, productID string) (int, error) {
	resp, err := a.getProduct(ctx, "getInventory", productID)
	if err != nil {
		return 0, err
	}
	return resp.toProduct(productID).Stock, nil
}

// call signs and posts a business API request and decodes the response,
// translating error_response payloads into marketplace errors
func (a *AliExpressAdapter) call(ctx context.Context, operation string, params map[string]string, out any) error {
	session, err := a.tokens.Ensure(ctx, a.refreshToken)
	if err != nil {
		return err
	}

	a.mu.Lock()
	appKey, appSecret := a.creds.AppKey, a.creds.AppSecret
	a.mu.Unlock()

	params["app_key"] = appKey
	params["session"] = session
	params["timestamp"] = strconv.FormatInt(a.client.now().UnixMilli(), 10)
	params["sign_method"] = "sha256"
	delete(params, "sign")
	params["sign"] = SignAliExpress(appSecret, "", params)

	req, err := a.formRequest(ctx, a.config.BaseURL, params)
	if err != nil {
		return err
	}
	body, err := a.client.do(operation, req)
	if err != nil {
		if errors.Is(err, marketplace.ErrAuthentication) {
			a.tokens.Clear()
		}
		return err
	}

	var env aeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return marketplace.NewError(marketplace.AliExpress, operation, "failed to parse response", marketplace.ErrInvalidResponse)
	}
	if env.ErrorResponse != nil {
		return a.translateError(operation, env.ErrorResponse)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return marketplace.NewError(marketplace.AliExpress, operation, "failed to parse response", marketplace.ErrInvalidResponse)
	}
	return nil
}

func (a *AliExpressAdapter) translateError(operation string, e *aeErrorResponse) error {
	msg := e.Msg
	if e.SubMsg != "" {
		msg += ": " + e.SubMsg
	}
	switch {
	case aeAuthErrorCodes[e.Code]:
		a.tokens.Clear()
		auth := marketplace.NewAuthenticationError(marketplace.AliExpress, msg, nil)
		auth.Operation = operation
		return auth
	case aeRateLimitErrorCodes[e.Code]:
		if a.client.observer != nil {
			a.client.observer.ObserveRateLimited(marketplace.AliExpress, 0)
		}
		return marketplace.NewRateLimitError(marketplace.AliExpress, operation, 0)
	case e.Code == "isp.service-unavailable" || strings.HasPrefix(e.Code, "isp."):
		return marketplace.NewHTTPError(marketplace.AliExpress, operation, http.StatusServiceUnavailable, msg)
	default:
		return marketplace.NewError(marketplace.AliExpress, operation, e.Code+": "+msg, nil)
	}
}

func (a *AliExpressAdapter) formRequest(ctx context.Context, endpoint string, params map[string]string) (*http.Request, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, marketplace.NewError(marketplace.AliExpress, "buildRequest", "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// SignAliExpress computes the HMAC-SHA256 request signature: the API path
// (system interfaces only) followed by every parameter as key+value in key
// order, keyed with the app secret, upper-case hex.
func SignAliExpress(appSecret, apiPath string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(apiPath)
	for _, k := range keys {
		builder.WriteString(k)
		builder.WriteString(params[k])
	}

	h := hmac.New(sha256.New, []byte(appSecret))
	h.Write([]byte(builder.String()))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// Ensure AliExpressAdapter implements marketplace.Adapter
var _ marketplace.Adapter = (*AliExpressAdapter)(nil)
