package ecommerce

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"go.uber.org/zap"
)

// AmazonAdapter implements marketplace.Adapter for the Selling Partner API.
// Access tokens come from Login with Amazon; when AWS credentials are
// available every request is additionally SigV4-signed.
type AmazonAdapter struct {
	config AdapterConfig
	creds  marketplace.Credentials
	client *apiClient
	tokens *tokenSource

	signer      *v4.Signer
	awsProvider aws.CredentialsProvider
}

// NewAmazonAdapter creates an Amazon SP-API adapter
func NewAmazonAdapter(config AdapterConfig, creds marketplace.Credentials, observer marketplace.QuotaObserver, logger *zap.Logger) (*AmazonAdapter, error) {
	if err := validateCredentials(marketplace.Amazon, creds); err != nil {
		return nil, err
	}
	config.applyDefaults(marketplace.Amazon)
	if creds.Region != "" {
		config.Region = creds.Region
	}
	client := newAPIClient(marketplace.Amazon, config.timeout(), observer, logger)

	a := &AmazonAdapter{
		config: config,
		creds:  creds,
		client: client,
		tokens: newTokenSource(client.now),
	}

	switch {
	case creds.AWSAccessKeyID != "" && creds.AWSSecretAccessKey != "":
		a.awsProvider = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			creds.AWSAccessKeyID,
			creds.AWSSecretAccessKey,
			"",
		))
	case config.UseAWSCredentialChain:
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(config.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		a.awsProvider = awsCfg.Credentials
	}
	if a.awsProvider != nil {
		a.signer = v4.NewSigner()
	}
	return a, nil
}

// Name returns the marketplace this adapter handles
func (a *AmazonAdapter) Name() marketplace.Name {
	return marketplace.Amazon
}

// IsAuthenticated reports whether an unexpired LWA token is held
func (a *AmazonAdapter) IsAuthenticated() bool {
	return a.tokens.Valid()
}

// Authenticate obtains an LWA access token when none is held
func (a *AmazonAdapter) Authenticate(ctx context.Context) (bool, error) {
	if _, err := a.tokens.Ensure(ctx, a.refreshToken); err != nil {
		return false, err
	}
	return true, nil
}

func (a *AmazonAdapter) refreshToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {a.creds.RefreshToken},
		"client_id":     {a.creds.ClientID},
		"client_secret": {a.creds.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, marketplace.NewAuthenticationError(marketplace.Amazon, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	var resp lwaTokenResponse
	if err := a.client.doJSON("authenticate", req, &resp); err != nil {
		return "", 0, asAuthError(marketplace.Amazon, err)
	}
	if resp.AccessToken == "" {
		return "", 0, marketplace.NewAuthenticationError(marketplace.Amazon, "token response without access token", marketplace.ErrInvalidResponse)
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

// ---------------------------------------------------------------------------
// Product Operations
// ---------------------------------------------------------------------------

// SearchProducts searches the catalog of the configured marketplace
func (a *AmazonAdapter) SearchProducts(ctx context.Context, query marketplace.ProductQuery) ([]marketplace.Product, error) {
	params := url.Values{
		"marketplaceIds": {a.creds.MarketplaceID},
		"includedData":   {"summaries,images,attributes"},
	}
	if query.Query != "" {
		params.Set("keywords", query.Query)
	}
	if query.CategoryID != "" {
		params.Set("classificationIds", query.CategoryID)
	}
	if query.Limit > 0 {
		params.Set("pageSize", strconv.Itoa(min(query.Limit, 20)))
	}

	var resp amzCatalogSearchResponse
	if err := a.call(ctx, "searchProducts", http.MethodGet, "/catalog/2022-04-01/items?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	products := make([]marketplace.Product, 0, len(resp.Items))
	for _, item := range resp.Items {
		p := item.toProduct()
		if !inPriceRange(p.Price, query.MinPrice, query.MaxPrice) {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// GetProductDetails returns a catalog item with its fulfillable stock
func (a *AmazonAdapter) GetProductDetails(ctx context.Context, productID string) (*marketplace.Product, error) {
	params := url.Values{
		"marketplaceIds": {a.creds.MarketplaceID},
		"includedData":   {"summaries,images,attributes"},
	}
	var item amzCatalogItem
	path := "/catalog/2022-04-01/items/" + url.PathEscape(productID) + "?" + params.Encode()
	if err := a.call(ctx, "getProductDetails", http.MethodGet, path, nil, &item); err != nil {
		return nil, notFoundAs(err, marketplace.ErrProductNotFound)
	}
	product := item.toProduct()

	stock, err := a.GetInventory(ctx, productID)
	if err != nil && !errors.Is(err, marketplace.ErrProductNotFound) {
		return nil, err
	}
	product.Stock = stock
	return &product, nil
}

// ---------------------------------------------------------------------------
// Order Operations
// ---------------------------------------------------------------------------

// CreateOrder creates a multi-channel fulfillment order. The local reference
// doubles as the seller fulfillment order id.
func (a *AmazonAdapter) CreateOrder(ctx context.Context, req marketplace.OrderRequest) (*marketplace.OrderConfirmation, error) {
	if req.Reference == "" || len(req.Items) == 0 {
		return nil, marketplace.NewError(marketplace.Amazon, "createOrder", "reference and items are required", nil)
	}
	now := a.client.now().UTC()
	body := amzFulfillmentOrderRequest{
		SellerFulfillmentOrderID: req.Reference,
		DisplayableOrderID:       req.Reference,
		DisplayableOrderDate:     now.Format(time.RFC3339),
		DisplayableOrderComment:  "Thank you for your order",
		ShippingSpeedCategory:    "Standard",
		MarketplaceID:            a.creds.MarketplaceID,
		DestinationAddress: amzAddress{
			Name:          req.ShippingAddress.Name,
			AddressLine1:  strings.TrimSpace(req.ShippingAddress.Street + " " + req.ShippingAddress.Number),
			AddressLine2:  req.ShippingAddress.Complement,
			City:          req.ShippingAddress.City,
			StateOrRegion: req.ShippingAddress.State,
			PostalCode:    req.ShippingAddress.PostalCode,
			CountryCode:   req.ShippingAddress.Country,
			Phone:         req.ShippingAddress.Phone,
		},
		Items: make([]amzFulfillmentOrderItem, 0, len(req.Items)),
	}
	total := decimal.Zero
	for i, item := range req.Items {
		body.Items = append(body.Items, amzFulfillmentOrderItem{
			SellerSKU:                    item.ProductID,
			SellerFulfillmentOrderItemID: fmt.Sprintf("%s-%d", req.Reference, i+1),
			Quantity:                     item.Quantity,
		})
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if err := a.call(ctx, "createOrder", http.MethodPost, "/fba/outbound/2020-07-01/fulfillmentOrders", body, nil); err != nil {
		return nil, err
	}
	return &marketplace.OrderConfirmation{
		OrderID:   req.Reference,
		Status:    marketplace.OrderStatusPending,
		Total:     total,
		CreatedAt: now,
	}, nil
}

// GetOrderStatus returns the mapped status of a fulfillment order
func (a *AmazonAdapter) GetOrderStatus(ctx context.Context, remoteOrderID string) (marketplace.OrderStatus, error) {
	var resp amzFulfillmentOrderResponse
	path := "/fba/outbound/2020-07-01/fulfillmentOrders/" + url.PathEscape(remoteOrderID)
	if err := a.call(ctx, "getOrderStatus", http.MethodGet, path, nil, &resp); err != nil {
		return "", notFoundAs(err, marketplace.ErrOrderNotFound)
	}
	return mapAmazonFulfillmentStatus(resp.Payload.FulfillmentOrder.FulfillmentOrderStatus), nil
}

// ---------------------------------------------------------------------------
// Inventory Operations
// ---------------------------------------------------------------------------

// UpdateInventory patches the fulfillment availability of a seller SKU
func (a *AmazonAdapter) UpdateInventory(ctx context.Context, productID string, quantity int) error {
	body := amzListingPatch{
		ProductType: "PRODUCT",
		Patches: []amzPatchOperation{{
			Op:   "replace",
			Path: "/attributes/fulfillment_availability",
			Value: []any{map[string]any{
				"fulfillment_channel_code": "DEFAULT",
				"quantity":                 quantity,
			}},
		}},
	}
	path := fmt.Sprintf("/listings/2021-08-01/items/%s/%s?marketplaceIds=%s",
		url.PathEscape(a.creds.SellerID), url.PathEscape(productID), url.QueryEscape(a.creds.MarketplaceID))
	return a.call(ctx, "updateInventory", http.MethodPatch, path, body, nil)
}

// GetInventory returns the FBA quantity of a seller SKU
func (a *AmazonAdapter) GetInventory(ctx context.Context, productID string) (int, error) {
	params := url.Values{
		"details":         {"true"},
		"granularityType": {"Marketplace"},
		"granularityId":   {a.creds.MarketplaceID},
		"marketplaceIds":  {a.creds.MarketplaceID},
		"sellerSkus":      {productID},
	}
	var resp amzInventoryResponse
	if err := a.call(ctx, "getInventory", http.MethodGet, "/fba/inventory/v1/summaries?"+params.Encode(), nil, &resp); err != nil {
		return 0, notFoundAs(err, marketplace.ErrProductNotFound)
	}
	summaries := resp.Payload.InventorySummaries
	if len(summaries) == 0 {
		return 0, marketplace.NewError(marketplace.Amazon, "getInventory", "no inventory summary for "+productID, marketplace.ErrProductNotFound)
	}
	if d := summaries[0].InventoryDetails; d != nil {
		return d.FulfillableQuantity, nil
	}
	return summaries[0].TotalQuantity, nil
}

// call authenticates on demand, signs and sends an SP-API request
func (a *AmazonAdapter) call(ctx context.Context, operation, method, path string, body, out any) error {
	token, err := a.tokens.Ensure(ctx, a.refreshToken)
	if err != nil {
		return err
	}
	req, err := a.client.newJSONRequest(ctx, method, a.config.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("x-amz-access-token", token)
	req.Header.Set("x-amz-date", a.client.now().UTC().Format("20060102T150405Z"))

	if a.signer != nil {
		if err := a.sign(ctx, req); err != nil {
			return marketplace.NewError(marketplace.Amazon, operation, "failed to sign request", err)
		}
	}

	err = a.client.doJSON(operation, req, out)
	if errors.Is(err, marketplace.ErrAuthentication) {
		a.tokens.Clear()
	}
	return err
}

// sign applies AWS Signature Version 4 for the execute-api service
func (a *AmazonAdapter) sign(ctx context.Context, req *http.Request) error {
	awsCreds, err := a.awsProvider.Retrieve(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if req.Body != nil {
		payload, err = io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		req.Body = io.NopCloser(bytes.NewReader(payload))
	}
	sum := sha256.Sum256(payload)
	return a.signer.SignHTTP(ctx, awsCreds, req, hex.EncodeToString(sum[:]), AmazonServiceID, a.config.Region, a.client.now())
}

func inPriceRange(price decimal.Decimal, lo, hi *decimal.Decimal) bool {
	if lo != nil && price.LessThan(*lo) {
		return false
	}
	if hi != nil && price.GreaterThan(*hi) {
		return false
	}
	return true
}

// Ensure AmazonAdapter implements marketplace.Adapter
var _ marketplace.Adapter = (*AmazonAdapter)(nil)
