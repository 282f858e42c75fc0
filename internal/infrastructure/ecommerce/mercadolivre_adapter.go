package ecommerce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"go.uber.org/zap"
)

// MercadoLivreAdapter implements marketplace.Adapter for MercadoLivre.
// Orders are placed by buyers on the marketplace itself, so CreateOrder is
// unsupported.
type MercadoLivreAdapter struct {
	config AdapterConfig
	client *apiClient
	tokens *tokenSource

	mu    sync.Mutex
	creds marketplace.Credentials
}

// NewMercadoLivreAdapter creates a MercadoLivre adapter
func NewMercadoLivreAdapter(config AdapterConfig, creds marketplace.Credentials, observer marketplace.QuotaObserver, logger *zap.Logger) (*MercadoLivreAdapter, error) {
	if err := validateCredentials(marketplace.MercadoLivre, creds); err != nil {
		return nil, err
	}
	config.applyDefaults(marketplace.MercadoLivre)
	client := newAPIClient(marketplace.MercadoLivre, config.timeout(), observer, logger)
	return &MercadoLivreAdapter{
		config: config,
		client: client,
		tokens: newTokenSource(client.now),
		creds:  creds,
	}, nil
}

// Name returns the marketplace this adapter handles
func (a *MercadoLivreAdapter) Name() marketplace.Name {
	return marketplace.MercadoLivre
}

// IsAuthenticated reports whether an unexpired access token is held
func (a *MercadoLivreAdapter) IsAuthenticated() bool {
	return a.tokens.Valid()
}

// Authenticate exchanges the refresh token for an access token when needed
func (a *MercadoLivreAdapter) Authenticate(ctx context.Context) (bool, error) {
	if _, err := a.tokens.Ensure(ctx, a.refreshToken); err != nil {
		return false, err
	}
	return true, nil
}

// refreshToken runs the OAuth2 refresh_token grant. MercadoLivre rotates the
// refresh token on every grant.
func (a *MercadoLivreAdapter) refreshToken(ctx context.Context) (string, time.Duration, error) {
	a.mu.Lock()
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {a.creds.ClientID},
		"client_secret": {a.creds.ClientSecret},
		"refresh_token": {a.creds.RefreshToken},
	}
	a.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, marketplace.NewAuthenticationError(marketplace.MercadoLivre, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp mlTokenResponse
	if err := a.client.doJSON("authenticate", req, &resp); err != nil {
		return "", 0, asAuthError(marketplace.MercadoLivre, err)
	}
	if resp.AccessToken == "" {
		return "", 0, marketplace.NewAuthenticationError(marketplace.MercadoLivre, "token response without access token", marketplace.ErrInvalidResponse)
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

// SearchProducts searches the configured site
func (a *MercadoLivreAdapter) SearchProducts(ctx context.Context, query marketplace.ProductQuery) ([]marketplace.Product, error) {
	params := url.Values{}
	if query.Query != "" {
		params.Set("q", query.Query)
	}
	if query.CategoryID != "" {
		params.Set("category", query.CategoryID)
	}
	if query.MinPrice != nil || query.MaxPrice != nil {
		lo, hi := "*", "*"
		if query.MinPrice != nil {
			lo = query.MinPrice.String()
		}
		if query.MaxPrice != nil {
			hi = query.MaxPrice.String()
		}
		params.Set("price", lo+"-"+hi)
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset > 0 {
		params.Set("offset", strconv.Itoa(query.Offset))
	}

	endpoint := fmt.Sprintf("%s/sites/%s/search?%s", a.config.BaseURL, url.PathEscape(a.config.SiteID), params.Encode())
	var resp mlSearchResponse
	if err := a.call(ctx, "searchProducts", http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	products := make([]marketplace.Product, 0, len(resp.Results))
	for _, item := range resp.Results {
		products = append(products, item.toProduct())
	}
	return products, nil
}

// GetProductDetails returns a listing with its plain-text description
func (a *MercadoLivreAdapter) GetProductDetails(ctx context.Context, productID string) (*marketplace.Product, error) {
	if productID == "" {
		return nil, marketplace.NewError(marketplace.MercadoLivre, "getProductDetails", "product id is required", marketplace.ErrProductNotFound)
	}

	var item mlItem
	endpoint := fmt.Sprintf("%s/items/%s", a.config.BaseURL, url.PathEscape(productID))
	if err := a.call(ctx, "getProductDetails", http.MethodGet, endpoint, nil, &item); err != nil {
		return nil, notFoundAs(err, marketplace.ErrProductNotFound)
	}
	product := item.toProduct()

	var desc mlDescription
	if err := a.call(ctx, "getProductDescription", http.MethodGet, endpoint+"/description", nil, &desc); err == nil {
		product.Description = desc.PlainText
	} else if !isStatus(err, http.StatusNotFound) {
		return nil, err
	}
	return &product, nil
}

// ---------------------------------------------------------------------------
// Order Operations
// ---------------------------------------------------------------------------

// CreateOrder is not offered by MercadoLivre
func (a *MercadoLivreAdapter) CreateOrder(ctx context.Context, req marketplace.OrderRequest) (*marketplace.OrderConfirmation, error) {
	return nil, marketplace.NewUnsupportedError(marketplace.MercadoLivre, "createOrder")
}

// GetOrderStatus returns the mapped status of a MercadoLivre order
func (a *MercadoLivreAdapter) GetOrderStatus(ctx context.Context, remoteOrderID string) (marketplace.OrderStatus, error) {
	var order mlOrder
	endpoint := fmt.Sprintf("%s/orders/%s", a.config.BaseURL, url.PathEscape(remoteOrderID))
	if err := a.call(ctx, "getOrderStatus", http.MethodGet, endpoint, nil, &order); err != nil {
		return "", notFoundAs(err, marketplace.ErrOrderNotFound)
	}
	return mapMercadoLivreOrderStatus(order), nil
}

// ---------------------------------------------------------------------------
// Inventory Operations
// ---------------------------------------------------------------------------

// UpdateInventory sets available_quantity on a listing
func (a *MercadoLivreAdapter) UpdateInventory(ctx context.Context, productID string, quantity int) error {
	endpoint := fmt.Sprintf("%s/items/%s", a.config.BaseURL, url.PathEscape(productID))
	return a.call(ctx, "updateInventory", http.MethodPut, endpoint, mlInventoryUpdate{AvailableQuantity: quantity}, nil)
}

// GetInventory returns available_quantity of a listing
func (a *MercadoLivreAdapter) GetInventory(ctx context.Context, productID string) (int, error) {
	var item mlItem
	endpoint := fmt.Sprintf("%s/items/%s?attributes=id,available_quantity", a.config.BaseURL, url.PathEscape(productID))
	if err := a.call(ctx, "getInventory", http.MethodGet, endpoint, nil, &item); err != nil {
		return 0, notFoundAs(err, marketplace.ErrProductNotFound)
	}
	return item.AvailableQuantity, nil
}

// call authenticates on demand and sends a bearer-authorized request. A 401
// drops the held token so the next attempt refreshes it.
func (a *MercadoLivreAdapter) call(ctx context.Context, operation, method, endpoint string, body, out any) error {
	token, err := a.tokens.Ensure(ctx, a.refreshToken)
	if err != nil {
		return err
	}
	req, err := a.client.newJSONRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	err = a.client.doJSON(operation, req, out)
	if errors.Is(err, marketplace.ErrAuthentication) {
		a.tokens.Clear()
	}
	return err
}

// Ensure MercadoLivreAdapter implements marketplace.Adapter
var _ marketplace.Adapter = (*MercadoLivreAdapter)(nil)
