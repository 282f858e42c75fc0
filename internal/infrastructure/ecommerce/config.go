package ecommerce

import (
	"errors"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// Production endpoints
const (
	MercadoLivreAPIURL  = "https://api.mercadolibre.com"
	MercadoLivreAuthURL = "https://api.mercadolibre.com/oauth/token"
	MercadoLivreSiteID  = "MLB"

	AmazonSPAPIURL  = "https://sellingpartnerapi-na.amazon.com"
	AmazonLWAURL    = "https://api.amazon.com/auth/o2/token"
	AmazonRegion    = "us-east-1"
	AmazonServiceID = "execute-api"

	AliExpressAPIURL  = "https://api-sg.aliexpress.com/sync"
	AliExpressAuthURL = "https://api-sg.aliexpress.com/rest"
)

// Errors for adapter configuration
var (
	ErrMissingClientID     = errors.New("ecommerce: client id is required")
	ErrMissingClientSecret = errors.New("ecommerce: client secret is required")
	ErrMissingRefreshToken = errors.New("ecommerce: refresh token is required")
	ErrMissingAppKey       = errors.New("ecommerce: app key is required")
	ErrMissingAppSecret    = errors.New("ecommerce: app secret is required")
	ErrMissingSessionToken = errors.New("ecommerce: access token or refresh token is required")
	ErrMissingSellerID     = errors.New("ecommerce: seller id is required")
	ErrMissingMarketplace  = errors.New("ecommerce: marketplace id is required")
)

// AdapterConfig holds the endpoint settings of one marketplace
type AdapterConfig struct {
	// BaseURL is the API root
	BaseURL string
	// AuthURL is the token endpoint
	AuthURL string
	// SiteID is the MercadoLivre site searched, e.g. MLB
	SiteID string
	// Region is the AWS region used to sign Amazon requests
	Region string
	// UseAWSCredentialChain signs Amazon requests with the default AWS
	// credential chain when no static keys are configured
	UseAWSCredentialChain bool
	// ShipToCountry is the destination used for AliExpress pricing
	ShipToCountry string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

// DefaultAdapterConfig returns the production configuration of a marketplace
func DefaultAdapterConfig(name marketplace.Name) AdapterConfig {
	var c AdapterConfig
	c.applyDefaults(name)
	return c
}

func (c *AdapterConfig) applyDefaults(name marketplace.Name) {
	switch name {
	case marketplace.MercadoLivre:
		if c.BaseURL == "" {
			c.BaseURL = MercadoLivreAPIURL
		}
		if c.AuthURL == "" {
			c.AuthURL = MercadoLivreAuthURL
		}
		if c.SiteID == "" {
			c.SiteID = MercadoLivreSiteID
		}
	case marketplace.Amazon:
		if c.BaseURL == "" {
			c.BaseURL = AmazonSPAPIURL
		}
		if c.AuthURL == "" {
			c.AuthURL = AmazonLWAURL
		}
		if c.Region == "" {
			c.Region = AmazonRegion
		}
	case marketplace.AliExpress:
		if c.BaseURL == "" {
			c.BaseURL = AliExpressAPIURL
		}
		if c.AuthURL == "" {
			c.AuthURL = AliExpressAuthURL
		}
		if c.ShipToCountry == "" {
			c.ShipToCountry = "US"
		}
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
}

func (c AdapterConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// validateCredentials checks the fields a marketplace needs to authenticate
func validateCredentials(name marketplace.Name, creds marketplace.Credentials) error {
	switch name {
	case marketplace.MercadoLivre:
		if creds.ClientID == "" {
			return ErrMissingClientID
		}
		if creds.ClientSecret == "" {
			return ErrMissingClientSecret
		}
		if creds.RefreshToken == "" {
			return ErrMissingRefreshToken
		}
	case marketplace.Amazon:
		if creds.ClientID == "" {
			return ErrMissingClientID
		}
		if creds.ClientSecret == "" {
			return ErrMissingClientSecret
		}
		if creds.RefreshToken == "" {
			return ErrMissingRefreshToken
		}
		if creds.SellerID == "" {
			return ErrMissingSellerID
		}
		if creds.MarketplaceID == "" {
			return ErrMissingMarketplace
		}
	case marketplace.AliExpress:
		if creds.AppKey == "" {
			return ErrMissingAppKey
		}
		if creds.AppSecret == "" {
			return ErrMissingAppSecret
		}
		if creds.AccessToken == "" && creds.RefreshToken == "" {
			return ErrMissingSessionToken
		}
	default:
		return marketplace.ErrInvalidMarketplace
	}
	return nil
}
