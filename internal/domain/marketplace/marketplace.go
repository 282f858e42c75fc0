package marketplace

import (
	"errors"
	"strings"
)

var (
	ErrMarketplaceNotConfigured = errors.New("marketplace: marketplace not configured")
	ErrMarketplaceNotEnabled    = errors.New("marketplace: marketplace not enabled")
	ErrInvalidMarketplace       = errors.New("marketplace: invalid marketplace name")
	ErrInvalidResponse          = errors.New("marketplace: invalid marketplace response")
	ErrProductNotFound          = errors.New("marketplace: product not found")
	ErrOrderNotFound            = errors.New("marketplace: remote order not found")

	ErrSyncLogNotFound         = errors.New("marketplace: sync log not found")
	ErrSyncLogAlreadyFinalized = errors.New("marketplace: sync log already finalized")
	ErrMappingNotFound         = errors.New("marketplace: category mapping not found")
	ErrSettingsNotFound        = errors.New("marketplace: connection settings not found")
)

// ---------------------------------------------------------------------------
// Name identifies a marketplace
// ---------------------------------------------------------------------------

// Name identifies a marketplace
type Name string

const (
	// MercadoLivre is the Latin American marketplace
	MercadoLivre Name = "mercadolivre"
	// Amazon is the Amazon Selling Partner API
	Amazon Name = "amazon"
	// AliExpress is the AliExpress dropshipping API
	AliExpress Name = "aliexpress"

	// Unknown groups order items whose product has no marketplace origin
	Unknown Name = "Unknown"
)

// AllNames returns every supported marketplace in a stable order
func AllNames() []Name {
	return []Name{MercadoLivre, Amazon, AliExpress}
}

// ParseName normalizes a user supplied marketplace name
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	switch n {
	case "mercado_livre", "mercadolibre":
		n = MercadoLivre
	}
	if !n.IsValid() {
		return "", ErrInvalidMarketplace
	}
	return n, nil
}

// IsValid returns true for supported marketplaces
func (n Name) IsValid() bool {
	switch n {
	case MercadoLivre, Amazon, AliExpress:
		return true
	default:
		return false
	}
}

// String returns the string representation of Name
func (n Name) String() string {
	return string(n)
}

// DisplayName returns a human-readable name for the marketplace
func (n Name) DisplayName() string {
	switch n {
	case MercadoLivre:
		return "Mercado Livre"
	case Amazon:
		return "Amazon"
	case AliExpress:
		return "AliExpress"
	default:
		return string(n)
	}
}
