package marketplace

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRateLimitPolicy = errors.New("marketplace: invalid rate limit policy")

// RateLimitPolicy is the persisted throttling policy for a marketplace
type RateLimitPolicy struct {
	// MaxConcurrent bounds in-flight requests
	MaxConcurrent int
	// MinSpacing is the minimum gap between two dispatches
	MinSpacing time.Duration
	// Reservoir is the number of requests allowed per ReservoirRefresh
	Reservoir int
	// ReservoirRefresh is the reservoir replenish period
	ReservoirRefresh time.Duration
}

// Validate checks the policy; zero values mean "unbounded"
func (p RateLimitPolicy) Validate() error {
	if p.MaxConcurrent < 0 || p.MinSpacing < 0 || p.Reservoir < 0 || p.ReservoirRefresh < 0 {
		return ErrInvalidRateLimitPolicy
	}
	if p.Reservoir > 0 && p.ReservoirRefresh == 0 {
		return ErrInvalidRateLimitPolicy
	}
	return nil
}

// DefaultRateLimitPolicy returns the conservative policy used for a
// marketplace with no persisted settings
func DefaultRateLimitPolicy(name Name) RateLimitPolicy {
	switch name {
	case MercadoLivre:
		return RateLimitPolicy{MaxConcurrent: 5, MinSpacing: 200 * time.Millisecond, Reservoir: 1500, ReservoirRefresh: time.Minute}
	case Amazon:
		return RateLimitPolicy{MaxConcurrent: 2, MinSpacing: 500 * time.Millisecond, Reservoir: 300, ReservoirRefresh: time.Hour}
	case AliExpress:
		return RateLimitPolicy{MaxConcurrent: 3, MinSpacing: 300 * time.Millisecond, Reservoir: 1000, ReservoirRefresh: time.Hour}
	default:
		return RateLimitPolicy{MaxConcurrent: 1, MinSpacing: time.Second}
	}
}

// ConnectionSettings is the per-marketplace connection record
type ConnectionSettings struct {
	// ID is the unique identifier of the record
	ID uuid.UUID
	// Marketplace is unique across settings
	Marketplace Name
	// IsActive disables the marketplace without deleting settings
	IsActive bool
	// CredentialRef points at credentials held by a CredentialStore
	CredentialRef string
	// RateLimit is applied to the marketplace limiter on load and reload
	RateLimit RateLimitPolicy
	// LastTestedAt is when a connection test last ran
	LastTestedAt *time.Time
	// LastTestOK is the outcome of the last connection test
	LastTestOK bool
	// LastTestError holds the failure message of the last connection test
	LastTestError string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewConnectionSettings creates active settings with the default policy
func NewConnectionSettings(name Name, credentialRef string) (*ConnectionSettings, error) {
	if !name.IsValid() {
		return nil, ErrInvalidMarketplace
	}
	now := time.Now()
	return &ConnectionSettings{
		ID:            uuid.New(),
		Marketplace:   name,
		IsActive:      true,
		CredentialRef: credentialRef,
		RateLimit:     DefaultRateLimitPolicy(name),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// RecordTest stamps the outcome of a connection test
func (s *ConnectionSettings) RecordTest(at time.Time, testErr error) {
	s.LastTestedAt = &at
	s.LastTestOK = testErr == nil
	s.LastTestError = ""
	if testErr != nil {
		s.LastTestError = testErr.Error()
	}
	s.UpdatedAt = at
}

// ConnectionSettingsRepository persists connection settings
type ConnectionSettingsRepository interface {
	// FindByMarketplace returns ErrSettingsNotFound when absent
	FindByMarketplace(ctx context.Context, name Name) (*ConnectionSettings, error)
	FindActive(ctx context.Context) ([]ConnectionSettings, error)
	Save(ctx context.Context, settings *ConnectionSettings) error
}
