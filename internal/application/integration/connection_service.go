package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/infrastructure/ratelimit"
	"github.com/storefront/marketsync/internal/infrastructure/reliability"
	"go.uber.org/zap"
)

// adapterInvalidator is implemented by adapter providers that cache adapters
type adapterInvalidator interface {
	Invalidate(name marketplace.Name)
}

// ConnectionTestResult is the outcome of a connection test
type ConnectionTestResult struct {
	Marketplace marketplace.Name `json:"marketplace"`
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	TestedAt    time.Time        `json:"tested_at"`
	LatencyMs   int64            `json:"latency_ms"`
}

// UpdateSettingsInput changes the stored connection of one marketplace
type UpdateSettingsInput struct {
	IsActive      *bool
	CredentialRef *string
	RateLimit     *marketplace.RateLimitPolicy
}

// ReliabilityStatus is a snapshot of limiter and breaker state
type ReliabilityStatus struct {
	Limiters []ratelimit.Stats             `json:"limiters"`
	Breakers []reliability.BreakerSnapshot `json:"breakers"`
}

// ConnectionService manages marketplace connection settings and exposes the
// state of the reliability layer.
type ConnectionService struct {
	settings marketplace.ConnectionSettingsRepository
	syncLogs marketplace.SyncLogRepository
	adapters marketplace.AdapterProvider
	gateway  *MarketplaceGateway
	limits   *ratelimit.Registry
	breakers *reliability.BreakerRegistry
	logger   *zap.Logger
	now      func() time.Time
}

// NewConnectionService creates a new ConnectionService
func NewConnectionService(
	settings marketplace.ConnectionSettingsRepository,
	syncLogs marketplace.SyncLogRepository,
	adapters marketplace.AdapterProvider,
	gateway *MarketplaceGateway,
	limits *ratelimit.Registry,
	breakers *reliability.BreakerRegistry,
	log *zap.Logger,
) *ConnectionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectionService{
		settings: settings,
		syncLogs: syncLogs,
		adapters: adapters,
		gateway:  gateway,
		limits:   limits,
		breakers: breakers,
		logger:   log,
		now:      time.Now,
	}
}

// TestConnection rebuilds the adapter of name, authenticates and stamps the
// outcome on the stored settings. A sync log row records the attempt.
func (s *ConnectionService) TestConnection(ctx context.Context, name marketplace.Name) (*ConnectionTestResult, error) {
	ctx = logger.WithJob(logger.WithMarketplace(ctx, name.String()), string(marketplace.SyncOperationConnectionTest))

	settings, err := s.settings.FindByMarketplace(ctx, name)
	if err != nil {
		return nil, err
	}
	if inv, ok := s.adapters.(adapterInvalidator); ok {
		inv.Invalidate(name)
	}

	log := marketplace.NewSyncLog(name, marketplace.SyncOperationConnectionTest)
	if err := s.syncLogs.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	started := time.Now()
	testErr := s.authenticate(ctx, name)
	result := &ConnectionTestResult{
		Marketplace: name,
		Success:     testErr == nil,
		TestedAt:    s.now(),
		LatencyMs:   time.Since(started).Milliseconds(),
	}
	if testErr != nil {
		result.Message = testErr.Error()
		_ = log.Fail(testErr.Error())
	} else {
		result.Message = fmt.Sprintf("connected to %s", name.DisplayName())
		_ = log.Finish(0, 0, 0)
	}

	settings.RecordTest(result.TestedAt, testErr)
	if err := s.settings.Save(ctx, settings); err != nil {
		return result, fmt.Errorf("save connection settings: %w", err)
	}
	if err := s.syncLogs.Finalize(context.WithoutCancel(ctx), log); err != nil {
		return result, fmt.Errorf("finalize sync log: %w", err)
	}

	logger.WithLogger(ctx, s.logger).Info("Connection test finished",
		zap.Bool("success", result.Success),
		zap.Int64("latency_ms", result.LatencyMs),
		zap.String("message", result.Message),
	)
	return result, nil
}

func (s *ConnectionService) authenticate(ctx context.Context, name marketplace.Name) error {
	adapter, err := s.adapters.Adapter(ctx, name)
	if err != nil {
		return err
	}
	ok, err := gatewayCall(ctx, s.gateway, name, ratelimit.PriorityDefault, adapter.Authenticate)
	if err != nil {
		return err
	}
	if !ok {
		return marketplace.NewAuthenticationError(name, "marketplace rejected the credentials", nil)
	}
	return nil
}

// GetSettings returns the stored connection of name
func (s *ConnectionService) GetSettings(ctx context.Context, name marketplace.Name) (*marketplace.ConnectionSettings, error) {
	return s.settings.FindByMarketplace(ctx, name)
}

// ListActive returns every active connection
func (s *ConnectionService) ListActive(ctx context.Context) ([]marketplace.ConnectionSettings, error) {
	return s.settings.FindActive(ctx)
}

// UpdateSettings creates or changes the connection of name and applies a new
// rate limit to the running limiter immediately
func (s *ConnectionService) UpdateSettings(ctx context.Context, name marketplace.Name, input UpdateSettingsInput) (*marketplace.ConnectionSettings, error) {
	settings, err := s.settings.FindByMarketplace(ctx, name)
	if errors.Is(err, marketplace.ErrSettingsNotFound) {
		ref := ""
		if input.CredentialRef != nil {
			ref = *input.CredentialRef
		}
		settings, err = marketplace.NewConnectionSettings(name, ref)
	}
	if err != nil {
		return nil, err
	}

	if input.IsActive != nil {
		settings.IsActive = *input.IsActive
	}
	if input.CredentialRef != nil {
		settings.CredentialRef = *input.CredentialRef
	}
	if input.RateLimit != nil {
		if err := input.RateLimit.Validate(); err != nil {
			return nil, err
		}
		settings.RateLimit = *input.RateLimit
	}
	settings.UpdatedAt = s.now()

	if err := s.settings.Save(ctx, settings); err != nil {
		return nil, err
	}
	if inv, ok := s.adapters.(adapterInvalidator); ok {
		inv.Invalidate(name)
	}
	if s.limits != nil && settings.IsActive {
		s.limits.Configure(name, ratelimit.PolicyFrom(settings.RateLimit))
	}

	logger.WithLogger(ctx, s.logger).Info("Connection settings updated",
		zap.String("marketplace", name.String()),
		zap.Bool("active", settings.IsActive),
	)
	return settings, nil
}

// ConnectionSeed is the configured connection of one marketplace
type ConnectionSeed struct {
	Marketplace   marketplace.Name
	CredentialRef string
	RateLimit     marketplace.RateLimitPolicy
}

// EnsureConnections stores settings for every seed that has none yet and
// reports how many were created. Stored settings always win over seeds.
func (s *ConnectionService) EnsureConnections(ctx context.Context, seeds []ConnectionSeed) (int, error) {
	created := 0
	for _, seed := range seeds {
		_, err := s.settings.FindByMarketplace(ctx, seed.Marketplace)
		if err == nil {
			continue
		}
		if !errors.Is(err, marketplace.ErrSettingsNotFound) {
			return created, err
		}

		settings, err := marketplace.NewConnectionSettings(seed.Marketplace, seed.CredentialRef)
		if err != nil {
			return created, err
		}
		if seed.RateLimit != (marketplace.RateLimitPolicy{}) {
			if err := seed.RateLimit.Validate(); err != nil {
				return created, fmt.Errorf("%s: %w", seed.Marketplace, err)
			}
			settings.RateLimit = seed.RateLimit
		}
		if err := s.settings.Save(ctx, settings); err != nil {
			return created, err
		}
		created++
		s.logger.Info("Connection settings seeded from configuration",
			zap.String("marketplace", seed.Marketplace.String()),
			zap.String("credential_ref", seed.CredentialRef),
		)
	}
	return created, nil
}

// ReloadLimits reapplies every stored rate limit policy to the running limiters
func (s *ConnectionService) ReloadLimits(ctx context.Context) error {
	if s.limits == nil {
		return nil
	}
	if err := s.limits.Reload(ctx, s.settings); err != nil {
		return fmt.Errorf("reload rate limits: %w", err)
	}
	logger.WithLogger(ctx, s.logger).Info("Rate limits reloaded")
	return nil
}

// Status returns the current limiter and breaker state
func (s *ConnectionService) Status() ReliabilityStatus {
	status := ReliabilityStatus{
		Limiters: []ratelimit.Stats{},
		Breakers: []reliability.BreakerSnapshot{},
	}
	if s.limits != nil {
		status.Limiters = s.limits.Stats()
	}
	if s.breakers != nil {
		status.Breakers = s.breakers.Snapshot()
	}
	return status
}

// ResetBreaker closes the breaker of key. It reports false for an unknown key.
func (s *ConnectionService) ResetBreaker(key string) bool {
	if s.breakers == nil {
		return false
	}
	return s.breakers.Reset(key)
}

// ListSyncLogs lists sync runs, newest first
func (s *ConnectionService) ListSyncLogs(ctx context.Context, filter marketplace.SyncLogFilter) ([]marketplace.SyncLog, int64, error) {
	return s.syncLogs.FindAll(ctx, filter)
}

// GetSyncLog returns one sync run
func (s *ConnectionService) GetSyncLog(ctx context.Context, id uuid.UUID) (*marketplace.SyncLog, error) {
	return s.syncLogs.FindByID(ctx, id)
}
