package integration

import (
	"context"
	"testing"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/persistence"
	"github.com/storefront/marketsync/internal/infrastructure/ratelimit"
	"github.com/storefront/marketsync/internal/infrastructure/reliability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type connectionFixture struct {
	settings *persistence.GormConnectionSettingsRepository
	syncLogs *persistence.GormSyncLogRepository
	adapter  *MockAdapter
	provider *staticProvider
	limits   *ratelimit.Registry
	breakers *reliability.BreakerRegistry
	service  *ConnectionService
}

func newConnectionFixture(t *testing.T) *connectionFixture {
	t.Helper()
	db := newTestDB(t)
	f := &connectionFixture{
		settings: persistence.NewGormConnectionSettingsRepository(db),
		syncLogs: persistence.NewGormSyncLogRepository(db),
		adapter:  newMockAdapter(marketplace.MercadoLivre),
		limits:   ratelimit.NewRegistry(nil),
		breakers: reliability.NewBreakerRegistry(reliability.DefaultBreakerConfig()),
	}
	t.Cleanup(f.limits.Close)
	f.provider = newStaticProvider(f.adapter)
	executor := reliability.NewExecutor(f.breakers, reliability.RetryPolicy{}, nil)
	f.service = NewConnectionService(
		f.settings,
		f.syncLogs,
		f.provider,
		NewMarketplaceGateway(f.limits, executor),
		f.limits,
		f.breakers,
		zaptest.NewLogger(t),
	)

	settings, err := marketplace.NewConnectionSettings(marketplace.MercadoLivre, "ml-primary")
	require.NoError(t, err)
	require.NoError(t, f.settings.Save(context.Background(), settings))
	return f
}

func TestConnectionService_TestConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("success stamps the settings", func(t *testing.T) {
		f := newConnectionFixture(t)
		f.adapter.On("Authenticate", mock.Anything).Return(true, nil)

		result, err := f.service.TestConnection(ctx, marketplace.MercadoLivre)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Contains(t, f.provider.invalidated, marketplace.MercadoLivre)

		stored, err := f.settings.FindByMarketplace(ctx, marketplace.MercadoLivre)
		require.NoError(t, err)
		require.NotNil(t, stored.LastTestedAt)
		assert.True(t, stored.LastTestOK)
		assert.Empty(t, stored.LastTestError)

		op := marketplace.SyncOperationConnectionTest
		logs, _, err := f.syncLogs.FindAll(ctx, marketplace.SyncLogFilter{Operation: &op})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, marketplace.SyncStatusCompleted, logs[0].Status)
	})

	t.Run("rejected credentials are recorded", func(t *testing.T) {
		f := newConnectionFixture(t)
		f.adapter.On("Authenticate", mock.Anything).Return(false, nil)

		result, err := f.service.TestConnection(ctx, marketplace.MercadoLivre)
		require.NoError(t, err)
		assert.False(t, result.Success)

		stored, err := f.settings.FindByMarketplace(ctx, marketplace.MercadoLivre)
		require.NoError(t, err)
		assert.False(t, stored.LastTestOK)
		assert.Contains(t, stored.LastTestError, "rejected")
	})

	t.Run("unknown marketplace", func(t *testing.T) {
		f := newConnectionFixture(t)
		_, err := f.service.TestConnection(ctx, marketplace.Amazon)
		assert.ErrorIs(t, err, marketplace.ErrSettingsNotFound)
	})
}

func TestConnectionService_UpdateSettingsAppliesLimits(t *testing.T) {
	ctx := context.Background()
	f := newConnectionFixture(t)

	policy := marketplace.RateLimitPolicy{MaxConcurrent: 2, MinSpacing: 100 * time.Millisecond}
	settings, err := f.service.UpdateSettings(ctx, marketplace.MercadoLivre, UpdateSettingsInput{RateLimit: &policy})
	require.NoError(t, err)
	assert.Equal(t, policy, settings.RateLimit)

	limiter, ok := f.limits.Get(marketplace.MercadoLivre)
	require.True(t, ok)
	assert.Equal(t, 2, limiter.Stats().MaxConcurrent)

	t.Run("invalid policy is rejected", func(t *testing.T) {
		bad := marketplace.RateLimitPolicy{Reservoir: 10}
		_, err := f.service.UpdateSettings(ctx, marketplace.MercadoLivre, UpdateSettingsInput{RateLimit: &bad})
		assert.ErrorIs(t, err, marketplace.ErrInvalidRateLimitPolicy)
	})

	t.Run("creates missing settings", func(t *testing.T) {
		ref := "amz-eu"
		created, err := f.service.UpdateSettings(ctx, marketplace.Amazon, UpdateSettingsInput{CredentialRef: &ref})
		require.NoError(t, err)
		assert.Equal(t, "amz-eu", created.CredentialRef)
		assert.True(t, created.IsActive)
	})

	t.Run("reload configures every active marketplace", func(t *testing.T) {
		require.NoError(t, f.service.ReloadLimits(ctx))
		status := f.service.Status()
		assert.Len(t, status.Limiters, 2)
	})
}

func TestConnectionService_ResetBreaker(t *testing.T) {
	f := newConnectionFixture(t)
	key := marketplace.MercadoLivre.String()
	f.breakers.Get(key)

	assert.True(t, f.service.ResetBreaker(key))
	assert.False(t, f.service.ResetBreaker("nowhere"))
	assert.Len(t, f.service.Status().Breakers, 1)
}

func TestConnectionService_EnsureConnections(t *testing.T) {
	ctx := context.Background()
	f := newConnectionFixture(t)

	custom := marketplace.RateLimitPolicy{MaxConcurrent: 1, Reservoir: 50, ReservoirRefresh: time.Minute}
	created, err := f.service.EnsureConnections(ctx, []ConnectionSeed{
		{Marketplace: marketplace.MercadoLivre, CredentialRef: "ml-other"},
		{Marketplace: marketplace.Amazon, CredentialRef: "amz-us", RateLimit: custom},
		{Marketplace: marketplace.AliExpress, CredentialRef: "ae"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	ml, err := f.settings.FindByMarketplace(ctx, marketplace.MercadoLivre)
	require.NoError(t, err)
	assert.Equal(t, "ml-primary", ml.CredentialRef, "stored settings are not overwritten")

	amz, err := f.settings.FindByMarketplace(ctx, marketplace.Amazon)
	require.NoError(t, err)
	assert.Equal(t, custom, amz.RateLimit)

	ae, err := f.settings.FindByMarketplace(ctx, marketplace.AliExpress)
	require.NoError(t, err)
	assert.Equal(t, marketplace.DefaultRateLimitPolicy(marketplace.AliExpress), ae.RateLimit)

	again, err := f.service.EnsureConnections(ctx, []ConnectionSeed{{Marketplace: marketplace.Amazon, CredentialRef: "amz-us"}})
	require.NoError(t, err)
	assert.Zero(t, again)

	t.Run("invalid seed policy", func(t *testing.T) {
		f := newConnectionFixture(t)
		_, err := f.service.EnsureConnections(ctx, []ConnectionSeed{
			{Marketplace: marketplace.Amazon, RateLimit: marketplace.RateLimitPolicy{Reservoir: 5}},
		})
		assert.ErrorIs(t, err, marketplace.ErrInvalidRateLimitPolicy)
	})
}
