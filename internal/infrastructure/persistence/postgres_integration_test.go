//go:build integration

package persistence

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/infrastructure/migration"
	"github.com/storefront/marketsync/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newPostgresDB starts a throwaway PostgreSQL container and applies the
// embedded migrations to it
func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("marketsync_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migration.NewEmbedded(sqlDB, migrations.FS, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())
	return db
}

func TestPostgres_ProductMarketplaceIdentity(t *testing.T) {
	ctx := context.Background()
	db := newPostgresDB(t)
	categories := NewGormCategoryRepository(db)
	products := NewGormProductRepository(db)

	fallback, err := categories.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	again, err := categories.GetOrCreateDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, fallback.ID, again.ID)

	newProduct := func(id string) *catalog.Product {
		p := newImportedProduct(t, marketplace.MercadoLivre, id)
		p.CategoryID = fallback.ID
		p.Slug = uuid.NewString()
		return p
	}

	t.Run("concurrent imports keep one row", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 10)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = products.Create(ctx, newProduct("MLB777"))
			}(i)
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, catalog.ErrDuplicateMarketplaceID)
		}
		assert.Equal(t, 1, created)

		count, err := products.CountByMarketplaceIdentity(ctx, marketplace.MercadoLivre, "MLB777")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		require.NoError(t, products.Create(ctx, newProduct("MLB778")))
		first, err := products.FindByMarketplaceIdentity(ctx, marketplace.MercadoLivre, "MLB778")
		require.NoError(t, err)
		second, err := products.FindByID(ctx, first.ID)
		require.NoError(t, err)

		_, err = first.SetPriceStock(decimal.RequireFromString("10.00"), 1, catalog.PriceStockSourceManual, time.Now())
		require.NoError(t, err)
		require.NoError(t, products.Update(ctx, first))

		_, err = second.SetPriceStock(decimal.RequireFromString("11.00"), 2, catalog.PriceStockSourceMarketplace, time.Now())
		require.NoError(t, err)
		assert.ErrorIs(t, products.Update(ctx, second), shared.ErrConcurrencyConflict)
	})
}

func TestPostgres_SyncLogLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newPostgresDB(t)
	repo := NewGormSyncLogRepository(db)

	log := marketplace.NewSyncLog(marketplace.Amazon, marketplace.SyncOperationImport)
	require.NoError(t, repo.Create(ctx, log))
	require.NoError(t, log.Fail("throttled"))
	require.NoError(t, repo.Finalize(ctx, log))

	stored, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, marketplace.SyncStatusFailed, stored.Status)
	assert.Equal(t, []string{"throttled"}, stored.Errors)
	assert.NotNil(t, stored.CompletedAt)

	logs, total, err := repo.FindAll(ctx, marketplace.SyncLogFilter{SortBy: "status", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, logs, 1)
}
