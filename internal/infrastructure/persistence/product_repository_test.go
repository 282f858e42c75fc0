package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormProductRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewGormProductRepository(newSQLiteDB(t))

	product := newImportedProduct(t, marketplace.MercadoLivre, "MLB100")
	require.NoError(t, repo.Create(ctx, product))

	t.Run("by id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, product.ID)
		require.NoError(t, err)
		assert.Equal(t, product.Name, found.Name)
		assert.True(t, product.Price.Equal(found.Price))
		assert.Equal(t, product.Images, found.Images)
		assert.Equal(t, catalog.PriceStockSourceMarketplace, found.PriceStockSource)
		assert.Equal(t, 1, found.Version)
	})

	t.Run("by marketplace identity", func(t *testing.T) {
		found, err := repo.FindByMarketplaceIdentity(ctx, marketplace.MercadoLivre, "MLB100")
		require.NoError(t, err)
		assert.Equal(t, product.ID, found.ID)
		assert.Equal(t, marketplace.MercadoLivre, found.MarketplaceName)
	})

	t.Run("same remote id on another marketplace is a different product", func(t *testing.T) {
		_, err := repo.FindByMarketplaceIdentity(ctx, marketplace.Amazon, "MLB100")
		assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	})
}

func TestGormProductRepository_Create_DuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewGormProductRepository(newSQLiteDB(t))

	require.NoError(t, repo.Create(ctx, newImportedProduct(t, marketplace.Amazon, "B0001")))

	dup := newImportedProduct(t, marketplace.Amazon, "B0001")
	dup.Slug = "another-slug"
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, catalog.ErrDuplicateMarketplaceID)

	count, err := repo.CountByMarketplaceIdentity(ctx, marketplace.Amazon, "B0001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGormProductRepository_Create_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewGormProductRepository(newSQLiteDB(t))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := newImportedProduct(t, marketplace.AliExpress, "1005001")
			p.Slug = uuid.NewString()
			errs[i] = repo.Create(ctx, p)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, catalog.ErrDuplicateMarketplaceID)
	}
	assert.Equal(t, 1, succeeded)
}

func TestGormProductRepository_Update_OptimisticLock(t *testing.T) {
	ctx := context.Background()
	repo := NewGormProductRepository(newSQLiteDB(t))

	product := newImportedProduct(t, marketplace.MercadoLivre, "MLB200")
	require.NoError(t, repo.Create(ctx, product))

	first, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)

	_, err = first.SetPriceStock(decimal.RequireFromString("59.90"), 3, catalog.PriceStockSourceManual, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	_, err = second.SetPriceStock(decimal.RequireFromString("39.90"), 1, catalog.PriceStockSourceMarketplace, time.Now())
	require.NoError(t, err)
	err = repo.Update(ctx, second)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	stored, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("59.90").Equal(stored.Price))
	assert.Equal(t, 3, stored.Stock)
	assert.Equal(t, catalog.PriceStockSourceManual, stored.PriceStockSource)

	t.Run("missing row", func(t *testing.T) {
		ghost := newImportedProduct(t, marketplace.MercadoLivre, "MLB999")
		assert.ErrorIs(t, repo.Update(ctx, ghost), catalog.ErrProductNotFound)
	})
}

func TestGormProductRepository_FindMarketplaceSourced(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	repo := NewGormProductRepository(db)

	for _, id := range []string{"MLB1", "MLB2", "MLB3"} {
		require.NoError(t, repo.Create(ctx, newImportedProduct(t, marketplace.MercadoLivre, id)))
	}
	require.NoError(t, repo.Create(ctx, newImportedProduct(t, marketplace.Amazon, "B1")))

	inactive := newImportedProduct(t, marketplace.Amazon, "B2")
	inactive.IsActive = false
	require.NoError(t, repo.Create(ctx, inactive))

	local := newImportedProduct(t, marketplace.Amazon, "LOCAL")
	local.MarketplaceName = ""
	local.MarketplaceProductID = ""
	local.PriceStockSource = catalog.PriceStockSourceManual
	require.NoError(t, repo.Create(ctx, local))

	t.Run("all marketplace-sourced", func(t *testing.T) {
		products, err := repo.FindMarketplaceSourced(ctx, catalog.ProductFilter{})
		require.NoError(t, err)
		assert.Len(t, products, 5)
	})

	t.Run("one marketplace, active only", func(t *testing.T) {
		amazon := marketplace.Amazon
		products, err := repo.FindMarketplaceSourced(ctx, catalog.ProductFilter{Marketplace: &amazon, ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "B1", products[0].MarketplaceProductID)
	})

	t.Run("pages are disjoint", func(t *testing.T) {
		page1, err := repo.FindMarketplaceSourced(ctx, catalog.ProductFilter{Page: 1, PageSize: 3})
		require.NoError(t, err)
		page2, err := repo.FindMarketplaceSourced(ctx, catalog.ProductFilter{Page: 2, PageSize: 3})
		require.NoError(t, err)
		assert.Len(t, page1, 3)
		assert.Len(t, page2, 2)
		for _, a := range page1 {
			for _, b := range page2 {
				assert.NotEqual(t, a.ID, b.ID)
			}
		}
	})
}

func TestGormCategoryRepository_GetOrCreateDefault(t *testing.T) {
	ctx := context.Background()
	repo := NewGormCategoryRepository(newSQLiteDB(t))

	t.Run("concurrent callers see one row", func(t *testing.T) {
		var wg sync.WaitGroup
		ids := make([]uuid.UUID, 10)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c, err := repo.GetOrCreateDefault(ctx)
				if assert.NoError(t, err) {
					ids[i] = c.ID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids[1:] {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("returns the stored default", func(t *testing.T) {
		c, err := repo.GetOrCreateDefault(ctx)
		require.NoError(t, err)
		assert.True(t, c.IsDefault)
		assert.Equal(t, catalog.DefaultCategorySlug, c.Slug)
	})

	t.Run("duplicate slug on create", func(t *testing.T) {
		c, err := catalog.NewCategory(catalog.DefaultCategoryName)
		require.NoError(t, err)
		err = repo.Create(ctx, c)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "CATEGORY_SLUG_EXISTS", domainErr.Code)
	})
}
