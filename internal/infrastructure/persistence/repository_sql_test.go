package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests pin the PostgreSQL statements behind the concurrency guarantees.

func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := openMock(t, &config.DatabaseConfig{MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestGormProductRepository_Update_SQL(t *testing.T) {
	t.Run("guards the update with the loaded version", func(t *testing.T) {
		db, mock := newMockDatabase(t)
		repo := NewGormProductRepository(db.DB)

		product := newImportedProduct(t, marketplace.MercadoLivre, "MLB1")
		product.Version = 3

		mock.ExpectExec(`UPDATE "products" SET .* WHERE version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Update(context.Background(), product))
		assert.Equal(t, 4, product.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows on an existing row is a conflict", func(t *testing.T) {
		db, mock := newMockDatabase(t)
		repo := NewGormProductRepository(db.DB)

		product := newImportedProduct(t, marketplace.MercadoLivre, "MLB1")
		product.Version = 3

		mock.ExpectExec(`UPDATE "products" SET .* WHERE version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "products" WHERE id = \$1`).
			WithArgs(product.ID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err := repo.Update(context.Background(), product)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.Equal(t, 3, product.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a failed existence check is returned as is", func(t *testing.T) {
		db, mock := newMockDatabase(t)
		repo := NewGormProductRepository(db.DB)

		product := newImportedProduct(t, marketplace.MercadoLivre, "MLB1")
		product.Version = 3
		lost := errors.New("connection reset")

		mock.ExpectExec(`UPDATE "products" SET .* WHERE version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "products" WHERE id = \$1`).
			WithArgs(product.ID).
			WillReturnError(lost)

		err := repo.Update(context.Background(), product)
		assert.ErrorIs(t, err, lost)
		assert.NotErrorIs(t, err, catalog.ErrProductNotFound)
		assert.NotErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormCategoryRepository_GetOrCreateDefault_SQL(t *testing.T) {
	db, mock := newMockDatabase(t)
	repo := NewGormCategoryRepository(db.DB)

	existing := uuid.New()
	mock.ExpectExec(`INSERT INTO "categories" .* ON CONFLICT \("slug"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "categories" WHERE slug = \$1`).
		WithArgs(catalog.DefaultCategorySlug, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "is_default"}).
			AddRow(existing, catalog.DefaultCategoryName, catalog.DefaultCategorySlug, true))

	category, err := repo.GetOrCreateDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, existing, category.ID)
	assert.True(t, category.IsDefault)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSyncLogRepository_Finalize_SQL(t *testing.T) {
	db, mock := newMockDatabase(t)
	repo := NewGormSyncLogRepository(db.DB)

	log := marketplace.NewSyncLog(marketplace.Amazon, marketplace.SyncOperationImport)
	require.NoError(t, log.Finish(4, 3, 1))

	mock.ExpectExec(`UPDATE "sync_logs" SET .* WHERE status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "sync_logs" WHERE id = \$1`).
		WithArgs(log.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.Finalize(context.Background(), log)
	assert.ErrorIs(t, err, marketplace.ErrSyncLogAlreadyFinalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}
