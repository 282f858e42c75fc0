package persistence

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newSQLiteDB opens a private in-memory database with the full schema.
// One connection keeps every goroutine on the same memory database.
func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newImportedProduct(t *testing.T, name marketplace.Name, id string) *catalog.Product {
	t.Helper()
	p, err := catalog.NewProductFromMarketplace(marketplace.Product{
		ID:          id,
		Title:       "Wireless Mouse " + id,
		Price:       decimal.RequireFromString("49.90"),
		Currency:    "BRL",
		Stock:       12,
		Images:      []string{"https://img.example.test/" + id + ".jpg"},
		Condition:   "new",
		Marketplace: name,
	}, uuid.New(), time.Now())
	require.NoError(t, err)
	return p
}
