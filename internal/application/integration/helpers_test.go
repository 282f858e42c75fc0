package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/persistence/models"
	"github.com/storefront/marketsync/internal/infrastructure/reliability"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockAdapter is a mock implementation of marketplace.Adapter
type MockAdapter struct {
	mock.Mock
	name marketplace.Name
}

func newMockAdapter(name marketplace.Name) *MockAdapter {
	return &MockAdapter{name: name}
}

func (m *MockAdapter) Name() marketplace.Name {
	return m.name
}

func (m *MockAdapter) Authenticate(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockAdapter) IsAuthenticated() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdapter) SearchProducts(ctx context.Context, query marketplace.ProductQuery) ([]marketplace.Product, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]marketplace.Product), args.Error(1)
}

func (m *MockAdapter) GetProductDetails(ctx context.Context, productID string) (*marketplace.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*marketplace.Product), args.Error(1)
}

func (m *MockAdapter) CreateOrder(ctx context.Context, req marketplace.OrderRequest) (*marketplace.OrderConfirmation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*marketplace.OrderConfirmation), args.Error(1)
}

func (m *MockAdapter) GetOrderStatus(ctx context.Context, remoteOrderID string) (marketplace.OrderStatus, error) {
	args := m.Called(ctx, remoteOrderID)
	return args.Get(0).(marketplace.OrderStatus), args.Error(1)
}

func (m *MockAdapter) UpdateInventory(ctx context.Context, productID string, quantity int) error {
	args := m.Called(ctx, productID, quantity)
	return args.Error(0)
}

func (m *MockAdapter) GetInventory(ctx context.Context, productID string) (int, error) {
	args := m.Called(ctx, productID)
	return args.Int(0), args.Error(1)
}

var _ marketplace.Adapter = (*MockAdapter)(nil)

// staticProvider serves fixed adapters; unknown names are not configured
type staticProvider struct {
	adapters    map[marketplace.Name]marketplace.Adapter
	invalidated []marketplace.Name
}

func newStaticProvider(adapters ...*MockAdapter) *staticProvider {
	p := &staticProvider{adapters: make(map[marketplace.Name]marketplace.Adapter)}
	for _, a := range adapters {
		p.adapters[a.Name()] = a
	}
	return p
}

func (p *staticProvider) Adapter(_ context.Context, name marketplace.Name) (marketplace.Adapter, error) {
	a, ok := p.adapters[name]
	if !ok {
		return nil, marketplace.ErrMarketplaceNotConfigured
	}
	return a, nil
}

func (p *staticProvider) Invalidate(name marketplace.Name) {
	p.invalidated = append(p.invalidated, name)
}

// newTestDB opens an isolated in-memory SQLite database with the schema applied
func newTestDB(t *testing.T) *gorm.DB {
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

// newTestGateway returns a gateway without limiter whose executor never
// sleeps between retries
func newTestGateway(maxRetries, threshold int) *MarketplaceGateway {
	breakers := reliability.NewBreakerRegistry(reliability.BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     time.Minute,
	})
	executor := reliability.NewExecutor(breakers, reliability.RetryPolicy{
		MaxRetries: maxRetries,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}, nil)
	return NewMarketplaceGateway(nil, executor)
}

// fakeListings generates n distinct listings for name
func fakeListings(faker *gofakeit.Faker, name marketplace.Name, n int) []marketplace.Product {
	listings := make([]marketplace.Product, n)
	for i := range listings {
		listings[i] = marketplace.Product{
			ID:          fmt.Sprintf("%s-%d", name, 1000+i),
			Title:       faker.ProductName(),
			Description: faker.ProductDescription(),
			Price:       decimal.NewFromFloat(faker.Price(5, 500)).Round(2),
			Currency:    "BRL",
			Stock:       faker.Number(0, 100),
			CategoryID:  "CAT-" + faker.DigitN(4),
			Condition:   "new",
			Marketplace: name,
		}
	}
	return listings
}
