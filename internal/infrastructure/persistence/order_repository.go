package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/domain/trade"
	"github.com/storefront/marketsync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository implements trade.OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// productOrigin is the marketplace identity of a product referenced by an item
type productOrigin struct {
	ID                   uuid.UUID
	MarketplaceName      *string
	MarketplaceProductID *string
}

// FindByID loads an order with its items and marketplace links
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*trade.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("MarketplaceOrders", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trade.ErrOrderNotFound
		}
		return nil, err
	}

	order := model.ToDomain()
	if err := r.fillItemOrigins(ctx, order.Items); err != nil {
		return nil, err
	}
	return order, nil
}

// FindItemByID loads a single order item with its product origin
func (r *GormOrderRepository) FindItemByID(ctx context.Context, itemID uuid.UUID) (*trade.OrderItem, error) {
	var model models.OrderItemModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trade.ErrOrderItemNotFound
		}
		return nil, err
	}
	items := []trade.OrderItem{model.ToDomain()}
	if err := r.fillItemOrigins(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// fillItemOrigins copies the marketplace identity of each referenced product
// onto the items. Items whose product is gone or local-only stay empty.
func (r *GormOrderRepository) fillItemOrigins(ctx context.Context, items []trade.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	var origins []productOrigin
	if err := r.db.WithContext(ctx).
		Model(&models.ProductModel{}).
		Select("id", "marketplace_name", "marketplace_product_id").
		Where("id IN ?", ids).
		Scan(&origins).Error; err != nil {
		return err
	}

	byID := make(map[uuid.UUID]productOrigin, len(origins))
	for _, o := range origins {
		byID[o.ID] = o
	}
	for i := range items {
		origin, ok := byID[items[i].ProductID]
		if !ok || origin.MarketplaceName == nil || origin.MarketplaceProductID == nil {
			continue
		}
		items[i].MarketplaceName = marketplace.Name(*origin.MarketplaceName)
		items[i].MarketplaceProductID = *origin.MarketplaceProductID
	}
	return nil
}

// Create inserts an order with its items and links
func (r *GormOrderRepository) Create(ctx context.Context, order *trade.Order) error {
	model := models.OrderModelFromDomain(order)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update saves the order row with optimistic locking and upserts its
// marketplace links. A stored link keeps its remote order id; only the
// remote status moves.
func (r *GormOrderRepository) Update(ctx context.Context, order *trade.Order) error {
	currentVersion := order.Version
	model := models.OrderModelFromDomain(order)
	model.Version = currentVersion + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(model).
			Where("version = ?", currentVersion).
			Select("status", "marketplace_order_id", "marketplace_name", "marketplace_status", "version", "updated_at").
			Omit(clause.Associations).
			Updates(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.OrderModel{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return trade.ErrOrderNotFound
			}
			return shared.ErrConcurrencyConflict
		}

		for i := range model.MarketplaceOrders {
			if err := upsertMarketplaceOrder(tx, &model.MarketplaceOrders[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	order.Version = model.Version
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// FindOpenLinked returns ids of orders with a marketplace link that still
// expect remote status changes
func (r *GormOrderRepository) FindOpenLinked(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	closed := []trade.OrderStatus{
		trade.OrderStatusDelivered,
		trade.OrderStatusCancelled,
		trade.OrderStatusReturnRequested,
	}
	linked := r.db.Model(&models.MarketplaceOrderModel{}).Select("order_id")

	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("status NOT IN ?", closed).
		Where("marketplace_order_id IS NOT NULL OR id IN (?)", linked).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// upsertMarketplaceOrder moves the status of the stored (order, marketplace)
// link, or inserts the link when none exists yet.
func upsertMarketplaceOrder(tx *gorm.DB, link *models.MarketplaceOrderModel) error {
	result := tx.Model(&models.MarketplaceOrderModel{}).
		Where("order_id = ? AND marketplace_name = ?", link.OrderID, link.MarketplaceName).
		Updates(map[string]any{"status": link.Status, "updated_at": link.UpdatedAt})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(link).Error
}

// ---------------------------------------------------------------------------
// Order returns
// ---------------------------------------------------------------------------

// GormOrderReturnRepository implements trade.OrderReturnRepository using GORM
type GormOrderReturnRepository struct {
	db *gorm.DB
}

// NewGormOrderReturnRepository creates a new GormOrderReturnRepository
func NewGormOrderReturnRepository(db *gorm.DB) *GormOrderReturnRepository {
	return &GormOrderReturnRepository{db: db}
}

// Create inserts a return request
func (r *GormOrderReturnRepository) Create(ctx context.Context, ret *trade.OrderReturn) error {
	return r.db.WithContext(ctx).Create(models.OrderReturnModelFromDomain(ret)).Error
}

// FindByID finds a return by its ID
func (r *GormOrderReturnRepository) FindByID(ctx context.Context, id uuid.UUID) (*trade.OrderReturn, error) {
	var model models.OrderReturnModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trade.ErrReturnNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByOrder lists the returns of an order, oldest first
func (r *GormOrderReturnRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]trade.OrderReturn, error) {
	var rows []models.OrderReturnModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	returns := make([]trade.OrderReturn, len(rows))
	for i := range rows {
		returns[i] = *rows[i].ToDomain()
	}
	return returns, nil
}

// Update writes a status change only over a stored status it may follow,
// so two writers cannot move a return backwards.
func (r *GormOrderReturnRepository) Update(ctx context.Context, ret *trade.OrderReturn) error {
	previous := make([]trade.ReturnStatus, 0, 2)
	for _, s := range []trade.ReturnStatus{trade.ReturnStatusRequested, trade.ReturnStatusProcessing, trade.ReturnStatusResolved} {
		if s.CanTransitionTo(ret.Status) {
			previous = append(previous, s)
		}
	}
	if len(previous) == 0 {
		return trade.ErrInvalidReturnTransition
	}

	result := r.db.WithContext(ctx).
		Model(&models.OrderReturnModel{}).
		Where("id = ? AND status IN ?", ret.ID, previous).
		Updates(map[string]any{
			"status":        ret.Status,
			"refund_amount": ret.RefundAmount,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.OrderReturnModel{}).Where("id = ?", ret.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return trade.ErrReturnNotFound
		}
		return trade.ErrInvalidReturnTransition
	}
	return nil
}

// ---------------------------------------------------------------------------
// Fulfillment logs
// ---------------------------------------------------------------------------

// GormFulfillmentLogRepository implements trade.FulfillmentLogRepository using GORM
type GormFulfillmentLogRepository struct {
	db *gorm.DB
}

// NewGormFulfillmentLogRepository creates a new GormFulfillmentLogRepository
func NewGormFulfillmentLogRepository(db *gorm.DB) *GormFulfillmentLogRepository {
	return &GormFulfillmentLogRepository{db: db}
}

// Create inserts a fulfillment log row
func (r *GormFulfillmentLogRepository) Create(ctx context.Context, log *trade.FulfillmentLog) error {
	return r.db.WithContext(ctx).Create(models.FulfillmentLogModelFromDomain(log)).Error
}

// FindByOrder lists the log rows of an order, oldest first
func (r *GormFulfillmentLogRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]trade.FulfillmentLog, error) {
	var rows []models.FulfillmentLogModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]trade.FulfillmentLog, len(rows))
	for i := range rows {
		logs[i] = *rows[i].ToDomain()
	}
	return logs, nil
}

// Ensure the GORM repositories implement the trade interfaces
var (
	_ trade.OrderRepository          = (*GormOrderRepository)(nil)
	_ trade.OrderReturnRepository    = (*GormOrderReturnRepository)(nil)
	_ trade.FulfillmentLogRepository = (*GormFulfillmentLogRepository)(nil)
)
