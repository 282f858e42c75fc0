package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/catalog"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/infrastructure/ratelimit"
	"github.com/storefront/marketsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is the number of imported items handled per batch
	DefaultBatchSize = 10
	// DefaultMaxProducts caps a single import when the caller sets no limit
	DefaultMaxProducts = 50
)

// ImportOptions narrows a product import
type ImportOptions struct {
	MaxProducts    int
	CategoryFilter string
	MinPrice       *decimal.Decimal
	MaxPrice       *decimal.Decimal
	Query          string
}

// DailySyncConfig bounds the daily price and stock sweep
type DailySyncConfig struct {
	// DelayBetweenCalls spaces marketplace calls across all workers
	DelayBetweenCalls time.Duration
	// BatchSize is the number of products loaded per page
	BatchSize int
	// MaxConcurrent bounds the workers refreshing products of one page
	MaxConcurrent int
}

// OperationResult is the outcome of a single-product operation. Callers that
// loop over many products inspect Success instead of handling errors.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func succeeded(format string, args ...any) OperationResult {
	return OperationResult{Success: true, Message: fmt.Sprintf(format, args...)}
}

func failed(format string, args ...any) OperationResult {
	return OperationResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// ChunkSlice splits items into consecutive chunks of at most size elements.
// An empty input yields an empty result.
func ChunkSlice[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// ProductSyncService imports marketplace listings into the local catalog and
// keeps price and stock of imported products current.
type ProductSyncService struct {
	products   catalog.ProductRepository
	categories catalog.CategoryRepository
	mappings   marketplace.CategoryMappingRepository
	syncLogs   marketplace.SyncLogRepository
	adapters   marketplace.AdapterProvider
	gateway    *MarketplaceGateway
	logger     *zap.Logger
	metrics    *telemetry.MarketplaceMetrics
	batchSize  int
	now        func() time.Time
}

// ProductSyncServiceOption configures a ProductSyncService
type ProductSyncServiceOption func(*ProductSyncService)

// WithBatchSize overrides DefaultBatchSize
func WithBatchSize(size int) ProductSyncServiceOption {
	return func(s *ProductSyncService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithSyncClock overrides the clock used to stamp observed snapshots
func WithSyncClock(now func() time.Time) ProductSyncServiceOption {
	return func(s *ProductSyncService) {
		s.now = now
	}
}

// NewProductSyncService creates a new ProductSyncService
func NewProductSyncService(
	products catalog.ProductRepository,
	categories catalog.CategoryRepository,
	mappings marketplace.CategoryMappingRepository,
	syncLogs marketplace.SyncLogRepository,
	adapters marketplace.AdapterProvider,
	gateway *MarketplaceGateway,
	log *zap.Logger,
	opts ...ProductSyncServiceOption,
) *ProductSyncService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &ProductSyncService{
		products:   products,
		categories: categories,
		mappings:   mappings,
		syncLogs:   syncLogs,
		adapters:   adapters,
		gateway:    gateway,
		logger:     log,
		batchSize:  DefaultBatchSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMarketplaceMetrics sets the metrics collector
func (s *ProductSyncService) SetMarketplaceMetrics(mm *telemetry.MarketplaceMetrics) {
	s.metrics = mm
}

// ---------------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------------

// ImportFromMarketplace resolves the configured adapter for name and imports
// from it. An unavailable adapter is recorded as a failed run.
func (s *ProductSyncService) ImportFromMarketplace(ctx context.Context, name marketplace.Name, opts ImportOptions) (*marketplace.SyncResult, error) {
	adapter, err := s.adapters.Adapter(ctx, name)
	if err != nil {
		log := marketplace.NewSyncLog(name, marketplace.SyncOperationImport)
		if createErr := s.syncLogs.Create(ctx, log); createErr != nil {
			return nil, fmt.Errorf("create sync log: %w", createErr)
		}
		return s.fail(ctx, log, time.Now(), "adapter unavailable: "+err.Error())
	}
	return s.ImportProducts(ctx, adapter, name, opts)
}

// ImportProducts searches adapter and upserts the results into the catalog.
//
// The returned error is non-nil only when the sync log itself cannot be
// written. Authentication and search failures finalize the run as failed;
// item failures are listed on a completed run.
func (s *ProductSyncService) ImportProducts(ctx context.Context, adapter marketplace.Adapter, name marketplace.Name, opts ImportOptions) (*marketplace.SyncResult, error) {
	ctx = logger.WithJob(logger.WithMarketplace(ctx, name.String()), string(marketplace.SyncOperationImport))
	ctx, span := telemetry.StartServiceSpan(ctx, "product_sync", "import",
		telemetry.WithAttribute(telemetry.SpanAttrMarketplace, name.String()))
	defer span.End()

	started := time.Now()
	log := marketplace.NewSyncLog(name, marketplace.SyncOperationImport)
	if err := s.syncLogs.Create(ctx, log); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("create sync log: %w", err)
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrSyncLogID, log.ID.String())
	logger.WithLogger(ctx, s.logger).Info("Product import started",
		zap.String("sync_log_id", log.ID.String()),
		zap.String("query", opts.Query),
		zap.String("category", opts.CategoryFilter),
	)

	if err := s.gateway.ensureAuthenticated(ctx, adapter, ratelimit.PrioritySync); err != nil {
		telemetry.RecordError(span, err)
		return s.fail(ctx, log, started, "authentication failed: "+err.Error())
	}

	maxProducts := opts.MaxProducts
	if maxProducts <= 0 {
		maxProducts = DefaultMaxProducts
	}
	query := marketplace.ProductQuery{
		Query:      opts.Query,
		CategoryID: opts.CategoryFilter,
		MinPrice:   opts.MinPrice,
		MaxPrice:   opts.MaxPrice,
		Limit:      maxProducts,
	}
	// listings are as of the request, so a manual edit made while the run
	// is under way is newer than any of them
	fetchedAt := s.now()
	items, err := gatewayCall(ctx, s.gateway, name, ratelimit.PrioritySync, func(ctx context.Context) ([]marketplace.Product, error) {
		return adapter.SearchProducts(ctx, query)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return s.fail(ctx, log, started, "product search failed: "+err.Error())
	}
	if len(items) > maxProducts {
		items = items[:maxProducts]
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrItemCount, len(items))

	resolver := newCategoryResolver(s.categories, s.mappings, name)
	var processed, imported, updated int
	for i, batch := range ChunkSlice(items, s.batchSize) {
		if ctx.Err() != nil {
			log.AddError(fmt.Sprintf("run interrupted before batch %d: %v", i+1, ctx.Err()))
			break
		}
		for _, item := range batch {
			processed++
			outcome, err := s.importItem(ctx, resolver, name, item, fetchedAt)
			if err != nil {
				log.AddError(fmt.Sprintf("item %s: %v", item.ID, err))
				logger.WithLogger(ctx, s.logger).Warn("Failed to import marketplace item",
					zap.String("marketplace_product_id", item.ID),
					zap.Error(err),
				)
				continue
			}
			switch outcome {
			case itemImported:
				imported++
			case itemUpdated:
				updated++
			}
		}
	}

	if err := log.Finish(processed, imported, updated); err != nil {
		return log.Result(), err
	}
	return s.finalize(ctx, log, started)
}

type itemOutcome int

const (
	itemUnchanged itemOutcome = iota
	itemImported
	itemUpdated
)

// importItem inserts or refreshes one listing. A panic inside is returned as
// an error so the batch carries on.
func (s *ProductSyncService) importItem(ctx context.Context, resolver *categoryResolver, name marketplace.Name, item marketplace.Product, observedAt time.Time) (outcome itemOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = itemUnchanged, fmt.Errorf("panic: %v", r)
		}
	}()

	item.Marketplace = name

	existing, err := s.products.FindByMarketplaceIdentity(ctx, name, item.ID)
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		categoryID, err := resolver.resolve(ctx, item.CategoryID)
		if err != nil {
			return itemUnchanged, fmt.Errorf("resolve category: %w", err)
		}
		product, err := catalog.NewProductFromMarketplace(item, categoryID, observedAt)
		if err != nil {
			return itemUnchanged, err
		}
		err = s.products.Create(ctx, product)
		if err == nil {
			return itemImported, nil
		}
		if !errors.Is(err, catalog.ErrDuplicateMarketplaceID) {
			return itemUnchanged, err
		}
		// a concurrent import created it first
		existing, err = s.products.FindByMarketplaceIdentity(ctx, name, item.ID)
		if err != nil {
			return itemUnchanged, err
		}
	case err != nil:
		return itemUnchanged, err
	}

	changed, err := s.applySnapshot(ctx, existing, item, observedAt)
	if err != nil {
		return itemUnchanged, err
	}
	if changed {
		return itemUpdated, nil
	}
	return itemUnchanged, nil
}

// applySnapshot writes snapshot onto product. Losing an optimistic lock race
// re-reads the product once and reapplies. A snapshot older than the stored
// price/stock write is skipped.
func (s *ProductSyncService) applySnapshot(ctx context.Context, product *catalog.Product, snapshot marketplace.Product, observedAt time.Time) (bool, error) {
	for attempt := 0; ; attempt++ {
		changed, err := product.ApplyMarketplaceSnapshot(snapshot, observedAt)
		if errors.Is(err, catalog.ErrStaleUpdate) {
			logger.WithLogger(ctx, s.logger).Info("Skipping stale marketplace snapshot",
				zap.String("product_id", product.ID.String()),
				zap.Time("observed_at", observedAt),
				zap.Time("stored_at", product.PriceStockUpdatedAt),
			)
			return false, nil
		}
		if err != nil || !changed {
			return false, err
		}

		err = s.products.Update(ctx, product)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt > 0 {
			return false, err
		}
		product, err = s.products.FindByID(ctx, product.ID)
		if err != nil {
			return false, err
		}
	}
}

// ---------------------------------------------------------------------------
// Price and stock refresh
// ---------------------------------------------------------------------------

// UpdateProductStockAndPrice re-fetches one product from its marketplace and
// writes the authoritative price and stock back. It never returns an error;
// every attempt is recorded as a sync log row.
func (s *ProductSyncService) UpdateProductStockAndPrice(ctx context.Context, productID uuid.UUID, name marketplace.Name) OperationResult {
	product, result, ok := s.loadSourcedProduct(ctx, productID, name)
	if !ok {
		return result
	}
	name = product.MarketplaceName

	ctx = logger.WithJob(logger.WithMarketplace(ctx, name.String()), string(marketplace.SyncOperationStockPrice))
	ctx, span := telemetry.StartServiceSpan(ctx, "product_sync", "update_stock_price",
		telemetry.WithAttribute(telemetry.SpanAttrMarketplace, name.String()),
		telemetry.WithAttribute(telemetry.SpanAttrProductID, productID.String()))
	defer span.End()

	return s.runSingle(ctx, name, marketplace.SyncOperationStockPrice, func(ctx context.Context, log *marketplace.SyncLog) OperationResult {
		adapter, err := s.adapters.Adapter(ctx, name)
		if err != nil {
			telemetry.RecordError(span, err)
			return failed("adapter unavailable: %v", err)
		}
		changed, err := s.refreshProduct(ctx, adapter, product)
		if err != nil {
			telemetry.RecordError(span, err)
			return failed("failed to refresh product %s: %v", productID, err)
		}
		if !changed {
			return succeeded("price and stock of product %s already current", productID)
		}
		log.ProductsUpdated = 1
		return succeeded("price and stock of product %s updated from %s", productID, name.DisplayName())
	})
}

// refreshProduct fetches the marketplace listing of product and applies it
func (s *ProductSyncService) refreshProduct(ctx context.Context, adapter marketplace.Adapter, product *catalog.Product) (bool, error) {
	name := product.MarketplaceName
	if err := s.gateway.ensureAuthenticated(ctx, adapter, ratelimit.PrioritySync); err != nil {
		return false, err
	}
	fetchedAt := s.now()
	details, err := gatewayCall(ctx, s.gateway, name, ratelimit.PrioritySync, func(ctx context.Context) (*marketplace.Product, error) {
		return adapter.GetProductDetails(ctx, product.MarketplaceProductID)
	})
	if err != nil {
		return false, err
	}
	if details == nil {
		return false, marketplace.ErrProductNotFound
	}
	snapshot := *details
	snapshot.Marketplace = name
	return s.applySnapshot(ctx, product, snapshot, fetchedAt)
}

// SetPriceStock records a manual price and stock edit. Marketplace data
// fetched before the edit can no longer overwrite it.
func (s *ProductSyncService) SetPriceStock(ctx context.Context, productID uuid.UUID, price decimal.Decimal, stock int) (*catalog.Product, error) {
	editedAt := s.now()
	for attempt := 0; ; attempt++ {
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			return nil, err
		}
		changed, err := product.SetPriceStock(price, stock, catalog.PriceStockSourceManual, editedAt)
		if err != nil {
			return nil, err
		}
		if !changed {
			return product, nil
		}
		err = s.products.Update(ctx, product)
		if err == nil {
			logger.WithLogger(ctx, s.logger).Info("Price and stock edited",
				zap.String("product_id", productID.String()),
				zap.String("price", price.String()),
				zap.Int("stock", stock),
			)
			return product, nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt > 0 {
			return nil, err
		}
	}
}

// PushInventory sends the local stock of a product to its marketplace.
// Marketplaces with read-only stock yield a failed result.
func (s *ProductSyncService) PushInventory(ctx context.Context, productID uuid.UUID) OperationResult {
	product, result, ok := s.loadSourcedProduct(ctx, productID, "")
	if !ok {
		return result
	}
	name := product.MarketplaceName

	ctx = logger.WithJob(logger.WithMarketplace(ctx, name.String()), string(marketplace.SyncOperationPushInventory))
	ctx, span := telemetry.StartServiceSpan(ctx, "product_sync", "push_inventory",
		telemetry.WithAttribute(telemetry.SpanAttrMarketplace, name.String()),
		telemetry.WithAttribute(telemetry.SpanAttrProductID, productID.String()))
	defer span.End()

	return s.runSingle(ctx, name, marketplace.SyncOperationPushInventory, func(ctx context.Context, log *marketplace.SyncLog) OperationResult {
		adapter, err := s.adapters.Adapter(ctx, name)
		if err != nil {
			telemetry.RecordError(span, err)
			return failed("adapter unavailable: %v", err)
		}
		if err := s.gateway.ensureAuthenticated(ctx, adapter, ratelimit.PriorityDefault); err != nil {
			telemetry.RecordError(span, err)
			return failed("authentication failed: %v", err)
		}
		err = s.gateway.Execute(ctx, name, ratelimit.PriorityDefault, func(ctx context.Context) error {
			return adapter.UpdateInventory(ctx, product.MarketplaceProductID, product.Stock)
		})
		if errors.Is(err, marketplace.ErrUnsupportedOperation) {
			return failed("%s does not accept inventory updates", name.DisplayName())
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return failed("failed to push inventory of product %s: %v", productID, err)
		}
		log.ProductsUpdated = 1
		return succeeded("stock %d pushed to %s listing %s", product.Stock, name.DisplayName(), product.MarketplaceProductID)
	})
}

// loadSourcedProduct loads a product that carries a marketplace identity,
// optionally requiring it to come from name
func (s *ProductSyncService) loadSourcedProduct(ctx context.Context, productID uuid.UUID, name marketplace.Name) (*catalog.Product, OperationResult, bool) {
	product, err := s.products.FindByID(ctx, productID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return nil, failed("product %s not found", productID), false
	}
	if err != nil {
		return nil, failed("failed to load product %s: %v", productID, err), false
	}
	if !product.HasMarketplaceOrigin() {
		return nil, failed("product %s has no marketplace origin", productID), false
	}
	if name != "" && name != product.MarketplaceName {
		return nil, failed("product %s was imported from %s, not %s", productID, product.MarketplaceName, name), false
	}
	return product, OperationResult{}, true
}

// runSingle wraps a one-product operation in its own sync log row
func (s *ProductSyncService) runSingle(ctx context.Context, name marketplace.Name, op marketplace.SyncOperation, fn func(context.Context, *marketplace.SyncLog) OperationResult) OperationResult {
	started := time.Now()
	log := marketplace.NewSyncLog(name, op)
	if err := s.syncLogs.Create(ctx, log); err != nil {
		return failed("failed to open sync log: %v", err)
	}

	result := fn(ctx, log)
	if result.Success {
		_ = log.Finish(1, 0, log.ProductsUpdated)
		_, err := s.finalize(ctx, log, started)
		if err != nil {
			return failed("%s, but the sync log could not be written: %v", result.Message, err)
		}
	} else {
		log.ProductsProcessed = 1
		if _, err := s.fail(ctx, log, started, result.Message); err != nil {
			logger.WithLogger(ctx, s.logger).Error("Failed to finalize sync log", zap.Error(err))
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Daily sweep
// ---------------------------------------------------------------------------

// RunDailySync refreshes price and stock of every active product imported
// from name. Pages are processed in turn by at most MaxConcurrent workers, and
// marketplace calls are spaced by DelayBetweenCalls across workers.
func (s *ProductSyncService) RunDailySync(ctx context.Context, name marketplace.Name, cfg DailySyncConfig) (*marketplace.SyncResult, error) {
	ctx = logger.WithJob(logger.WithMarketplace(ctx, name.String()), string(marketplace.SyncOperationDailySync))
	ctx, span := telemetry.StartServiceSpan(ctx, "product_sync", "daily_sync",
		telemetry.WithAttribute(telemetry.SpanAttrMarketplace, name.String()))
	defer span.End()

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = s.batchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	started := time.Now()
	log := marketplace.NewSyncLog(name, marketplace.SyncOperationDailySync)
	if err := s.syncLogs.Create(ctx, log); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	adapter, err := s.adapters.Adapter(ctx, name)
	if err != nil {
		telemetry.RecordError(span, err)
		return s.fail(ctx, log, started, "adapter unavailable: "+err.Error())
	}
	if err := s.gateway.ensureAuthenticated(ctx, adapter, ratelimit.PrioritySync); err != nil {
		telemetry.RecordError(span, err)
		return s.fail(ctx, log, started, "authentication failed: "+err.Error())
	}

	spacing := rate.NewLimiter(rate.Inf, 1)
	if cfg.DelayBetweenCalls > 0 {
		spacing = rate.NewLimiter(rate.Every(cfg.DelayBetweenCalls), 1)
	}

	var (
		mu                 sync.Mutex
		processed, updated int
	)
	filter := catalog.ProductFilter{Marketplace: &name, ActiveOnly: true, PageSize: cfg.BatchSize}
	for page := 1; ; page++ {
		filter.Page = page
		products, err := s.products.FindMarketplaceSourced(ctx, filter)
		if err != nil {
			telemetry.RecordError(span, err)
			return s.fail(ctx, log, started, fmt.Sprintf("failed to load page %d: %v", page, err))
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.MaxConcurrent)
		for i := range products {
			product := &products[i]
			g.Go(func() error {
				if err := spacing.Wait(gctx); err != nil {
					return err
				}
				changed, err := s.refreshProduct(gctx, adapter, product)

				mu.Lock()
				defer mu.Unlock()
				processed++
				if err != nil {
					log.AddError(fmt.Sprintf("product %s (%s): %v", product.ID, product.MarketplaceProductID, err))
					return nil
				}
				if changed {
					updated++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return s.fail(ctx, log, started, "daily sync interrupted: "+err.Error())
		}
		if len(products) < cfg.BatchSize {
			break
		}
	}

	logger.WithLogger(ctx, s.logger).Info("Daily sync finished",
		zap.Int("processed", processed),
		zap.Int("updated", updated),
		zap.Int("errors", len(log.Errors)),
	)
	if err := log.Finish(processed, 0, updated); err != nil {
		return log.Result(), err
	}
	return s.finalize(ctx, log, started)
}

// ---------------------------------------------------------------------------
// Sync log finalization
// ---------------------------------------------------------------------------

// fail marks log as failed and finalizes it
func (s *ProductSyncService) fail(ctx context.Context, log *marketplace.SyncLog, started time.Time, reason string) (*marketplace.SyncResult, error) {
	logger.WithLogger(ctx, s.logger).Warn("Sync run failed",
		zap.String("sync_log_id", log.ID.String()),
		zap.String("operation", string(log.Operation)),
		zap.String("reason", reason),
	)
	if err := log.Fail(reason); err != nil {
		return log.Result(), err
	}
	return s.finalize(ctx, log, started)
}

// finalize persists the final state of log. It runs even when ctx has been
// cancelled so an interrupted run is still closed.
func (s *ProductSyncService) finalize(ctx context.Context, log *marketplace.SyncLog, started time.Time) (*marketplace.SyncResult, error) {
	result := log.Result()
	if err := s.syncLogs.Finalize(context.WithoutCancel(ctx), log); err != nil {
		return result, fmt.Errorf("finalize sync log: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordSyncRun(ctx, result, time.Since(started))
	}
	logger.WithLogger(ctx, s.logger).Info("Sync run finalized",
		zap.String("sync_log_id", log.ID.String()),
		zap.String("operation", string(log.Operation)),
		zap.String("status", string(log.Status)),
		zap.Int("processed", log.ProductsProcessed),
		zap.Int("imported", log.ProductsImported),
		zap.Int("updated", log.ProductsUpdated),
	)
	return result, nil
}

// ---------------------------------------------------------------------------
// Category resolution
// ---------------------------------------------------------------------------

// categoryResolver maps marketplace categories onto local ones for one run,
// caching lookups and the default category
type categoryResolver struct {
	categories catalog.CategoryRepository
	mappings   marketplace.CategoryMappingRepository
	name       marketplace.Name

	defaultID uuid.UUID
	cache     map[string]uuid.UUID
}

func newCategoryResolver(categories catalog.CategoryRepository, mappings marketplace.CategoryMappingRepository, name marketplace.Name) *categoryResolver {
	return &categoryResolver{
		categories: categories,
		mappings:   mappings,
		name:       name,
		cache:      make(map[string]uuid.UUID),
	}
}

func (r *categoryResolver) resolve(ctx context.Context, marketplaceCategoryID string) (uuid.UUID, error) {
	if marketplaceCategoryID == "" {
		return r.fallback(ctx)
	}
	if id, ok := r.cache[marketplaceCategoryID]; ok {
		return id, nil
	}

	mapping, err := r.mappings.FindByMarketplaceCategory(ctx, r.name, marketplaceCategoryID)
	switch {
	case err == nil:
		r.cache[marketplaceCategoryID] = mapping.LocalCategoryID
		return mapping.LocalCategoryID, nil
	case errors.Is(err, marketplace.ErrMappingNotFound):
		id, err := r.fallback(ctx)
		if err != nil {
			return uuid.Nil, err
		}
		r.cache[marketplaceCategoryID] = id
		return id, nil
	default:
		return uuid.Nil, err
	}
}

func (r *categoryResolver) fallback(ctx context.Context) (uuid.UUID, error) {
	if r.defaultID != uuid.Nil {
		return r.defaultID, nil
	}
	category, err := r.categories.GetOrCreateDefault(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	r.defaultID = category.ID
	return r.defaultID, nil
}
