package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/domain/trade"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/infrastructure/ratelimit"
	"github.com/storefront/marketsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// DefaultIdempotencyTTL bounds how long a fulfillment group holds its claim.
// The remote call of a group is cut off at half of the claim TTL, so the
// claim outlives the call and the save of its link.
const DefaultIdempotencyTTL = 30 * time.Minute

// maxOrderSaveAttempts bounds re-reads after losing an optimistic lock race
const maxOrderSaveAttempts = 3

// ErrFulfillmentInProgress is reported for a group another caller is placing
var ErrFulfillmentInProgress = errors.New("remote order creation already in progress")

// FulfillmentResult is the outcome of fulfilling one order
type FulfillmentResult struct {
	Success           bool                            `json:"success"`
	OrderID           uuid.UUID                       `json:"order_id"`
	MarketplaceOrders []trade.MarketplaceOrderOutcome `json:"marketplace_orders"`
	Errors            []string                        `json:"errors"`
	Message           string                          `json:"message"`
}

// ReturnResult is the outcome of a return request
type ReturnResult struct {
	Success  bool      `json:"success"`
	ReturnID uuid.UUID `json:"return_id,omitempty"`
	Message  string    `json:"message"`
}

// OrderFulfillmentService splits local orders into one remote order per
// originating marketplace and keeps local order state in step with them.
type OrderFulfillmentService struct {
	orders      trade.OrderRepository
	returns     trade.OrderReturnRepository
	logs        trade.FulfillmentLogRepository
	adapters    marketplace.AdapterProvider
	gateway     *MarketplaceGateway
	idempotency shared.IdempotencyStore
	claimTTL    time.Duration
	logger      *zap.Logger
	metrics     *telemetry.MarketplaceMetrics
}

// NewOrderFulfillmentService creates a new OrderFulfillmentService
func NewOrderFulfillmentService(
	orders trade.OrderRepository,
	returns trade.OrderReturnRepository,
	logs trade.FulfillmentLogRepository,
	adapters marketplace.AdapterProvider,
	gateway *MarketplaceGateway,
	idempotency shared.IdempotencyStore,
	claimTTL time.Duration,
	log *zap.Logger,
) *OrderFulfillmentService {
	if log == nil {
		log = zap.NewNop()
	}
	if claimTTL <= 0 {
		claimTTL = DefaultIdempotencyTTL
	}
	return &OrderFulfillmentService{
		orders:      orders,
		returns:     returns,
		logs:        logs,
		adapters:    adapters,
		gateway:     gateway,
		idempotency: idempotency,
		claimTTL:    claimTTL,
		logger:      log,
	}
}

// SetMarketplaceMetrics sets the metrics collector
func (s *OrderFulfillmentService) SetMarketplaceMetrics(mm *telemetry.MarketplaceMetrics) {
	s.metrics = mm
}

// groupOutcome is the result of one marketplace group
type groupOutcome struct {
	name     marketplace.Name
	remoteID string
	status   marketplace.OrderStatus
	reused   bool
	err      error

	// claimKey and claimToken identify the claim while the group runs
	claimKey   string
	claimToken string
	// keepClaim leaves the claim to expire: the remote order may exist but
	// is not linked locally
	keepClaim bool
}

// fulfillmentKey is the idempotency key of one (order, marketplace) group
func fulfillmentKey(orderID uuid.UUID, name marketplace.Name) string {
	return "order:" + orderID.String() + ":" + name.String()
}

// ---------------------------------------------------------------------------
// New orders
// ---------------------------------------------------------------------------

// ProcessNewOrder places one remote order per marketplace group of the order.
// Groups run concurrently and independently: a failing group never undoes a
// successful one. The error is non-nil only when the order cannot be loaded.
func (s *OrderFulfillmentService) ProcessNewOrder(ctx context.Context, orderID uuid.UUID) (*FulfillmentResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "order_fulfillment", "process_new_order",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, orderID.String()))
	defer span.End()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if len(order.Items) == 0 {
		return nil, trade.ErrOrderHasNoItems
	}

	groups := order.GroupItemsByMarketplace()
	names := trade.SortedMarketplaces(groups)
	telemetry.SetAttribute(span, telemetry.SpanAttrItemCount, len(order.Items))

	outcomes := make([]groupOutcome, len(names))
	var (
		wg     sync.WaitGroup
		saveMu sync.Mutex
	)
	for i, name := range names {
		if name == marketplace.Unknown {
			outcomes[i] = groupOutcome{name: name, err: fmt.Errorf("%d item(s) have no marketplace origin", len(groups[name]))}
			continue
		}
		if link, ok := order.MarketplaceOrderFor(name); ok {
			outcomes[i] = groupOutcome{name: name, remoteID: link.RemoteOrderID, status: link.Status, reused: true}
			continue
		}
		wg.Add(1)
		go func(i int, name marketplace.Name, items []trade.OrderItem) {
			defer wg.Done()
			outcomes[i] = s.fulfillGroup(ctx, order, name, items, &saveMu)
		}(i, name, groups[name])
	}
	wg.Wait()

	result := &FulfillmentResult{
		OrderID:           order.ID,
		MarketplaceOrders: []trade.MarketplaceOrderOutcome{},
		Errors:            []string{},
	}
	for _, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", o.name, o.err))
		} else {
			result.MarketplaceOrders = append(result.MarketplaceOrders, trade.MarketplaceOrderOutcome{
				Marketplace:   o.name,
				RemoteOrderID: o.remoteID,
				Status:        o.status,
			})
		}
		if s.metrics != nil && o.name != marketplace.Unknown && !o.reused {
			s.metrics.RecordFulfillmentGroup(ctx, o.name, o.err == nil)
		}
	}

	result.Success = len(result.MarketplaceOrders) > 0
	result.Message = fulfillmentMessage(result, len(names))

	s.writeLog(ctx, order.ID, trade.FulfillmentOperationProcessOrder, result.Success, result.Message, result.MarketplaceOrders, result.Errors)
	logger.WithLogger(ctx, s.logger).Info("Order fulfillment finished",
		zap.String("order_id", order.ID.String()),
		zap.Bool("success", result.Success),
		zap.Int("marketplace_orders", len(result.MarketplaceOrders)),
		zap.Strings("errors", result.Errors),
	)
	return result, nil
}

// fulfillGroup claims the (order, marketplace) key, places the remote order
// and saves its link before the claim is released. When the remote order may
// exist without a saved link the claim is kept until it expires.
func (s *OrderFulfillmentService) fulfillGroup(ctx context.Context, order *trade.Order, name marketplace.Name, items []trade.OrderItem, saveMu *sync.Mutex) (outcome groupOutcome) {
	outcome.name = name
	ctx = logger.WithMarketplace(ctx, name.String())

	adapter, err := s.adapters.Adapter(ctx, name)
	if err != nil {
		outcome.err = err
		return outcome
	}

	if s.idempotency != nil {
		key := fulfillmentKey(order.ID, name)
		token, ok, err := s.idempotency.Claim(ctx, key, s.claimTTL)
		if err != nil {
			outcome.err = fmt.Errorf("idempotency claim: %w", err)
			return outcome
		}
		if !ok {
			outcome.err = ErrFulfillmentInProgress
			return outcome
		}
		outcome.claimKey, outcome.claimToken = key, token

		// another caller may have placed and saved it since order was loaded
		if fresh, err := s.orders.FindByID(ctx, order.ID); err == nil {
			if link, ok := fresh.MarketplaceOrderFor(name); ok {
				s.release(ctx, key, token)
				return groupOutcome{name: name, remoteID: link.RemoteOrderID, status: link.Status, reused: true}
			}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			outcome.err = fmt.Errorf("panic: %v", r)
		}
		if !outcome.keepClaim {
			s.release(ctx, outcome.claimKey, outcome.claimToken)
		}
	}()

	if err := s.gateway.ensureAuthenticated(ctx, adapter, ratelimit.PriorityOrder); err != nil {
		outcome.err = err
		return outcome
	}

	req := marketplace.OrderRequest{
		Reference:       order.OrderNumber,
		ShippingAddress: order.ShippingAddress,
		PaymentMethod:   order.PaymentMethod,
		Currency:        order.Currency,
		Items:           make([]marketplace.OrderItemRequest, 0, len(items)),
	}
	for _, item := range items {
		req.Items = append(req.Items, marketplace.OrderItemRequest{
			ProductID: item.MarketplaceProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.claimTTL/2)
	defer cancel()
	confirmation, err := gatewayCall(callCtx, s.gateway, name, ratelimit.PriorityOrder, func(ctx context.Context) (*marketplace.OrderConfirmation, error) {
		return adapter.CreateOrder(ctx, req)
	})
	if err != nil {
		// cut off mid call, the marketplace may still have placed the order
		outcome.keepClaim = errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		outcome.err = err
		return outcome
	}
	if confirmation == nil || confirmation.OrderID == "" {
		outcome.err = errors.New("marketplace returned no order id")
		return outcome
	}

	outcome.remoteID = confirmation.OrderID
	outcome.status = marketplace.NormalizeOrderStatus(string(confirmation.Status))
	logger.WithLogger(ctx, s.logger).Info("Remote order created",
		zap.String("order_id", order.ID.String()),
		zap.String("remote_order_id", outcome.remoteID),
		zap.String("remote_status", string(outcome.status)),
	)

	if err := s.linkRemoteOrder(ctx, order.ID, outcome, saveMu); err != nil {
		outcome.keepClaim = true
		outcome.err = fmt.Errorf("remote order %s placed but not saved: %w", outcome.remoteID, err)
	}
	return outcome
}

// linkRemoteOrder saves the link of one group on a fresh copy of the order.
// Groups of one order save one at a time.
func (s *OrderFulfillmentService) linkRemoteOrder(ctx context.Context, orderID uuid.UUID, outcome groupOutcome, saveMu *sync.Mutex) error {
	saveMu.Lock()
	defer saveMu.Unlock()

	fresh, err := s.orders.FindByID(context.WithoutCancel(ctx), orderID)
	if err != nil {
		return err
	}
	return s.saveOrder(ctx, fresh, func(o *trade.Order) error {
		_, err := o.RecordMarketplaceOrder(outcome.name, outcome.remoteID, outcome.status)
		return err
	})
}

func (s *OrderFulfillmentService) release(ctx context.Context, key, token string) {
	if s.idempotency == nil || key == "" {
		return
	}
	if err := s.idempotency.Release(context.WithoutCancel(ctx), key, token); err != nil && !errors.Is(err, shared.ErrClaimNotHeld) {
		logger.WithLogger(ctx, s.logger).Warn("Failed to release fulfillment claim",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// fulfillmentMessage enumerates what happened to every group
func fulfillmentMessage(result *FulfillmentResult, groups int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d marketplace order(s) placed", len(result.MarketplaceOrders), groups)
	if len(result.MarketplaceOrders) > 0 {
		parts := make([]string, 0, len(result.MarketplaceOrders))
		for _, mo := range result.MarketplaceOrders {
			parts = append(parts, fmt.Sprintf("%s #%s (%s)", mo.Marketplace.DisplayName(), mo.RemoteOrderID, mo.Status))
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(&b, "; %d error(s): %s", len(result.Errors), strings.Join(result.Errors, "; "))
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Status polling
// ---------------------------------------------------------------------------

// UpdateOrderStatusFromMarketplace polls every linked remote order and folds
// the remote statuses into the local order. It never returns an error.
func (s *OrderFulfillmentService) UpdateOrderStatusFromMarketplace(ctx context.Context, orderID uuid.UUID) OperationResult {
	ctx, span := telemetry.StartServiceSpan(ctx, "order_fulfillment", "update_order_status",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, orderID.String()))
	defer span.End()

	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, trade.ErrOrderNotFound) {
		return failed("order %s not found", orderID)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return failed("failed to load order %s: %v", orderID, err)
	}
	if !order.HasMarketplaceLinkage() {
		return failed("no marketplace information")
	}

	type polled struct {
		name   marketplace.Name
		status marketplace.OrderStatus
	}
	var (
		updates []polled
		outcome []trade.MarketplaceOrderOutcome
		errs    []string
	)
	for _, link := range linkedRemoteOrders(order) {
		status, err := s.pollStatus(ctx, link.Marketplace, link.RemoteOrderID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", link.Marketplace, err))
			continue
		}
		updates = append(updates, polled{name: link.Marketplace, status: status})
		outcome = append(outcome, trade.MarketplaceOrderOutcome{
			Marketplace:   link.Marketplace,
			RemoteOrderID: link.RemoteOrderID,
			Status:        status,
		})
	}

	var result OperationResult
	if len(updates) == 0 {
		result = failed("failed to fetch remote order status: %s", strings.Join(errs, "; "))
	} else {
		err = s.saveOrder(ctx, order, func(o *trade.Order) error {
			for _, u := range updates {
				if err := o.ApplyRemoteStatus(u.name, u.status); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			telemetry.RecordError(span, err)
			result = failed("failed to save order status: %v", err)
		} else {
			result = succeeded("order status is %s", order.Status)
			if len(errs) > 0 {
				result.Message += "; " + strings.Join(errs, "; ")
			}
		}
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrOrderStatus, string(order.Status))

	s.writeLog(ctx, order.ID, trade.FulfillmentOperationStatusUpdate, result.Success, result.Message, outcome, errs)
	return result
}

// StatusRefreshResult summarizes one pass over open linked orders
type StatusRefreshResult struct {
	Checked int      `json:"checked"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}

// RefreshOpenOrders polls the remote status of up to limit open linked
// orders. Orders are refreshed one after another; a failing order is
// recorded and the pass continues.
func (s *OrderFulfillmentService) RefreshOpenOrders(ctx context.Context, limit int) (*StatusRefreshResult, error) {
	ids, err := s.orders.FindOpenLinked(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &StatusRefreshResult{Errors: []string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		outcome := s.UpdateOrderStatusFromMarketplace(ctx, id)
		if !outcome.Success {
			result.Errors = append(result.Errors, fmt.Sprintf("order %s: %s", id, outcome.Message))
			continue
		}
		result.Updated++
	}

	logger.WithLogger(ctx, s.logger).Info("Open order statuses refreshed",
		zap.Int("checked", result.Checked),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// linkedRemoteOrders returns the links of order, falling back to the primary
// linkage columns for orders stored before links were kept per marketplace
func linkedRemoteOrders(order *trade.Order) []trade.MarketplaceOrder {
	if len(order.MarketplaceOrders) > 0 {
		return order.MarketplaceOrders
	}
	return []trade.MarketplaceOrder{{
		OrderID:       order.ID,
		Marketplace:   *order.MarketplaceName,
		RemoteOrderID: *order.MarketplaceOrderID,
	}}
}

func (s *OrderFulfillmentService) pollStatus(ctx context.Context, name marketplace.Name, remoteOrderID string) (marketplace.OrderStatus, error) {
	adapter, err := s.adapters.Adapter(ctx, name)
	if err != nil {
		return "", err
	}
	if err := s.gateway.ensureAuthenticated(ctx, adapter, ratelimit.PriorityDefault); err != nil {
		return "", err
	}
	status, err := gatewayCall(ctx, s.gateway, name, ratelimit.PriorityDefault, func(ctx context.Context) (marketplace.OrderStatus, error) {
		return adapter.GetOrderStatus(ctx, remoteOrderID)
	})
	if err != nil {
		return "", err
	}
	return marketplace.NormalizeOrderStatus(string(status)), nil
}

// ---------------------------------------------------------------------------
// Returns
// ---------------------------------------------------------------------------

// InitiateReturn opens a return for one order item and flags its order. Items
// of local-only products can be returned too.
func (s *OrderFulfillmentService) InitiateReturn(ctx context.Context, orderItemID uuid.UUID, reason string) ReturnResult {
	ctx, span := telemetry.StartServiceSpan(ctx, "order_fulfillment", "initiate_return")
	defer span.End()

	item, err := s.orders.FindItemByID(ctx, orderItemID)
	if errors.Is(err, trade.ErrOrderItemNotFound) {
		return ReturnResult{Message: fmt.Sprintf("order item %s not found", orderItemID)}
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return ReturnResult{Message: fmt.Sprintf("failed to load order item %s: %v", orderItemID, err)}
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrOrderID, item.OrderID.String())

	ret, err := trade.NewOrderReturn(item.OrderID, item.ID, reason)
	if err != nil {
		return ReturnResult{Message: err.Error()}
	}
	if err := s.returns.Create(ctx, ret); err != nil {
		telemetry.RecordError(span, err)
		return ReturnResult{Message: fmt.Sprintf("failed to create return: %v", err)}
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrReturnID, ret.ID.String())

	result := ReturnResult{Success: true, ReturnID: ret.ID, Message: fmt.Sprintf("return %s requested", ret.ID)}
	order, err := s.orders.FindByID(ctx, item.OrderID)
	if err == nil {
		err = s.saveOrder(ctx, order, func(o *trade.Order) error {
			o.MarkReturnRequested()
			return nil
		})
	}
	if err != nil {
		logger.WithLogger(ctx, s.logger).Warn("Return created but order status not updated",
			zap.String("return_id", ret.ID.String()),
			zap.Error(err),
		)
		result.Message += "; order status not updated: " + err.Error()
	}

	s.writeLog(ctx, item.OrderID, trade.FulfillmentOperationReturn, true, result.Message, nil, nil)
	return result
}

// AdvanceReturn moves a return forward. Moving backwards fails with
// trade.ErrInvalidReturnTransition.
func (s *OrderFulfillmentService) AdvanceReturn(ctx context.Context, returnID uuid.UUID, status trade.ReturnStatus, refund *decimal.Decimal) (*trade.OrderReturn, error) {
	ret, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if err := ret.TransitionTo(status, refund); err != nil {
		return nil, err
	}
	if err := s.returns.Update(ctx, ret); err != nil {
		return nil, err
	}
	logger.WithLogger(ctx, s.logger).Info("Return advanced",
		zap.String("return_id", ret.ID.String()),
		zap.String("status", string(ret.Status)),
	)
	return ret, nil
}

// ListReturns lists the returns of an order
func (s *OrderFulfillmentService) ListReturns(ctx context.Context, orderID uuid.UUID) ([]trade.OrderReturn, error) {
	return s.returns.FindByOrder(ctx, orderID)
}

// ListFulfillmentLogs lists the audit rows of an order
func (s *OrderFulfillmentService) ListFulfillmentLogs(ctx context.Context, orderID uuid.UUID) ([]trade.FulfillmentLog, error) {
	return s.logs.FindByOrder(ctx, orderID)
}

// ---------------------------------------------------------------------------
// Persistence helpers
// ---------------------------------------------------------------------------

// saveOrder applies mutate and saves order. After losing an optimistic lock
// race the order is re-read and mutate applied again.
func (s *OrderFulfillmentService) saveOrder(ctx context.Context, order *trade.Order, mutate func(*trade.Order) error) error {
	ctx = context.WithoutCancel(ctx)
	current := order
	for attempt := 1; ; attempt++ {
		if err := mutate(current); err != nil {
			return err
		}
		err := s.orders.Update(ctx, current)
		if err == nil {
			if current != order {
				*order = *current
			}
			return nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= maxOrderSaveAttempts {
			return err
		}
		current, err = s.orders.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
	}
}

func (s *OrderFulfillmentService) writeLog(ctx context.Context, orderID uuid.UUID, op trade.FulfillmentOperation, success bool, message string, orders []trade.MarketplaceOrderOutcome, errs []string) {
	row := trade.NewFulfillmentLog(orderID, op, success, message)
	row.MarketplaceOrders = append(row.MarketplaceOrders, orders...)
	row.Errors = append(row.Errors, errs...)
	if err := s.logs.Create(context.WithoutCancel(ctx), row); err != nil {
		logger.WithLogger(ctx, s.logger).Error("Failed to write fulfillment log",
			zap.String("order_id", orderID.String()),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}
}
