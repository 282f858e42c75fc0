package integration

import (
	"context"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/ratelimit"
	"github.com/storefront/marketsync/internal/infrastructure/reliability"
)

// MarketplaceGateway funnels every adapter call through the marketplace rate
// limiter and then the retry/circuit breaker executor. Either layer may be nil,
// in which case it is skipped.
type MarketplaceGateway struct {
	limits   *ratelimit.Registry
	executor *reliability.Executor
}

// NewMarketplaceGateway creates a MarketplaceGateway
func NewMarketplaceGateway(limits *ratelimit.Registry, executor *reliability.Executor) *MarketplaceGateway {
	return &MarketplaceGateway{
		limits:   limits,
		executor: executor,
	}
}

// Execute runs op for marketplace name. The breaker is keyed by marketplace.
func (g *MarketplaceGateway) Execute(ctx context.Context, name marketplace.Name, priority int, op func(context.Context) error) error {
	guarded := op
	if g != nil && g.executor != nil {
		guarded = func(ctx context.Context) error {
			return g.executor.Execute(ctx, name.String(), op)
		}
	}
	if g == nil || g.limits == nil {
		return guarded(ctx)
	}
	return g.limits.Execute(ctx, name, priority, guarded)
}

// gatewayCall is Execute for calls that return a value
func gatewayCall[T any](ctx context.Context, g *MarketplaceGateway, name marketplace.Name, priority int, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := g.Execute(ctx, name, priority, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// ensureAuthenticated authenticates adapter unless it already holds a live token
func (g *MarketplaceGateway) ensureAuthenticated(ctx context.Context, adapter marketplace.Adapter, priority int) error {
	if adapter.IsAuthenticated() {
		return nil
	}
	ok, err := gatewayCall(ctx, g, adapter.Name(), priority, adapter.Authenticate)
	if err != nil {
		return err
	}
	if !ok {
		return marketplace.NewAuthenticationError(adapter.Name(), "marketplace rejected the credentials", nil)
	}
	return nil
}
