package cache

import (
	"fmt"

	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// OpenIdempotencyStore returns the Redis claim store when Redis is configured
// and reachable. An empty host selects the in-memory store. An unreachable
// Redis falls back to memory unless cfg.Required is set.
func OpenIdempotencyStore(cfg config.RedisConfig, log *zap.Logger) (shared.IdempotencyStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Host == "" {
		log.Info("Redis not configured, order claims are local to this instance")
		return NewInMemoryIdempotencyStore(), nil
	}

	store, err := NewRedisIdempotencyStore(cfg)
	if err == nil {
		log.Info("Order claims stored in Redis", zap.String("addr", cfg.Addr()))
		return store, nil
	}
	if cfg.Required {
		return nil, fmt.Errorf("redis required for order claims: %w", err)
	}

	log.Warn("Redis unavailable, order claims fall back to memory; "+
		"concurrent instances may create duplicate marketplace orders",
		zap.String("addr", cfg.Addr()),
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(), nil
}
