package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBlacklistPrefix = "marketsync:token:"

// TokenBlacklist invalidates operator tokens before they expire
type TokenBlacklist interface {
	// Revoke rejects the token with jti until ttl elapses
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// RevokeOperator rejects every token of operator issued up to now
	RevokeOperator(ctx context.Context, operator string, ttl time.Duration) error
	IsOperatorRevoked(ctx context.Context, operator string, issuedAt time.Time) (bool, error)
}

// RedisTokenBlacklist implements TokenBlacklist using Redis so that every
// instance rejects the same tokens
type RedisTokenBlacklist struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisTokenBlacklist creates a blacklist on an existing Redis client
func NewRedisTokenBlacklist(client redis.UniversalClient, keyPrefix string) *RedisTokenBlacklist {
	if keyPrefix == "" {
		keyPrefix = defaultBlacklistPrefix
	}
	return &RedisTokenBlacklist{client: client, keyPrefix: keyPrefix}
}

func (b *RedisTokenBlacklist) jtiKey(jti string) string {
	return b.keyPrefix + "jti:" + jti
}

func (b *RedisTokenBlacklist) operatorKey(operator string) string {
	return b.keyPrefix + "operator:" + operator
}

// Revoke adds jti to the blacklist
func (b *RedisTokenBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.jtiKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked checks if jti is in the blacklist
func (b *RedisTokenBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

// RevokeOperator stores the revocation time of operator
func (b *RedisTokenBlacklist) RevokeOperator(ctx context.Context, operator string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.operatorKey(operator), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke operator tokens: %w", err)
	}
	return nil
}

// IsOperatorRevoked reports whether a token issued at issuedAt predates the
// operator's revocation
func (b *RedisTokenBlacklist) IsOperatorRevoked(ctx context.Context, operator string, issuedAt time.Time) (bool, error) {
	raw, err := b.client.Get(ctx, b.operatorKey(operator)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check operator revocation: %w", err)
	}
	revokedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("failed to parse revocation timestamp: %w", err)
	}
	return issuedAt.Unix() <= revokedAt, nil
}

var _ TokenBlacklist = (*RedisTokenBlacklist)(nil)

// InMemoryTokenBlacklist provides an in-memory implementation for tests and
// single-instance deployments
type InMemoryTokenBlacklist struct {
	mu        sync.Mutex
	tokens    map[string]time.Time // jti -> expiration
	operators map[string]time.Time // operator -> revocation time
}

// NewInMemoryTokenBlacklist creates a new in-memory token blacklist
func NewInMemoryTokenBlacklist() *InMemoryTokenBlacklist {
	return &InMemoryTokenBlacklist{
		tokens:    make(map[string]time.Time),
		operators: make(map[string]time.Time),
	}
}

// Revoke adds jti to the blacklist
func (b *InMemoryTokenBlacklist) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[jti] = time.Now().Add(ttl)
	return nil
}

// IsRevoked checks if jti is blacklisted and not expired
func (b *InMemoryTokenBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiration, exists := b.tokens[jti]
	if !exists {
		return false, nil
	}
	if time.Now().After(expiration) {
		delete(b.tokens, jti)
		return false, nil
	}
	return true, nil
}

// RevokeOperator records the revocation time of operator
func (b *InMemoryTokenBlacklist) RevokeOperator(_ context.Context, operator string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.operators[operator] = time.Now()
	return nil
}

// IsOperatorRevoked reports whether a token issued at issuedAt predates the
// operator's revocation
func (b *InMemoryTokenBlacklist) IsOperatorRevoked(_ context.Context, operator string, issuedAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	revokedAt, exists := b.operators[operator]
	if !exists {
		return false, nil
	}
	return !issuedAt.After(revokedAt), nil
}

var _ TokenBlacklist = (*InMemoryTokenBlacklist)(nil)
