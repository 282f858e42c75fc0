package marketplace

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Name Tests
// ---------------------------------------------------------------------------

func TestName_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		value    Name
		expected bool
	}{
		{"MercadoLivre valid", MercadoLivre, true},
		{"Amazon valid", Amazon, true},
		{"AliExpress valid", AliExpress, true},
		{"Unknown sentinel invalid", Unknown, false},
		{"Empty invalid", Name(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.value.IsValid())
		})
	}
}

func TestParseName(t *testing.T) {
	n, err := ParseName("  Amazon ")
	require.NoError(t, err)
	assert.Equal(t, Amazon, n)

	n, err = ParseName("mercado_livre")
	require.NoError(t, err)
	assert.Equal(t, MercadoLivre, n)

	_, err = ParseName("ebay")
	assert.ErrorIs(t, err, ErrInvalidMarketplace)
}

// ---------------------------------------------------------------------------
// MarketplaceError Tests
// ---------------------------------------------------------------------------

func TestMarketplaceError_Is(t *testing.T) {
	cause := errors.New("connection reset")

	generic := NewError(Amazon, "searchProducts", "request failed", cause)
	assert.ErrorIs(t, generic, cause)
	assert.NotErrorIs(t, generic, ErrAuthentication)
	assert.Contains(t, generic.Error(), "amazon searchProducts: request failed: connection reset")

	auth := NewAuthenticationError(MercadoLivre, "token refresh rejected", nil)
	assert.ErrorIs(t, auth, ErrAuthentication)
	assert.Equal(t, "authenticate", auth.Operation)

	limited := NewRateLimitError(AliExpress, "getProductDetails", 12*time.Second)
	wrapped := fmt.Errorf("import: %w", limited)
	assert.ErrorIs(t, wrapped, ErrRateLimited)
	me, ok := AsMarketplaceError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 12*time.Second, me.RetryAfter)
	assert.Equal(t, 429, me.StatusCode)

	unsupported := NewUnsupportedError(MercadoLivre, "createOrder")
	assert.ErrorIs(t, unsupported, ErrUnsupportedOperation)
	assert.NotErrorIs(t, unsupported, ErrRateLimited)
}

// ---------------------------------------------------------------------------
// OrderStatus Tests
// ---------------------------------------------------------------------------

func TestNormalizeOrderStatus(t *testing.T) {
	assert.Equal(t, OrderStatusShipped, NormalizeOrderStatus("shipped"))
	assert.Equal(t, OrderStatusPending, NormalizeOrderStatus("awaiting_pickup"))
	assert.Equal(t, OrderStatusPending, NormalizeOrderStatus(""))
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     OrderStatus
		to       OrderStatus
		expected bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusConfirmed, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusConfirmed, false},
		{OrderStatusProcessing, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusPending, OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

// ---------------------------------------------------------------------------
// SyncLog Tests
// ---------------------------------------------------------------------------

func TestSyncLog_FinalizedOnce(t *testing.T) {
	log := NewSyncLog(Amazon, SyncOperationImport)
	assert.Equal(t, SyncStatusRunning, log.Status)
	assert.Nil(t, log.CompletedAt)

	log.AddError("item B001: price missing")
	require.NoError(t, log.Finish(3, 1, 1))
	assert.Equal(t, SyncStatusCompleted, log.Status)
	assert.NotNil(t, log.CompletedAt)

	assert.ErrorIs(t, log.Finish(4, 0, 0), ErrSyncLogAlreadyFinalized)
	assert.ErrorIs(t, log.Fail("late"), ErrSyncLogAlreadyFinalized)
	assert.Equal(t, 3, log.ProductsProcessed)

	result := log.Result()
	assert.True(t, result.Success())
	assert.Equal(t, []string{"item B001: price missing"}, result.Errors)
}

func TestSyncLog_Fail(t *testing.T) {
	log := NewSyncLog(MercadoLivre, SyncOperationImport)
	require.NoError(t, log.Fail("authentication failed"))
	assert.Equal(t, SyncStatusFailed, log.Status)
	assert.Equal(t, []string{"authentication failed"}, log.Errors)
	assert.False(t, log.Result().Success())
}

// ---------------------------------------------------------------------------
// CategoryMapping / ConnectionSettings Tests
// ---------------------------------------------------------------------------

func TestNewCategoryMapping(t *testing.T) {
	local := uuid.New()

	m, err := NewCategoryMapping(MercadoLivre, " MLB1055 ", local)
	require.NoError(t, err)
	assert.Equal(t, "MLB1055", m.MarketplaceCategoryID)

	_, err = NewCategoryMapping(MercadoLivre, "", local)
	assert.ErrorIs(t, err, ErrMappingInvalidCategoryID)

	_, err = NewCategoryMapping(Name("ebay"), "1", local)
	assert.ErrorIs(t, err, ErrInvalidMarketplace)

	_, err = NewCategoryMapping(Amazon, "1", uuid.Nil)
	assert.ErrorIs(t, err, ErrMappingInvalidLocalCategoryID)
}

func TestRateLimitPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultRateLimitPolicy(Amazon).Validate())
	assert.NoError(t, RateLimitPolicy{}.Validate())
	assert.ErrorIs(t, RateLimitPolicy{Reservoir: 10}.Validate(), ErrInvalidRateLimitPolicy)
	assert.ErrorIs(t, RateLimitPolicy{MaxConcurrent: -1}.Validate(), ErrInvalidRateLimitPolicy)
}

func TestConnectionSettings_RecordTest(t *testing.T) {
	s, err := NewConnectionSettings(AliExpress, "aliexpress-default")
	require.NoError(t, err)
	assert.True(t, s.IsActive)

	at := time.Now()
	s.RecordTest(at, errors.New("invalid app key"))
	assert.False(t, s.LastTestOK)
	assert.Equal(t, "invalid app key", s.LastTestError)
	assert.Equal(t, at, *s.LastTestedAt)

	s.RecordTest(at.Add(time.Minute), nil)
	assert.True(t, s.LastTestOK)
	assert.Empty(t, s.LastTestError)
}
