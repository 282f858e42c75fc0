package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/storefront/marketsync/internal/infrastructure/telemetry"
)

type syncLogRow struct {
	ID          uint `gorm:"primaryKey"`
	Marketplace string
	Status      string
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&syncLogRow{}))
	return db
}

func TestGORMInstrumentation_Metrics(t *testing.T) {
	mp, reader := newManualMeterProvider(t)
	db := openTestDB(t)

	inst, err := telemetry.NewGORMInstrumentation(telemetry.DBConfig{
		DBSystem:           "sqlite",
		SlowQueryThreshold: time.Hour,
	}, mp.Meter("db"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, inst.Register(db))

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&syncLogRow{Marketplace: "amazon", Status: "running"}).Error)

	var rows []syncLogRow
	require.NoError(t, db.WithContext(ctx).Where("marketplace = ?", "amazon").Find(&rows).Error)
	require.Len(t, rows, 1)

	err = db.WithContext(ctx).First(&syncLogRow{}, 999).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	assert.Equal(t, int64(3), sumValue(t, collect(t, reader, "marketsync_db_queries_total")))
}

func TestGORMInstrumentation_SlowQueryLogged(t *testing.T) {
	db := openTestDB(t)
	core, logs := observer.New(zap.WarnLevel)

	inst, err := telemetry.NewGORMInstrumentation(telemetry.DBConfig{
		DBSystem:           "sqlite",
		SlowQueryThreshold: time.Nanosecond,
	}, nil, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, inst.Register(db))

	require.NoError(t, db.Create(&syncLogRow{Marketplace: "aliexpress", Status: "completed"}).Error)

	slow := logs.FilterMessage("Slow database query").All()
	require.NotEmpty(t, slow)
	fields := slow[0].ContextMap()
	assert.Equal(t, "create", fields["operation"])
	assert.Equal(t, "sync_log_rows", fields["table"])
}

func TestGORMInstrumentation_Tracing(t *testing.T) {
	sr := setupTestTracer(t)
	db := openTestDB(t)

	inst, err := telemetry.NewGORMInstrumentation(telemetry.DBConfig{
		Tracing:            true,
		DBSystem:           "sqlite",
		SlowQueryThreshold: time.Nanosecond,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, inst.Register(db))

	ctx, parent := telemetry.StartSpan(context.Background(), "product_sync.import")
	require.NoError(t, db.WithContext(ctx).Create(&syncLogRow{Marketplace: "mercadolivre"}).Error)
	parent.End()

	var dbSpans int
	for _, s := range sr.Ended() {
		if s.Parent().SpanID() == parent.SpanContext().SpanID() {
			dbSpans++
			attrs := attrMap(s.Attributes())
			assert.True(t, attrs["db.slow_query"].AsBool())
		}
	}
	assert.Positive(t, dbSpans)
}
