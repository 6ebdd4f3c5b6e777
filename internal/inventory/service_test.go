package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kgbytes/canteen-backend/pkg/db/models"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Counter{}, &models.FoodItem{}))
	return db
}

func seedItem(t *testing.T, db *gorm.DB, stock, reserved int) *models.FoodItem {
	t.Helper()
	counter := models.Counter{Name: "Counter " + uuid.NewString()}
	require.NoError(t, db.Create(&counter).Error)
	item := models.FoodItem{
		CounterID:   counter.ID,
		Name:        "Samosa " + uuid.NewString(),
		Stock:       stock,
		Reserved:    reserved,
		IsAvailable: true,
	}
	require.NoError(t, db.Create(&item).Error)
	return &item
}

type recordingInvalidator struct {
	mu       sync.Mutex
	counters []uuid.UUID
}

func (r *recordingInvalidator) InvalidateCounter(_ context.Context, counterID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, counterID)
	return nil
}

func TestReserveMovesStockToReserved(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	item := seedItem(t, db, 10, 0)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(context.Background(), tx, []ReservationRequest{{FoodItemID: item.ID, Qty: 4}})
	})
	require.NoError(t, err)

	var got models.FoodItem
	require.NoError(t, db.First(&got, "id = ?", item.ID).Error)
	assert.Equal(t, 6, got.Stock)
	assert.Equal(t, 4, got.Reserved)
}

func TestReserveInsufficientStockFailsBatch(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	plenty := seedItem(t, db, 10, 0)
	scarce := seedItem(t, db, 1, 0)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(context.Background(), tx, []ReservationRequest{
			{FoodItemID: plenty.ID, Qty: 2},
			{FoodItemID: scarce.ID, Qty: 3},
		})
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock))

	// The transaction rolled back, so neither item moved.
	var got models.FoodItem
	require.NoError(t, db.First(&got, "id = ?", plenty.ID).Error)
	assert.Equal(t, 10, got.Stock)
	assert.Equal(t, 0, got.Reserved)
}

func TestReserveUnknownItemIsNotFound(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(context.Background(), tx, []ReservationRequest{{FoodItemID: uuid.New(), Qty: 1}})
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestDeductConsumesReservationFirst(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	item := seedItem(t, db, 6, 4)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Deduct(context.Background(), item.ID, 3))

	var got models.FoodItem
	require.NoError(t, db.First(&got, "id = ?", item.ID).Error)
	assert.Equal(t, 6, got.Stock, "stock untouched while a hold covers the delivery")
	assert.Equal(t, 1, got.Reserved)
}

func TestDeductFallsBackToStock(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	item := seedItem(t, db, 6, 0)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Deduct(context.Background(), item.ID, 2))

	var got models.FoodItem
	require.NoError(t, db.First(&got, "id = ?", item.ID).Error)
	assert.Equal(t, 4, got.Stock)
	assert.Equal(t, 0, got.Reserved)
}

func TestDeductShortfall(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	item := seedItem(t, db, 1, 0)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	err = svc.Deduct(context.Background(), item.ID, 2)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock))
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	details, ok := appErr.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, details["stock"])
}

func TestReleaseReturnsHeldUnits(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	item := seedItem(t, db, 2, 5)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Release(context.Background(), nil, item.ID, 5))

	var got models.FoodItem
	require.NoError(t, db.First(&got, "id = ?", item.ID).Error)
	assert.Equal(t, 7, got.Stock)
	assert.Equal(t, 0, got.Reserved)
}

func TestReleaseNeverOverdrawsReserved(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	item := seedItem(t, db, 2, 1)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	// Releasing more than is held is a no-op, not a negative counter.
	require.NoError(t, svc.Release(context.Background(), nil, item.ID, 5))

	var got models.FoodItem
	require.NoError(t, db.First(&got, "id = ?", item.ID).Error)
	assert.Equal(t, 2, got.Stock)
	assert.Equal(t, 1, got.Reserved)
}

func TestReconcileAvailabilityOnlyAtExactlyZero(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	empty := seedItem(t, db, 0, 0)
	stocked := seedItem(t, db, 3, 0)
	svc, err := NewService(db, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.ReconcileAvailability(context.Background(), empty.ID))
	require.NoError(t, svc.ReconcileAvailability(context.Background(), stocked.ID))

	var gotEmpty, gotStocked models.FoodItem
	require.NoError(t, db.First(&gotEmpty, "id = ?", empty.ID).Error)
	require.NoError(t, db.First(&gotStocked, "id = ?", stocked.ID).Error)
	assert.False(t, gotEmpty.IsAvailable)
	assert.True(t, gotStocked.IsAvailable)
}

func TestDeductInvalidatesCounterCache(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	item := seedItem(t, db, 5, 0)
	inv := &recordingInvalidator{}
	svc, err := NewService(db, inv, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Deduct(context.Background(), item.ID, 1))

	inv.mu.Lock()
	defer inv.mu.Unlock()
	require.Len(t, inv.counters, 1)
	assert.Equal(t, item.CounterID, inv.counters[0])
}
