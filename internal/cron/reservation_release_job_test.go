package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kgbytes/canteen-backend/internal/inventory"
	"github.com/kgbytes/canteen-backend/internal/tokens"
	"github.com/kgbytes/canteen-backend/pkg/config"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type releaseFixture struct {
	db        *gorm.DB
	tokens    tokens.Service
	inventory inventory.Service
	job       *reservationReleaseJob
}

func newReleaseFixture(t *testing.T) *releaseFixture {
	t.Helper()
	dsn := "file:cron_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Counter{}, &models.FoodItem{}, &models.OrderToken{},
	))

	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	repo := tokens.NewRepository(db)
	tokenSvc, err := tokens.NewService(repo, config.FulfillmentConfig{
		TokenTTL:     time.Hour,
		CodeAttempts: 100,
	}, logg, nil)
	require.NoError(t, err)

	invSvc, err := inventory.NewService(db, nil, logg)
	require.NoError(t, err)

	job, err := NewReservationReleaseJob(ReservationReleaseJobParams{
		Logger:    logg,
		DB:        &gormTxRunner{db: db},
		Tokens:    repo,
		Inventory: invSvc,
	})
	require.NoError(t, err)

	return &releaseFixture{
		db:        db,
		tokens:    tokenSvc,
		inventory: invSvc,
		job:       job.(*reservationReleaseJob),
	}
}

func (f *releaseFixture) seedItem(t *testing.T, stock int) *models.FoodItem {
	t.Helper()
	counter := models.Counter{Name: "Counter " + uuid.NewString()}
	require.NoError(t, f.db.Create(&counter).Error)
	item := models.FoodItem{
		CounterID:   counter.ID,
		Name:        "Dish " + uuid.NewString(),
		Price:       decimal.NewFromInt(50),
		Stock:       stock,
		IsAvailable: true,
	}
	require.NoError(t, f.db.Create(&item).Error)
	return &item
}

// mintReserved mints a token and moves the item quantities into reservation,
// mirroring what order placement does.
func (f *releaseFixture) mintReserved(t *testing.T, qty int, items ...*models.FoodItem) *models.OrderToken {
	t.Helper()
	payload := tokens.Payload{
		StudentID:      uuid.New(),
		TotalAmount:    decimal.NewFromInt(50),
		ItemsByCounter: map[string][]tokens.PayloadItem{},
	}
	var requests []inventory.ReservationRequest
	for _, item := range items {
		counterID := item.CounterID.String()
		payload.Counters = append(payload.Counters, counterID)
		payload.ItemsByCounter[counterID] = append(payload.ItemsByCounter[counterID], tokens.PayloadItem{
			LineItemID: uuid.New(),
			FoodItemID: item.ID,
			Name:       item.Name,
			Quantity:   qty,
			UnitPrice:  item.Price,
		})
		requests = append(requests, inventory.ReservationRequest{FoodItemID: item.ID, Qty: qty})
	}

	var token *models.OrderToken
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		if err := f.inventory.Reserve(context.Background(), tx, requests); err != nil {
			return err
		}
		var err error
		token, err = f.tokens.CreateInTx(context.Background(), tx, tokens.CreateInput{Payload: payload})
		return err
	}))
	return token
}

func (f *releaseFixture) backdate(t *testing.T, tokenID uuid.UUID) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.OrderToken{}).
		Where("id = ?", tokenID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)
}

func (f *releaseFixture) stockOf(t *testing.T, itemID uuid.UUID) (stock, reserved int) {
	t.Helper()
	var fresh models.FoodItem
	require.NoError(t, f.db.First(&fresh, "id = ?", itemID).Error)
	return fresh.Stock, fresh.Reserved
}

func TestReservationReleaseReturnsExpiredHolds(t *testing.T) {
	t.Parallel()
	f := newReleaseFixture(t)
	item := f.seedItem(t, 10)
	token := f.mintReserved(t, 2, item)
	f.backdate(t, token.ID)

	require.NoError(t, f.job.Run(context.Background()))

	stock, reserved := f.stockOf(t, item.ID)
	assert.Equal(t, 10, stock)
	assert.Zero(t, reserved)

	var fresh models.OrderToken
	require.NoError(t, f.db.First(&fresh, "id = ?", token.ID).Error)
	assert.Equal(t, enums.TokenStatusExpired, fresh.Status)
	assert.True(t, fresh.StockReleased)
}

func TestReservationReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newReleaseFixture(t)
	item := f.seedItem(t, 10)
	token := f.mintReserved(t, 2, item)
	f.backdate(t, token.ID)

	require.NoError(t, f.job.Run(context.Background()))
	require.NoError(t, f.job.Run(context.Background()))

	// A second sweep finds nothing to claim and stock stays put.
	stock, reserved := f.stockOf(t, item.ID)
	assert.Equal(t, 10, stock)
	assert.Zero(t, reserved)
}

func TestReservationReleaseSkipsDeliveredCounters(t *testing.T) {
	t.Parallel()
	f := newReleaseFixture(t)
	a := f.seedItem(t, 10)
	b := f.seedItem(t, 10)
	token := f.mintReserved(t, 1, a, b)

	// Counter a already handed over; only b's hold should come back.
	payload, err := tokens.DecodePayload(token)
	require.NoError(t, err)
	record := tokens.DeliveryRecord{DeliveredAt: time.Now().UTC(), DeliveredBy: "staff:test"}
	delivered := tokens.Deliveries{a.CounterID.String(): record}
	require.NoError(t, f.inventory.Deduct(context.Background(), a.ID, 1))
	encoded, err := tokens.EncodeDeliveries(delivered)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.OrderToken{}).
		Where("id = ?", token.ID).
		Update("counters_delivered", encoded).Error)
	require.Len(t, payload.Counters, 2)

	f.backdate(t, token.ID)
	require.NoError(t, f.job.Run(context.Background()))

	stockA, reservedA := f.stockOf(t, a.ID)
	assert.Equal(t, 9, stockA, "delivered counter keeps its deduction")
	assert.Zero(t, reservedA)

	stockB, reservedB := f.stockOf(t, b.ID)
	assert.Equal(t, 10, stockB, "undelivered counter gets its hold back")
	assert.Zero(t, reservedB)
}

func TestReservationReleaseLeavesLiveTokensAlone(t *testing.T) {
	t.Parallel()
	f := newReleaseFixture(t)
	item := f.seedItem(t, 10)
	f.mintReserved(t, 2, item)

	require.NoError(t, f.job.Run(context.Background()))

	stock, reserved := f.stockOf(t, item.ID)
	assert.Equal(t, 8, stock)
	assert.Equal(t, 2, reserved)
}
