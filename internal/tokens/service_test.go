package tokens

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

	"github.com/kgbytes/canteen-backend/pkg/config"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:tokens_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OrderToken{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	svc, err := NewService(NewRepository(db), config.FulfillmentConfig{
		TokenTTL:     time.Hour,
		CodeAttempts: 100,
	}, logg, nil)
	require.NoError(t, err)
	return svc
}

func samplePayload() Payload {
	counterID := uuid.NewString()
	return Payload{
		StudentID:   uuid.New(),
		TotalAmount: decimal.NewFromInt(80),
		Counters:    []string{counterID},
		ItemsByCounter: map[string][]PayloadItem{
			counterID: {
				{LineItemID: uuid.New(), FoodItemID: uuid.New(), Name: "Masala Dosa", Quantity: 2, UnitPrice: decimal.NewFromInt(40)},
			},
		},
	}
}

func TestCreateMintsActiveTokenWithCode(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))

	token, err := svc.Create(context.Background(), CreateInput{
		Payload:     samplePayload(),
		GeneratedBy: "staff:priya",
	})
	require.NoError(t, err)

	assert.Equal(t, enums.TokenStatusActive, token.Status)
	assert.Regexp(t, `^[A-Z]{2}\d{4}$`, token.Code)
	assert.False(t, token.AllItemsDelivered)
	assert.True(t, token.ExpiresAt.After(time.Now()))

	payload, err := DecodePayload(token)
	require.NoError(t, err)
	assert.Len(t, payload.Counters, 1)

	deliveries, err := DecodeDeliveries(token)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestCreateRejectsEmptyPayload(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))

	_, err := svc.Create(context.Background(), CreateInput{Payload: Payload{}})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidLineItems))
}

func TestCreateRejectsZeroQuantity(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))

	payload := samplePayload()
	counterID := payload.Counters[0]
	payload.ItemsByCounter[counterID][0].Quantity = 0

	_, err := svc.Create(context.Background(), CreateInput{Payload: payload})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidLineItems))
}

func TestRandomCodeShape(t *testing.T) {
	t.Parallel()
	seen := make(map[string]struct{})
	for i := 0; i < 10000; i++ {
		code, err := randomCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Z]{2}\d{4}$`, code)
		seen[code] = struct{}{}
	}
	// 6.76M possible codes; 10k draws should stay overwhelmingly distinct.
	assert.Greater(t, len(seen), 9900)
}

func TestFallbackCodeShape(t *testing.T) {
	t.Parallel()
	code := fallbackCode(time.Unix(1755856871, 0))
	assert.Equal(t, "OR6871", code)
}

func TestGenerateCodeFallsBackWhenSpaceSaturated(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	repo := &saturatedRepo{TokenRepository: NewRepository(db)}
	svcIface, err := NewService(repo, config.FulfillmentConfig{TokenTTL: time.Hour, CodeAttempts: 5}, logg, nil)
	require.NoError(t, err)

	token, err := svcIface.Create(context.Background(), CreateInput{Payload: samplePayload()})
	require.NoError(t, err)
	assert.Regexp(t, `^OR\d{4}$`, token.Code)
}

func TestGenerateCodeExhaustedWhenFallbackCollides(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	repo := &saturatedRepo{TokenRepository: NewRepository(db), fallbackToo: true}
	svcIface, err := NewService(repo, config.FulfillmentConfig{TokenTTL: time.Hour, CodeAttempts: 5}, logg, nil)
	require.NoError(t, err)

	_, err = svcIface.Create(context.Background(), CreateInput{Payload: samplePayload()})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeCodeSpace))
}

func TestFetchByCodeLazyExpiry(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)

	token, err := svc.Create(context.Background(), CreateInput{Payload: samplePayload()})
	require.NoError(t, err)

	// Push the deadline into the past behind the service's back.
	require.NoError(t, db.Model(&models.OrderToken{}).
		Where("id = ?", token.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	got, err := svc.FetchByCode(context.Background(), token.Code)
	require.NoError(t, err)
	assert.Equal(t, enums.TokenStatusExpired, got.Status)

	// A second read is a no-op on an already expired token.
	again, err := svc.FetchByCode(context.Background(), token.Code)
	require.NoError(t, err)
	assert.Equal(t, enums.TokenStatusExpired, again.Status)
}

func TestFetchByCodeUnknown(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))

	_, err := svc.FetchByCode(context.Background(), "ZZ0000")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestStatusByCodeNeverErrors(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))

	result := svc.StatusByCode(context.Background(), "ZZ0000")
	assert.False(t, result.Found)

	token, err := svc.Create(context.Background(), CreateInput{Payload: samplePayload()})
	require.NoError(t, err)

	result = svc.StatusByCode(context.Background(), token.Code)
	assert.True(t, result.Found)
	assert.Equal(t, "active", result.Status)
	assert.Len(t, result.PendingCounters, 1)
	assert.Empty(t, result.DeliveredCounters)
}

func TestStatusByCodeReportsDatastoreFaultsAsError(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)

	token, err := svc.Create(context.Background(), CreateInput{Payload: samplePayload()})
	require.NoError(t, err)

	// An unknown code is a clean miss.
	miss := svc.StatusByCode(context.Background(), "ZZ0000")
	assert.False(t, miss.Found)
	assert.Empty(t, miss.Status)

	// A broken datastore must read as a hiccup, not as an invalid code.
	require.NoError(t, db.Migrator().DropTable(&models.OrderToken{}))

	result := svc.StatusByCode(context.Background(), token.Code)
	assert.False(t, result.Found)
	assert.Equal(t, StatusError, result.Status)
}

func TestExpireGuardsTerminalStates(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)

	token, err := svc.Create(context.Background(), CreateInput{Payload: samplePayload()})
	require.NoError(t, err)

	changed, err := svc.Expire(context.Background(), token.Code)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.Expire(context.Background(), token.Code)
	require.NoError(t, err)
	assert.False(t, changed)

	// Used tokens are never force-expired.
	used := &models.OrderToken{
		Code:      "AB1234",
		Status:    enums.TokenStatusUsed,
		Payload:   []byte(`{}`),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(used).Error)
	changed, err = svc.Expire(context.Background(), used.Code)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyDeliveryVersionGuard(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)
	repo := NewRepository(db)

	token, err := svc.Create(context.Background(), CreateInput{Payload: samplePayload()})
	require.NoError(t, err)

	ok, err := repo.ApplyDelivery(context.Background(), token, token.Version)
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale version loses.
	ok, err = repo.ApplyDelivery(context.Background(), token, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

// saturatedRepo reports every random code as taken so code generation is
// forced onto the fallback path.
type saturatedRepo struct {
	TokenRepository
	fallbackToo bool
}

func (r *saturatedRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	if len(code) >= 2 && code[:2] == "OR" {
		return r.fallbackToo, nil
	}
	return true, nil
}

func (r *saturatedRepo) WithTx(tx *gorm.DB) TokenRepository {
	return r
}
