package staff

import (
	"context"
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
	dsn := "file:staff_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.StaffProfile{}))
	return db
}

func TestIdentityOfResolvesProfile(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	counterID := uuid.New()
	profile := models.StaffProfile{
		UserID:        uuid.New(),
		Username:      "ravi",
		HomeCounterID: &counterID,
		IsActive:      true,
	}
	require.NoError(t, db.Create(&profile).Error)

	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	identity, err := svc.IdentityOf(context.Background(), profile.UserID)
	require.NoError(t, err)
	assert.Equal(t, "ravi", identity.Username)
	require.NotNil(t, identity.HomeCounterID)
	assert.Equal(t, counterID, *identity.HomeCounterID)
}

func TestIdentityOfUnknownUserForbidden(t *testing.T) {
	t.Parallel()
	svc, err := NewService(NewRepository(newTestDB(t)))
	require.NoError(t, err)

	_, err = svc.IdentityOf(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
}

func TestIdentityOfInactiveProfileForbidden(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	profile := models.StaffProfile{
		UserID:   uuid.New(),
		Username: "meena",
		IsActive: false,
	}
	require.NoError(t, db.Create(&profile).Error)

	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	_, err = svc.IdentityOf(context.Background(), profile.UserID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
}
