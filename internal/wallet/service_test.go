package wallet

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

	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:wallet_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Wallet{}, &models.WalletTransaction{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	svc, err := NewService(NewRepository(db), &gormTxRunner{db: db}, logg)
	require.NoError(t, err)
	return svc
}

func topUp(t *testing.T, svc Service, userID uuid.UUID, amount int64) {
	t.Helper()
	_, err := svc.Credit(context.Background(), CreditInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(amount),
		Description: "top up",
	})
	require.NoError(t, err)
}

func TestEnsureWalletCreatesWithDefaults(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))
	userID := uuid.New()

	wallet, err := svc.EnsureWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, enums.WalletStatusActive, wallet.Status)
	assert.True(t, wallet.Balance.IsZero())
	assert.True(t, wallet.DailySpendLimit.Equal(decimal.NewFromInt(500)))

	// Second call returns the same wallet.
	again, err := svc.EnsureWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, again.ID)
}

func TestDebitHappyPathWritesLedger(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)
	userID := uuid.New()
	topUp(t, svc, userID, 200)

	orderID := uuid.New()
	txn, err := svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(80),
		Description: "order payment",
		OrderID:     &orderID,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypeDebit, txn.Type)
	assert.Equal(t, enums.TransactionStatusCompleted, txn.Status)
	assert.True(t, txn.BalanceBefore.Equal(decimal.NewFromInt(200)))
	assert.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(120)))
	require.NotNil(t, txn.ProcessedAt)

	wallet, err := svc.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(120)))
	assert.True(t, wallet.TotalDebited.Equal(decimal.NewFromInt(80)))
}

func TestDebitInsufficientBalance(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))
	userID := uuid.New()
	topUp(t, svc, userID, 50)

	_, err := svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(80),
		Description: "order payment",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientBalance))
}

func TestDebitFrozenWallet(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)
	userID := uuid.New()
	topUp(t, svc, userID, 100)

	require.NoError(t, db.Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Update("status", enums.WalletStatusFrozen).Error)

	_, err := svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(10),
		Description: "order payment",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeWalletFrozen))
}

func TestDebitDailyLimit(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)
	userID := uuid.New()
	topUp(t, svc, userID, 2000)

	require.NoError(t, db.Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Update("daily_spend_limit", decimal.NewFromInt(100)).Error)

	_, err := svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(60),
		Description: "lunch",
	})
	require.NoError(t, err)

	_, err = svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(60),
		Description: "second lunch",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDailyLimitExceeded))
}

func TestCreditRejectsDebitType(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))

	_, err := svc.Credit(context.Background(), CreditInput{
		UserID:      uuid.New(),
		Amount:      decimal.NewFromInt(10),
		Type:        enums.TransactionTypeDebit,
		Description: "nope",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestRefundRestoresBalanceOnce(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)
	userID := uuid.New()
	topUp(t, svc, userID, 100)

	debit, err := svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(40),
		Description: "order payment",
	})
	require.NoError(t, err)

	refund, err := svc.Refund(context.Background(), RefundInput{
		TransactionID: debit.ID,
		Reason:        "order cancelled",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypeRefund, refund.Type)
	require.NotNil(t, refund.RefundForID)
	assert.Equal(t, debit.ID, *refund.RefundForID)

	wallet, err := svc.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))

	// A second refund of the same debit is rejected.
	_, err = svc.Refund(context.Background(), RefundInput{
		TransactionID: debit.ID,
		Reason:        "double dip",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestPartialRefund(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)
	userID := uuid.New()
	topUp(t, svc, userID, 100)

	debit, err := svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(80),
		Description: "order payment",
	})
	require.NoError(t, err)

	refund, err := svc.Refund(context.Background(), RefundInput{
		TransactionID: debit.ID,
		Amount:        decimal.NewFromInt(30),
		Reason:        "one item out of stock",
	})
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(30)))
	assert.True(t, refund.BalanceBefore.Equal(decimal.NewFromInt(20)))
	assert.True(t, refund.BalanceAfter.Equal(decimal.NewFromInt(50)))

	wallet, err := svc.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50)))

	// The remainder cannot be clawed back later, one refund per debit.
	_, err = svc.Refund(context.Background(), RefundInput{
		TransactionID: debit.ID,
		Amount:        decimal.NewFromInt(50),
		Reason:        "rest of it",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestRefundRejectsExcessAmount(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)
	userID := uuid.New()
	topUp(t, svc, userID, 100)

	debit, err := svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(40),
		Description: "order payment",
	})
	require.NoError(t, err)

	for _, amount := range []decimal.Decimal{decimal.NewFromInt(41), decimal.NewFromInt(-5)} {
		_, err = svc.Refund(context.Background(), RefundInput{
			TransactionID: debit.ID,
			Amount:        amount,
			Reason:        "bad amount",
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	}

	wallet, err := svc.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(60)))
}

func TestRefundRejectsNonDebit(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newTestDB(t))
	userID := uuid.New()

	credit, err := svc.Credit(context.Background(), CreditInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(25),
		Description: "top up",
	})
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), RefundInput{TransactionID: credit.ID, Reason: "nope"})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestApplyDebitReturnsPostUpdateBalance(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	wallet, err := repo.Create(ctx, &models.Wallet{
		UserID:  uuid.New(),
		Balance: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	// A spend the caller never observed moves the row first.
	_, applied, err := repo.ApplyDebit(ctx, wallet.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	require.True(t, applied)

	// The next debit reports the balance the row actually moved to, not
	// anything derived from the stale struct above.
	balance, applied, err := repo.ApplyDebit(ctx, wallet.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	require.True(t, applied)
	assert.True(t, balance.Equal(decimal.NewFromInt(20)), "got %s", balance)

	// Uncovered debits leave the row alone.
	_, applied, err = repo.ApplyDebit(ctx, wallet.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	assert.False(t, applied)

	balance, applied, err = repo.ApplyCredit(ctx, wallet.ID, decimal.NewFromInt(15))
	require.NoError(t, err)
	require.True(t, applied)
	assert.True(t, balance.Equal(decimal.NewFromInt(35)), "got %s", balance)
}

func TestTransactionsNewestFirst(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := newTestService(t, db)
	userID := uuid.New()
	topUp(t, svc, userID, 100)
	time.Sleep(5 * time.Millisecond)
	_, err := svc.Debit(context.Background(), DebitInput{
		UserID:      userID,
		Amount:      decimal.NewFromInt(30),
		Description: "order payment",
	})
	require.NoError(t, err)

	rows, err := svc.Transactions(context.Background(), userID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.TransactionTypeDebit, rows[0].Type)
	assert.Equal(t, enums.TransactionTypeCredit, rows[1].Type)
}
