package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
)

// WalletRepository exposes persistence operations for wallets and their
// transaction ledger.
type WalletRepository interface {
	WithTx(tx *gorm.DB) WalletRepository
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	Create(ctx context.Context, wallet *models.Wallet) (*models.Wallet, error)
	ApplyDebit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error)
	ApplyCredit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error)
	SpentSince(ctx context.Context, walletID uuid.UUID, since time.Time) (decimal.Decimal, error)
	CreateTransaction(ctx context.Context, txn *models.WalletTransaction) (*models.WalletTransaction, error)
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error)
	FindDebitByOrderID(ctx context.Context, orderID uuid.UUID) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

// Repository is the gorm-backed wallet store.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a wallet repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) WalletRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByUserID loads the wallet owned by a user.
func (r *Repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// FindByID loads a wallet by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// Create inserts a new wallet row.
func (r *Repository) Create(ctx context.Context, wallet *models.Wallet) (*models.Wallet, error) {
	if wallet.Status == "" {
		wallet.Status = enums.WalletStatusActive
	}
	if err := r.db.WithContext(ctx).Create(wallet).Error; err != nil {
		return nil, err
	}
	return wallet, nil
}

// ApplyDebit decrements the balance when the wallet is active and covered.
// Returns the post-debit balance from the same atomic update so ledger
// snapshots cannot drift from what the row actually moved to. Applied is
// false when the guard did not hold.
func (r *Repository) ApplyDebit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	now := time.Now().UTC()
	var row struct {
		Balance decimal.Decimal
	}
	res := r.db.WithContext(ctx).Raw(`
		UPDATE wallets
		SET balance = balance - ?,
			total_debited = total_debited + ?,
			last_transaction_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ? AND balance >= ?
		RETURNING balance
	`, amount, amount, now, now, walletID, enums.WalletStatusActive, amount).Scan(&row)
	if res.Error != nil {
		return decimal.Zero, false, res.Error
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, false, nil
	}
	return row.Balance, true, nil
}

// ApplyCredit increments the balance of an active wallet and returns the
// post-credit balance from the same atomic update.
func (r *Repository) ApplyCredit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	now := time.Now().UTC()
	var row struct {
		Balance decimal.Decimal
	}
	res := r.db.WithContext(ctx).Raw(`
		UPDATE wallets
		SET balance = balance + ?,
			total_credited = total_credited + ?,
			last_transaction_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING balance
	`, amount, amount, now, now, walletID, enums.WalletStatusActive).Scan(&row)
	if res.Error != nil {
		return decimal.Zero, false, res.Error
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, false, nil
	}
	return row.Balance, true, nil
}

// SpentSince sums completed debit-side transactions created at or after the
// cutoff, the input to daily limit enforcement.
func (r *Repository) SpentSince(ctx context.Context, walletID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var raw *string
	err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("SUM(amount)").
		Where("wallet_id = ?", walletID).
		Where("transaction_type IN ?", []enums.TransactionType{enums.TransactionTypeDebit, enums.TransactionTypeFee}).
		Where("status = ?", enums.TransactionStatusCompleted).
		Where("created_at >= ?", since).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

// CreateTransaction appends a ledger entry.
func (r *Repository) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) (*models.WalletTransaction, error) {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// FindTransactionByID loads one ledger entry.
func (r *Repository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindDebitByOrderID loads the completed debit that paid for an order.
func (r *Repository) FindDebitByOrderID(ctx context.Context, orderID uuid.UUID) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND transaction_type = ? AND status = ?",
			orderID, enums.TransactionTypeDebit, enums.TransactionStatusCompleted).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactions returns the newest ledger entries for a wallet.
func (r *Repository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
