package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/db"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

var (
	defaultDailyLimit   = decimal.NewFromInt(500)
	defaultMonthlyLimit = decimal.NewFromInt(5000)
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DebitInput describes a spend against a user's wallet.
type DebitInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Description string
	ReferenceID string
	OrderID     *uuid.UUID
}

// CreditInput describes a top-up or bonus.
type CreditInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Type        enums.TransactionType
	Description string
	ReferenceID string
}

// RefundInput reverses a completed debit. A zero Amount refunds the original
// in full; a positive Amount must not exceed it.
type RefundInput struct {
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Reason        string
}

// Service owns wallet balances and the transaction ledger.
type Service interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Debit(ctx context.Context, input DebitInput) (*models.WalletTransaction, error)
	DebitInTx(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.WalletTransaction, error)
	Credit(ctx context.Context, input CreditInput) (*models.WalletTransaction, error)
	Refund(ctx context.Context, input RefundInput) (*models.WalletTransaction, error)
	RefundInTx(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.WalletTransaction, error)
	RefundOrderInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.WalletTransaction, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

type service struct {
	repo WalletRepository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds a wallet service backed by the provided stack.
func NewService(repo WalletRepository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo: repo,
		tx:   tx,
		logg: logg,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureWallet returns the user's wallet, creating one with default limits on
// first use. A losing racer falls back to the winner's row.
func (s *service) EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.ensureWallet(ctx, s.repo, userID)
}

func (s *service) ensureWallet(ctx context.Context, repo WalletRepository, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := repo.FindByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	created, err := repo.Create(ctx, &models.Wallet{
		UserID:            userID,
		Balance:           decimal.Zero,
		Status:            enums.WalletStatusActive,
		DailySpendLimit:   defaultDailyLimit,
		MonthlySpendLimit: defaultMonthlyLimit,
		TotalCredited:     decimal.Zero,
		TotalDebited:      decimal.Zero,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.repoFind(ctx, repo, userID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	return created, nil
}

func (s *service) repoFind(ctx context.Context, repo WalletRepository, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

// GetByUserID loads the wallet without creating one.
func (s *service) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

// Debit spends from the wallet in its own transaction.
func (s *service) Debit(ctx context.Context, input DebitInput) (*models.WalletTransaction, error) {
	var txn *models.WalletTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.DebitInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// DebitInTx spends from the wallet inside the caller's transaction so order
// placement can make payment and stock reservation atomic.
func (s *service) DebitInTx(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.WalletTransaction, error) {
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	repo := s.repo.WithTx(tx)

	wallet, err := s.ensureWallet(ctx, repo, input.UserID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != enums.WalletStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeWalletFrozen, "wallet is not active").
			WithDetails(map[string]any{"status": wallet.Status})
	}
	if wallet.Balance.LessThan(input.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient wallet balance").
			WithDetails(map[string]any{"balance": wallet.Balance, "requested": input.Amount})
	}

	if wallet.DailySpendLimit.IsPositive() {
		startOfDay := s.startOfDay()
		spent, err := repo.SpentSince(ctx, wallet.ID, startOfDay)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum daily spend")
		}
		if spent.Add(input.Amount).GreaterThan(wallet.DailySpendLimit) {
			return nil, pkgerrors.New(pkgerrors.CodeDailyLimitExceeded, "daily spend limit exceeded").
				WithDetails(map[string]any{
					"limit":     wallet.DailySpendLimit,
					"spent":     spent,
					"requested": input.Amount,
				})
		}
	}

	newBalance, applied, err := repo.ApplyDebit(ctx, wallet.ID, input.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply wallet debit")
	}
	if !applied {
		// The precheck passed but a concurrent spender drained the
		// balance or froze the wallet before our update landed.
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "wallet debit rejected")
	}

	// Snapshots derive from the balance the update itself returned; the
	// wallet struct read above may be stale under concurrent spends.
	now := s.now()
	txn := &models.WalletTransaction{
		WalletID:      wallet.ID,
		Type:          enums.TransactionTypeDebit,
		Amount:        input.Amount,
		Description:   input.Description,
		ReferenceID:   input.ReferenceID,
		Status:        enums.TransactionStatusCompleted,
		BalanceBefore: newBalance.Add(input.Amount),
		BalanceAfter:  newBalance,
		OrderID:       input.OrderID,
		ProcessedAt:   &now,
	}
	created, err := repo.CreateTransaction(ctx, txn)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record wallet debit")
	}
	return created, nil
}

// Credit adds funds to the wallet.
func (s *service) Credit(ctx context.Context, input CreditInput) (*models.WalletTransaction, error) {
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	txnType := input.Type
	if txnType == "" {
		txnType = enums.TransactionTypeCredit
	}
	if !txnType.CreditsWallet() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction type does not credit the wallet").
			WithDetails(map[string]any{"type": txnType})
	}

	var created *models.WalletTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := s.ensureWallet(ctx, repo, input.UserID)
		if err != nil {
			return err
		}
		newBalance, applied, err := repo.ApplyCredit(ctx, wallet.ID, input.Amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply wallet credit")
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeWalletFrozen, "wallet is not active")
		}
		now := s.now()
		created, err = repo.CreateTransaction(ctx, &models.WalletTransaction{
			WalletID:      wallet.ID,
			Type:          txnType,
			Amount:        input.Amount,
			Description:   input.Description,
			ReferenceID:   input.ReferenceID,
			Status:        enums.TransactionStatusCompleted,
			BalanceBefore: newBalance.Sub(input.Amount),
			BalanceAfter:  newBalance,
			ProcessedAt:   &now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record wallet credit")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Refund reverses a completed debit in its own transaction.
func (s *service) Refund(ctx context.Context, input RefundInput) (*models.WalletTransaction, error) {
	var txn *models.WalletTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.RefundInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// RefundInTx reverses a completed debit inside the caller's transaction. The
// unique index on refund_for_id guarantees at most one refund per original
// even under concurrent cancellation.
func (s *service) RefundInTx(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.WalletTransaction, error) {
	repo := s.repo.WithTx(tx)

	original, err := repo.FindTransactionByID(ctx, input.TransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if original.Type != enums.TransactionTypeDebit {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only debits can be refunded")
	}
	if original.Status != enums.TransactionStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only completed debits can be refunded")
	}

	amount := input.Amount
	if amount.IsZero() {
		amount = original.Amount
	}
	if !amount.IsPositive() || amount.GreaterThan(original.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and at most the original").
			WithDetails(map[string]any{"requested": amount, "original": original.Amount})
	}

	wallet, err := repo.FindByID(ctx, original.WalletID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	newBalance, applied, err := repo.ApplyCredit(ctx, wallet.ID, amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply refund credit")
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeWalletFrozen, "wallet is not active")
	}

	now := s.now()
	refund := &models.WalletTransaction{
		WalletID:      wallet.ID,
		Type:          enums.TransactionTypeRefund,
		Amount:        amount,
		Description:   input.Reason,
		ReferenceID:   original.ReferenceID,
		Status:        enums.TransactionStatusCompleted,
		BalanceBefore: newBalance.Sub(amount),
		BalanceAfter:  newBalance,
		OrderID:       original.OrderID,
		RefundForID:   &original.ID,
		ProcessedAt:   &now,
	}
	created, err := repo.CreateTransaction(ctx, refund)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "transaction already refunded")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}

	s.logg.Info(s.logg.WithField(ctx, "transaction_id", original.ID.String()), "wallet debit refunded")
	return created, nil
}

// RefundOrderInTx reverses the debit that paid for an order, inside the
// caller's transaction.
func (s *service) RefundOrderInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.WalletTransaction, error) {
	repo := s.repo.WithTx(tx)
	debit, err := repo.FindDebitByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no wallet debit for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order debit")
	}
	return s.RefundInTx(ctx, tx, RefundInput{TransactionID: debit.ID, Reason: reason})
}

// Transactions lists the newest ledger entries for a user's wallet.
func (s *service) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	wallet, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListTransactions(ctx, wallet.ID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return rows, nil
}

func (s *service) startOfDay() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
