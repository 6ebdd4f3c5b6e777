package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/enums"
)

// WalletTransaction is the immutable audit record of a wallet movement.
// Completed transactions are never edited in place except to stamp
// ProcessedAt once. RefundForID links a refund to the debit it reverses; the
// unique index enforces at most one refund per original transaction.
type WalletTransaction struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	WalletID    uuid.UUID               `gorm:"column:wallet_id;type:uuid;not null;index"`
	Type        enums.TransactionType   `gorm:"column:transaction_type;type:transaction_type_enum;not null;index"`
	Amount      decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	Description string                  `gorm:"column:description;not null"`
	ReferenceID string                  `gorm:"column:reference_id;size:255;index"`
	Status      enums.TransactionStatus `gorm:"column:status;type:transaction_status_enum;not null;default:pending;index"`

	BalanceBefore decimal.Decimal `gorm:"column:balance_before;type:numeric(12,2)"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after;type:numeric(12,2)"`

	OrderID     *uuid.UUID `gorm:"column:order_id;type:uuid;index"`
	RefundForID *uuid.UUID `gorm:"column:refund_for_id;type:uuid;uniqueIndex"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	ProcessedAt *time.Time `gorm:"column:processed_at;index"`
}

func (t *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
