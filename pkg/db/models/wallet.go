package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/enums"
)

// Wallet holds one user's spendable balance. Created lazily on first use.
type Wallet struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID          `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Balance           decimal.Decimal    `gorm:"column:balance;type:numeric(12,2);not null"`
	Status            enums.WalletStatus `gorm:"column:status;type:wallet_status_enum;not null;default:active;index"`
	DailySpendLimit   decimal.Decimal    `gorm:"column:daily_spend_limit;type:numeric(10,2);not null"`
	MonthlySpendLimit decimal.Decimal    `gorm:"column:monthly_spend_limit;type:numeric(12,2);not null"`
	TotalCredited     decimal.Decimal    `gorm:"column:total_credited;type:numeric(15,2);not null"`
	TotalDebited      decimal.Decimal    `gorm:"column:total_debited;type:numeric(15,2);not null"`
	LastTransactionAt *time.Time         `gorm:"column:last_transaction_at;index"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
