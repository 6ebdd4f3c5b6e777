package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/enums"
)

// Order is a student's placed order. Fulfillment state is tracked on the
// order token; the order row carries payment and lifecycle status.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	StudentID     uuid.UUID           `gorm:"column:student_id;type:uuid;not null;index"`
	TotalAmount   decimal.Decimal     `gorm:"column:total_amount;type:numeric(10,2);not null"`
	Status        enums.OrderStatus   `gorm:"column:status;type:order_status_enum;not null;default:pending;index"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:payment_method_enum;not null;default:cash"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:payment_status_enum;not null;default:pending;index"`
	Notes         *string             `gorm:"column:notes"`
	Items         []OrderLineItem     `gorm:"foreignKey:OrderID"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt   *time.Time          `gorm:"column:completed_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
