package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderLineItem snapshots one ordered food item. Name and price are copied at
// placement time so later menu edits do not rewrite order history.
type OrderLineItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	FoodItemID  uuid.UUID       `gorm:"column:food_item_id;type:uuid;not null;index"`
	CounterID   uuid.UUID       `gorm:"column:counter_id;type:uuid;not null;index"`
	Name        string          `gorm:"column:name;size:100;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(8,2);not null"`
	TotalPrice  decimal.Decimal `gorm:"column:total_price;type:numeric(10,2);not null"`
	Delivered   bool            `gorm:"column:delivered;not null;default:false"`
	DeliveredAt *time.Time      `gorm:"column:delivered_at"`
	DeliveredBy *string         `gorm:"column:delivered_by;size:255"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderLineItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
