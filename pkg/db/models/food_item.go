package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FoodItem is a menu entry served from one counter. Stock is the on-hand
// quantity still sellable; Reserved holds quantities committed to placed but
// not yet delivered orders. stock == 0 does not force is_available == false
// at the database level; availability is reconciled after every deduction.
type FoodItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CounterID   uuid.UUID       `gorm:"column:counter_id;type:uuid;not null;index:idx_food_items_counter_name,unique"`
	Name        string          `gorm:"column:name;size:100;not null;index:idx_food_items_counter_name,unique"`
	Description string          `gorm:"column:description"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(8,2);not null"`
	Stock       int             `gorm:"column:stock;not null;default:0"`
	Reserved    int             `gorm:"column:reserved;not null;default:0"`
	IsAvailable bool            `gorm:"column:is_available;not null;default:true;index"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *FoodItem) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
