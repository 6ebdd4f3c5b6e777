package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/enums"
)

// OrderToken is the short-code handoff record between the student app and the
// counter stations. Payload is an immutable snapshot written at creation;
// delivery progress lives in CountersDelivered. Version backs the
// optimistic-concurrency guard on delivery updates.
type OrderToken struct {
	ID      uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Code    string            `gorm:"column:code;size:8;not null;uniqueIndex"`
	Status  enums.TokenStatus `gorm:"column:status;type:token_status_enum;not null;default:active;index:idx_order_tokens_expiry"`
	OrderID *uuid.UUID        `gorm:"column:order_id;type:uuid;index"`

	Payload           json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	CountersDelivered json.RawMessage `gorm:"column:counters_delivered;type:jsonb"`
	AllItemsDelivered bool            `gorm:"column:all_items_delivered;not null;default:false;index"`

	// StockReleased marks that the housekeeping job has returned this
	// token's undelivered reservations to stock after expiry.
	StockReleased bool `gorm:"column:stock_released;not null;default:false"`

	Version     int        `gorm:"column:version;not null;default:0"`
	GeneratedBy string     `gorm:"column:generated_by;size:255"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null;index:idx_order_tokens_expiry"`
	UsedAt      *time.Time `gorm:"column:used_at;index"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *OrderToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
