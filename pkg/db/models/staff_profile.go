package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StaffProfile maps a user account to its canteen staff identity. Every staff
// member has a home counter; deliveries from other counters are allowed but
// recorded as cross-counter assistance.
type StaffProfile struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Username      string     `gorm:"column:username;size:150;not null;uniqueIndex"`
	HomeCounterID *uuid.UUID `gorm:"column:home_counter_id;type:uuid;index"`
	IsActive      bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *StaffProfile) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
