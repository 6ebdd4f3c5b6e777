package staff

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/db/models"
)

// StaffRepository exposes persistence operations for staff profiles.
type StaffRepository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.StaffProfile, error)
	FindByUsername(ctx context.Context, username string) (*models.StaffProfile, error)
	Create(ctx context.Context, profile *models.StaffProfile) (*models.StaffProfile, error)
	SetHomeCounter(ctx context.Context, id uuid.UUID, counterID *uuid.UUID) error
}

// Repository is the gorm-backed staff store.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a staff repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByUserID loads the staff profile for a user account.
func (r *Repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.StaffProfile, error) {
	var profile models.StaffProfile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindByUsername loads the staff profile by its unique username.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*models.StaffProfile, error) {
	var profile models.StaffProfile
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Create inserts a new staff profile.
func (r *Repository) Create(ctx context.Context, profile *models.StaffProfile) (*models.StaffProfile, error) {
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		return nil, err
	}
	return profile, nil
}

// SetHomeCounter reassigns the staff member's home counter.
func (r *Repository) SetHomeCounter(ctx context.Context, id uuid.UUID, counterID *uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.StaffProfile{}).
		Where("id = ?", id).
		Update("home_counter_id", counterID).Error
}
