package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/db/models"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

// CacheInvalidator drops cached menu views for a counter whose stock changed.
type CacheInvalidator interface {
	InvalidateCounter(ctx context.Context, counterID uuid.UUID) error
}

// ReservationRequest asks to hold qty units of a food item for a placed order.
type ReservationRequest struct {
	FoodItemID uuid.UUID
	Qty        int
}

// Service owns stock movements. Reserve/Release run inside the caller's
// placement transaction; Deduct and ReconcileAvailability are standalone
// round-trips used by the delivery path.
type Service interface {
	GetItem(ctx context.Context, id uuid.UUID) (*models.FoodItem, error)
	Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) error
	Release(ctx context.Context, tx *gorm.DB, foodItemID uuid.UUID, qty int) error
	Deduct(ctx context.Context, foodItemID uuid.UUID, qty int) error
	ReconcileAvailability(ctx context.Context, foodItemID uuid.UUID) error
}

type service struct {
	db    *gorm.DB
	cache CacheInvalidator
	logg  *logger.Logger
}

// NewService builds the inventory service. The cache invalidator is optional.
func NewService(db *gorm.DB, cache CacheInvalidator, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle required")
	}
	return &service{db: db, cache: cache, logg: logg}, nil
}

func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*models.FoodItem, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "food item id required")
	}
	var item models.FoodItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "food item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load food item")
	}
	return &item, nil
}

// Reserve holds stock for every request or fails the whole batch. A hold
// moves units from stock into reserved, so the on-hand count is decremented
// exactly once per order: here for placed orders, or at delivery time for
// tokens minted without a placement.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reservation")
	}
	for _, req := range requests {
		if req.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive")
		}
		res := tx.WithContext(ctx).Exec(`
			UPDATE food_items
			SET stock = stock - ?,
				reserved = reserved + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND stock >= ?
		`, req.Qty, req.Qty, req.FoodItemID, req.Qty)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
		}
		if res.RowsAffected == 0 {
			return s.classifyShortfall(ctx, tx, req.FoodItemID, req.Qty)
		}
	}
	return nil
}

// Release returns held units to stock, e.g. after cancellation or token expiry.
func (s *service) Release(ctx context.Context, tx *gorm.DB, foodItemID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	res := tx.WithContext(ctx).Exec(`
		UPDATE food_items
		SET stock = stock + ?,
			reserved = reserved - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved >= ?
	`, qty, qty, foodItemID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
	}
	s.invalidateFor(ctx, foodItemID)
	return nil
}

// Deduct finalizes the stock decrement for delivered items. A matching
// reservation is consumed when one exists; otherwise the units come straight
// off stock (tokens created outside the placement flow carry no hold).
func (s *service) Deduct(ctx context.Context, foodItemID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "deduction quantity must be positive")
	}

	res := s.db.WithContext(ctx).Exec(`
		UPDATE food_items
		SET reserved = reserved - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved >= ?
	`, qty, foodItemID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "consume reservation")
	}
	if res.RowsAffected == 0 {
		res = s.db.WithContext(ctx).Exec(`
			UPDATE food_items
			SET stock = stock - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND stock >= ?
		`, qty, foodItemID, qty)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deduct inventory")
		}
		if res.RowsAffected == 0 {
			return s.classifyShortfall(ctx, s.db, foodItemID, qty)
		}
	}

	s.invalidateFor(ctx, foodItemID)
	return nil
}

// ReconcileAvailability flips is_available off when stock has hit exactly
// zero. The reverse transition is a menu-management concern, not ours.
func (s *service) ReconcileAvailability(ctx context.Context, foodItemID uuid.UUID) error {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE food_items
		SET is_available = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock = 0 AND is_available = ?
	`, false, foodItemID, true)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reconcile availability")
	}
	if res.RowsAffected > 0 {
		s.invalidateFor(ctx, foodItemID)
	}
	return nil
}

func (s *service) classifyShortfall(ctx context.Context, db *gorm.DB, foodItemID uuid.UUID, qty int) error {
	var item models.FoodItem
	err := db.WithContext(ctx).Where("id = ?", foodItemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "food item not found")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load food item")
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"food_item_id": foodItemID,
			"requested":    qty,
			"stock":        item.Stock,
		})
}

func (s *service) invalidateFor(ctx context.Context, foodItemID uuid.UUID) {
	if s.cache == nil {
		return
	}
	var item models.FoodItem
	if err := s.db.WithContext(ctx).Select("counter_id").Where("id = ?", foodItemID).First(&item).Error; err != nil {
		return
	}
	if err := s.cache.InvalidateCounter(ctx, item.CounterID); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "counter_id", item.CounterID.String()), "menu cache invalidation failed")
	}
}
