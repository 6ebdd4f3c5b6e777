package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/db"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
	"github.com/kgbytes/canteen-backend/pkg/redis"
)

// cacheStore is the slice of the redis client the menu needs.
type cacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	MenuKey(counterID string) string
}

// CounterMenu is the student-facing view of one counter.
type CounterMenu struct {
	CounterID   uuid.UUID  `json:"counter_id"`
	CounterName string     `json:"counter_name"`
	Items       []MenuItem `json:"items"`
}

// MenuItem is one purchasable entry.
type MenuItem struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	IsAvailable bool            `json:"is_available"`
}

// CreateCounterInput names a new counter.
type CreateCounterInput struct {
	Name        string
	Description *string
}

// CreateItemInput describes a new food item.
type CreateItemInput struct {
	CounterID   uuid.UUID
	Name        string
	Description *string
	Price       decimal.Decimal
	Stock       int
}

// UpdateItemInput carries optional field updates; nil means unchanged.
type UpdateItemInput struct {
	Price       *decimal.Decimal
	Stock       *int
	IsAvailable *bool
}

// Service owns counters and food items, with a per-counter read cache.
type Service interface {
	Counters(ctx context.Context) ([]models.Counter, error)
	CounterMenu(ctx context.Context, counterID uuid.UUID) (*CounterMenu, error)
	CreateCounter(ctx context.Context, input CreateCounterInput) (*models.Counter, error)
	CreateItem(ctx context.Context, input CreateItemInput) (*models.FoodItem, error)
	UpdateItem(ctx context.Context, itemID uuid.UUID, input UpdateItemInput) (*models.FoodItem, error)
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	InvalidateCounter(ctx context.Context, counterID uuid.UUID) error
}

type service struct {
	db       *gorm.DB
	cache    cacheStore
	cacheTTL time.Duration
	logg     *logger.Logger
}

// NewService builds the menu service. The cache is optional; without it every
// read goes to the database.
func NewService(gdb *gorm.DB, cache cacheStore, cacheTTL time.Duration, logg *logger.Logger) (Service, error) {
	if gdb == nil {
		return nil, fmt.Errorf("db handle required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &service{db: gdb, cache: cache, cacheTTL: cacheTTL, logg: logg}, nil
}

// Counters lists all counters ordered by name.
func (s *service) Counters(ctx context.Context) ([]models.Counter, error) {
	var rows []models.Counter
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list counters")
	}
	return rows, nil
}

// CounterMenu returns the available items at a counter, served from cache
// when warm. Cache failures degrade to the database silently.
func (s *service) CounterMenu(ctx context.Context, counterID uuid.UUID) (*CounterMenu, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, s.cache.MenuKey(counterID.String()))
		if err == nil {
			var view CounterMenu
			if jsonErr := json.Unmarshal([]byte(cached), &view); jsonErr == nil {
				return &view, nil
			}
		} else if !redis.IsNil(err) {
			s.logg.Warn(s.logg.WithCounterID(ctx, counterID.String()), "menu cache read failed")
		}
	}

	var counter models.Counter
	err := s.db.WithContext(ctx).Where("id = ?", counterID).First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "counter not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load counter")
	}

	var items []models.FoodItem
	err = s.db.WithContext(ctx).
		Where("counter_id = ? AND is_available = ?", counterID, true).
		Order("name ASC").
		Find(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list food items")
	}

	view := &CounterMenu{
		CounterID:   counter.ID,
		CounterName: counter.Name,
		Items:       make([]MenuItem, 0, len(items)),
	}
	for _, item := range items {
		desc := item.Description
		view.Items = append(view.Items, MenuItem{
			ID:          item.ID,
			Name:        item.Name,
			Description: &desc,
			Price:       item.Price,
			Stock:       item.Stock,
			IsAvailable: item.IsAvailable,
		})
	}

	if s.cache != nil {
		if raw, err := json.Marshal(view); err == nil {
			if err := s.cache.Set(ctx, s.cache.MenuKey(counterID.String()), string(raw), s.cacheTTL); err != nil {
				s.logg.Warn(s.logg.WithCounterID(ctx, counterID.String()), "menu cache write failed")
			}
		}
	}
	return view, nil
}

// CreateCounter registers a new counter.
func (s *service) CreateCounter(ctx context.Context, input CreateCounterInput) (*models.Counter, error) {
	if input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "counter name required")
	}
	counter := &models.Counter{Name: input.Name, Description: input.Description}
	if err := s.db.WithContext(ctx).Create(counter).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "counter name already taken")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create counter")
	}
	return counter, nil
}

// CreateItem adds a food item to a counter's menu.
func (s *service) CreateItem(ctx context.Context, input CreateItemInput) (*models.FoodItem, error) {
	if input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item name required")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
	}
	if input.Stock < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock cannot be negative")
	}
	item := &models.FoodItem{
		CounterID:   input.CounterID,
		Name:        input.Name,
		Price:       input.Price,
		Stock:       input.Stock,
		IsAvailable: input.Stock > 0,
	}
	if input.Description != nil {
		item.Description = *input.Description
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "item already exists at this counter")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create food item")
	}
	_ = s.InvalidateCounter(ctx, input.CounterID)
	return item, nil
}

// UpdateItem applies partial edits to a food item and drops the counter's
// cached menu.
func (s *service) UpdateItem(ctx context.Context, itemID uuid.UUID, input UpdateItemInput) (*models.FoodItem, error) {
	var item models.FoodItem
	err := s.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "food item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load food item")
	}

	updates := map[string]any{}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
		}
		updates["price"] = *input.Price
	}
	if input.Stock != nil {
		if *input.Stock < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock cannot be negative")
		}
		updates["stock"] = *input.Stock
	}
	if input.IsAvailable != nil {
		updates["is_available"] = *input.IsAvailable
	}
	if len(updates) == 0 {
		return &item, nil
	}
	updates["updated_at"] = time.Now().UTC()

	err = s.db.WithContext(ctx).Model(&models.FoodItem{}).Where("id = ?", itemID).Updates(updates).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update food item")
	}
	_ = s.InvalidateCounter(ctx, item.CounterID)

	if err := s.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload food item")
	}
	return &item, nil
}

// DeleteItem removes a food item from sale and drops the counter's cached
// menu. Line items on past orders keep their snapshot columns, so history
// survives the row.
func (s *service) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	var item models.FoodItem
	err := s.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "food item not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load food item")
	}

	if err := s.db.WithContext(ctx).Delete(&models.FoodItem{}, "id = ?", itemID).Error; err != nil {
		if db.IsForeignKeyViolation(err) {
			return pkgerrors.New(pkgerrors.CodeConflict, "food item has order history, mark it unavailable instead")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete food item")
	}
	_ = s.InvalidateCounter(ctx, item.CounterID)

	s.logg.Info(s.logg.WithField(ctx, "food_item_id", itemID.String()), "food item deleted")
	return nil
}

// InvalidateCounter drops the cached menu for a counter. Inventory calls this
// whenever stock moves.
func (s *service) InvalidateCounter(ctx context.Context, counterID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, s.cache.MenuKey(counterID.String()))
}
