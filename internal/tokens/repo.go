package tokens

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
)

// TokenRepository exposes persistence operations for order tokens.
type TokenRepository interface {
	WithTx(tx *gorm.DB) TokenRepository
	Create(ctx context.Context, token *models.OrderToken) (*models.OrderToken, error)
	FindByCode(ctx context.Context, code string) (*models.OrderToken, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderToken, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
	ApplyDelivery(ctx context.Context, token *models.OrderToken, expectedVersion int) (bool, error)
	ListExpiredUnreleased(ctx context.Context, limit int) ([]models.OrderToken, error)
	MarkStockReleased(ctx context.Context, id uuid.UUID) (bool, error)
}

// Repository is the gorm-backed token store.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a token repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) TokenRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new token row.
func (r *Repository) Create(ctx context.Context, token *models.OrderToken) (*models.OrderToken, error) {
	if token.Status == "" {
		token.Status = enums.TokenStatusActive
	}
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, err
	}
	return token, nil
}

// FindByCode loads a token by its handoff code.
func (r *Repository) FindByCode(ctx context.Context, code string) (*models.OrderToken, error) {
	var token models.OrderToken
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// FindByOrderID loads the newest token minted for an order.
func (r *Repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.OrderToken, error) {
	var token models.OrderToken
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// CodeExists reports whether any token already carries the code.
func (r *Repository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderToken{}).
		Where("code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkExpired flips an active token to expired. Returns false when the token
// already left the active state, which makes the transition idempotent under
// concurrent observers.
func (r *Repository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderToken{}).
		Where("id = ? AND status = ?", id, enums.TokenStatusActive).
		Updates(map[string]any{
			"status":     enums.TokenStatusExpired,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ApplyDelivery persists the mutated delivery state of a token, guarded by
// the version the caller read. Returns false when another writer got there
// first; the caller reloads and retries.
func (r *Repository) ApplyDelivery(ctx context.Context, token *models.OrderToken, expectedVersion int) (bool, error) {
	updates := map[string]any{
		"counters_delivered":  token.CountersDelivered,
		"all_items_delivered": token.AllItemsDelivered,
		"status":              token.Status,
		"used_at":             token.UsedAt,
		"version":             expectedVersion + 1,
		"updated_at":          time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).
		Model(&models.OrderToken{}).
		Where("id = ? AND version = ? AND status = ?", token.ID, expectedVersion, enums.TokenStatusActive).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		token.Version = expectedVersion + 1
	}
	return res.RowsAffected > 0, nil
}

// ListExpiredUnreleased pages through expired or overdue tokens whose
// reservations have not been returned to stock yet.
func (r *Repository) ListExpiredUnreleased(ctx context.Context, limit int) ([]models.OrderToken, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.OrderToken
	err := r.db.WithContext(ctx).
		Where("stock_released = ?", false).
		Where(
			r.db.Where("status = ?", enums.TokenStatusExpired).
				Or("status = ? AND expires_at <= ?", enums.TokenStatusActive, time.Now().UTC()),
		).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkStockReleased records that housekeeping returned this token's holds.
func (r *Repository) MarkStockReleased(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderToken{}).
		Where("id = ? AND stock_released = ?", id, false).
		Updates(map[string]any{
			"stock_released": true,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
