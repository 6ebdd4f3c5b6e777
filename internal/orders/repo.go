package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
)

// OrderRepository exposes persistence operations for orders and line items.
type OrderRepository interface {
	WithTx(tx *gorm.DB) OrderRepository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status enums.PaymentStatus) error
	MarkItemsDelivered(ctx context.Context, lineItemIDs []uuid.UUID, deliveredBy string, at time.Time) error
	CountUndelivered(ctx context.Context, orderID uuid.UUID) (int64, error)
	UndeliveredItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
	Complete(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
}

// Repository is the gorm-backed order store.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an order repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) OrderRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts the order together with its line items.
func (r *Repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

// FindByID loads an order with its items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListByStudent returns the student's newest orders.
func (r *Repository) ListByStudent(ctx context.Context, studentID uuid.UUID, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateStatus transitions the order status only from the allowed set.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetPaymentStatus stamps the order's payment state.
func (r *Repository) SetPaymentStatus(ctx context.Context, id uuid.UUID, status enums.PaymentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"payment_status": status,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// MarkItemsDelivered stamps line items as handed over. Already delivered rows
// are untouched so repeated confirmations stay idempotent.
func (r *Repository) MarkItemsDelivered(ctx context.Context, lineItemIDs []uuid.UUID, deliveredBy string, at time.Time) error {
	if len(lineItemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.OrderLineItem{}).
		Where("id IN ? AND delivered = ?", lineItemIDs, false).
		Updates(map[string]any{
			"delivered":    true,
			"delivered_at": at,
			"delivered_by": deliveredBy,
		}).Error
}

// CountUndelivered returns how many line items are still pending.
func (r *Repository) CountUndelivered(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderLineItem{}).
		Where("order_id = ? AND delivered = ?", orderID, false).
		Count(&count).Error
	return count, err
}

// UndeliveredItems lists the line items still awaiting handoff.
func (r *Repository) UndeliveredItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	var rows []models.OrderLineItem
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND delivered = ?", orderID, false).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Complete closes a delivered order. Cancelled or already completed orders
// are left alone.
func (r *Repository) Complete(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status NOT IN ?", orderID, []enums.OrderStatus{
			enums.OrderStatusCompleted,
			enums.OrderStatusCancelled,
		}).
		Updates(map[string]any{
			"status":       enums.OrderStatusCompleted,
			"completed_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
