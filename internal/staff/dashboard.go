package staff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/enums"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
)

// CounterBacklog is the undelivered workload at one counter.
type CounterBacklog struct {
	CounterID    uuid.UUID `json:"counterId"`
	CounterName  string    `json:"counterName"`
	PendingItems int64     `json:"pendingItems"`
}

// DashboardSummary is the staff-facing snapshot of open work.
type DashboardSummary struct {
	ActiveTokens     int64            `json:"activeTokens"`
	PendingByCounter []CounterBacklog `json:"pendingByCounter"`
}

// DashboardService serves read-only aggregates for the staff dashboard.
type DashboardService interface {
	Summary(ctx context.Context) (*DashboardSummary, error)
}

type dashboardService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDashboardService builds the dashboard reader.
func NewDashboardService(db *gorm.DB) (DashboardService, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle required")
	}
	return &dashboardService{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *dashboardService) Summary(ctx context.Context) (*DashboardSummary, error) {
	summary := &DashboardSummary{PendingByCounter: []CounterBacklog{}}

	err := s.db.WithContext(ctx).
		Table("order_tokens").
		Where("status = ? AND expires_at > ?", enums.TokenStatusActive, s.now()).
		Count(&summary.ActiveTokens).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active tokens")
	}

	err = s.db.WithContext(ctx).
		Table("order_line_items").
		Select("order_line_items.counter_id AS counter_id, counters.name AS counter_name, COUNT(*) AS pending_items").
		Joins("JOIN counters ON counters.id = order_line_items.counter_id").
		Joins("JOIN orders ON orders.id = order_line_items.order_id").
		Where("order_line_items.delivered = ?", false).
		Where("orders.status IN ?", []enums.OrderStatus{
			enums.OrderStatusConfirmed,
			enums.OrderStatusPreparing,
			enums.OrderStatusReady,
		}).
		Group("order_line_items.counter_id, counters.name").
		Order("counters.name ASC").
		Scan(&summary.PendingByCounter).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate counter backlog")
	}

	return summary, nil
}
