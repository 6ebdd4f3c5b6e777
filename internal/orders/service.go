package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/internal/inventory"
	"github.com/kgbytes/canteen-backend/internal/tokens"
	"github.com/kgbytes/canteen-backend/internal/wallet"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// stockReserver is the slice of the inventory service placement needs.
type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, requests []inventory.ReservationRequest) error
	Release(ctx context.Context, tx *gorm.DB, foodItemID uuid.UUID, qty int) error
}

// walletCharger is the slice of the wallet service placement needs.
type walletCharger interface {
	DebitInTx(ctx context.Context, tx *gorm.DB, input wallet.DebitInput) (*models.WalletTransaction, error)
	RefundOrderInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (*models.WalletTransaction, error)
}

// tokenMinter is the slice of the token service placement needs.
type tokenMinter interface {
	CreateInTx(ctx context.Context, tx *gorm.DB, input tokens.CreateInput) (*models.OrderToken, error)
	Repo() tokens.TokenRepository
}

// PlaceItem is one requested food item.
type PlaceItem struct {
	FoodItemID uuid.UUID
	Quantity   int
}

// PlaceInput describes a new order.
type PlaceInput struct {
	StudentID     uuid.UUID
	PaymentMethod enums.PaymentMethod
	Notes         *string
	Items         []PlaceItem
}

// PlaceResult bundles the created order with its handoff token.
type PlaceResult struct {
	Order *models.Order
	Token *models.OrderToken
}

// Service owns order placement and cancellation.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (*PlaceResult, error)
	Cancel(ctx context.Context, orderID, studentID uuid.UUID) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit int) ([]models.Order, error)
	MarkItemsDelivered(ctx context.Context, lineItemIDs []uuid.UUID, deliveredBy string, at time.Time) error
	CompleteIfFullyDelivered(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	repo      OrderRepository
	db        *gorm.DB
	tx        txRunner
	inventory stockReserver
	wallets   walletCharger
	tokens    tokenMinter
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the order service backed by the provided stack.
func NewService(
	repo OrderRepository,
	gdb *gorm.DB,
	tx txRunner,
	inv stockReserver,
	wallets walletCharger,
	tokenSvc tokenMinter,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if gdb == nil {
		return nil, fmt.Errorf("db handle required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if wallets == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if tokenSvc == nil {
		return nil, fmt.Errorf("token service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		db:        gdb,
		tx:        tx,
		inventory: inv,
		wallets:   wallets,
		tokens:    tokenSvc,
		logg:      logg,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Place validates the cart, then atomically creates the order, charges the
// wallet when that is the payment method, reserves stock and mints the
// handoff token. Any failure unwinds the whole placement.
func (s *service) Place(ctx context.Context, input PlaceInput) (*PlaceResult, error) {
	if input.StudentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method").
			WithDetails(map[string]any{"payment_method": input.PaymentMethod})
	}
	quantities, err := mergeItems(input.Items)
	if err != nil {
		return nil, err
	}

	items, err := s.loadFoodItems(ctx, quantities)
	if err != nil {
		return nil, err
	}

	lineItems, total := buildLineItems(items, quantities)

	var result PlaceResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		paymentStatus := enums.PaymentStatusPending
		if input.PaymentMethod == enums.PaymentMethodWallet {
			paymentStatus = enums.PaymentStatusPaid
		}
		order := &models.Order{
			StudentID:     input.StudentID,
			TotalAmount:   total,
			Status:        enums.OrderStatusConfirmed,
			PaymentMethod: input.PaymentMethod,
			PaymentStatus: paymentStatus,
			Notes:         input.Notes,
			Items:         lineItems,
		}
		created, err := repo.Create(ctx, order)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		if input.PaymentMethod == enums.PaymentMethodWallet {
			_, err := s.wallets.DebitInTx(ctx, tx, wallet.DebitInput{
				UserID:      input.StudentID,
				Amount:      total,
				Description: "canteen order payment",
				ReferenceID: created.ID.String(),
				OrderID:     &created.ID,
			})
			if err != nil {
				return err
			}
		}

		requests := make([]inventory.ReservationRequest, 0, len(created.Items))
		for _, item := range created.Items {
			requests = append(requests, inventory.ReservationRequest{
				FoodItemID: item.FoodItemID,
				Qty:        item.Quantity,
			})
		}
		if err := s.inventory.Reserve(ctx, tx, requests); err != nil {
			return err
		}

		token, err := s.tokens.CreateInTx(ctx, tx, tokens.CreateInput{
			Payload:     buildPayload(created),
			GeneratedBy: "student:" + input.StudentID.String(),
		})
		if err != nil {
			return err
		}

		result.Order = created
		result.Token = token
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":   result.Order.ID.String(),
		"token_code": result.Token.Code,
	}), "order placed")
	return &result, nil
}

// Cancel unwinds an undelivered order: expires its token, returns held stock
// and refunds a wallet payment. Orders past the cancellable states are
// rejected with a conflict.
func (s *service) Cancel(ctx context.Context, orderID, studentID uuid.UUID) (*models.Order, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		tokenRepo := s.tokens.Repo().WithTx(tx)

		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.StudentID != studentID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another student")
		}
		if !order.Status.IsCancellable() {
			return pkgerrors.New(pkgerrors.CodeConflict, "order can no longer be cancelled").
				WithDetails(map[string]any{"status": order.Status})
		}

		changed, err := repo.UpdateStatus(ctx, orderID, []enums.OrderStatus{
			enums.OrderStatusPending,
			enums.OrderStatusConfirmed,
		}, enums.OrderStatusCancelled)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeConflict, "order can no longer be cancelled")
		}

		// The token may already be used for some counters; only an
		// active token is pulled out of circulation.
		token, err := tokenRepo.FindByOrderID(ctx, orderID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order token")
		}
		if token != nil && token.Status == enums.TokenStatusActive {
			if _, err := tokenRepo.MarkExpired(ctx, token.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire order token")
			}
		}

		// Return undelivered holds to stock and stop the housekeeping
		// job from releasing them again.
		pending, err := repo.UndeliveredItems(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list undelivered items")
		}
		for _, item := range pending {
			if err := s.inventory.Release(ctx, tx, item.FoodItemID, item.Quantity); err != nil {
				return err
			}
		}
		if token != nil {
			if _, err := tokenRepo.MarkStockReleased(ctx, token.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark token stock released")
			}
		}

		if order.PaymentMethod == enums.PaymentMethodWallet && order.PaymentStatus == enums.PaymentStatusPaid {
			if _, err := s.wallets.RefundOrderInTx(ctx, tx, orderID, "order cancelled"); err != nil {
				return err
			}
			if err := repo.SetPaymentStatus(ctx, orderID, enums.PaymentStatusRefunded); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set payment status")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "order_id", orderID.String()), "order cancelled")
	return s.Get(ctx, orderID)
}

// Get loads one order with items.
func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// ListByStudent returns the student's newest orders.
func (s *service) ListByStudent(ctx context.Context, studentID uuid.UUID, limit int) ([]models.Order, error) {
	rows, err := s.repo.ListByStudent(ctx, studentID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return rows, nil
}

// MarkItemsDelivered mirrors a confirmed counter handoff onto the order.
func (s *service) MarkItemsDelivered(ctx context.Context, lineItemIDs []uuid.UUID, deliveredBy string, at time.Time) error {
	if err := s.repo.MarkItemsDelivered(ctx, lineItemIDs, deliveredBy, at); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark items delivered")
	}
	return nil
}

// CompleteIfFullyDelivered closes the order once no line item is pending.
func (s *service) CompleteIfFullyDelivered(ctx context.Context, orderID uuid.UUID) error {
	pending, err := s.repo.CountUndelivered(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count undelivered items")
	}
	if pending > 0 {
		return nil
	}
	if _, err := s.repo.Complete(ctx, orderID, s.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
	}
	return nil
}

func (s *service) loadFoodItems(ctx context.Context, quantities map[uuid.UUID]int) (map[uuid.UUID]models.FoodItem, error) {
	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	var rows []models.FoodItem
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load food items")
	}

	items := make(map[uuid.UUID]models.FoodItem, len(rows))
	for _, row := range rows {
		items[row.ID] = row
	}
	for id, qty := range quantities {
		item, ok := items[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "food item not found").
				WithDetails(map[string]any{"food_item_id": id})
		}
		if !item.IsAvailable {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidLineItems, "food item unavailable").
				WithDetails(map[string]any{"food_item_id": id, "name": item.Name})
		}
		if item.Stock < qty {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{"food_item_id": id, "stock": item.Stock, "requested": qty})
		}
	}
	return items, nil
}

func mergeItems(items []PlaceItem) (map[uuid.UUID]int, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidLineItems, "order requires at least one item")
	}
	quantities := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.FoodItemID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidLineItems, "food item id required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidLineItems, "item quantity must be positive").
				WithDetails(map[string]any{"food_item_id": item.FoodItemID})
		}
		quantities[item.FoodItemID] += item.Quantity
	}
	return quantities, nil
}

func buildLineItems(items map[uuid.UUID]models.FoodItem, quantities map[uuid.UUID]int) ([]models.OrderLineItem, decimal.Decimal) {
	lineItems := make([]models.OrderLineItem, 0, len(quantities))
	total := decimal.Zero
	for id, qty := range quantities {
		item := items[id]
		lineTotal := item.Price.Mul(decimal.NewFromInt(int64(qty)))
		lineItems = append(lineItems, models.OrderLineItem{
			FoodItemID: item.ID,
			CounterID:  item.CounterID,
			Name:       item.Name,
			Quantity:   qty,
			UnitPrice:  item.Price,
			TotalPrice: lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return lineItems, total
}

func buildPayload(order *models.Order) tokens.Payload {
	payload := tokens.Payload{
		OrderID:        &order.ID,
		StudentID:      order.StudentID,
		TotalAmount:    order.TotalAmount,
		ItemsByCounter: map[string][]tokens.PayloadItem{},
	}
	for _, item := range order.Items {
		counterID := item.CounterID.String()
		if _, seen := payload.ItemsByCounter[counterID]; !seen {
			payload.Counters = append(payload.Counters, counterID)
		}
		payload.ItemsByCounter[counterID] = append(payload.ItemsByCounter[counterID], tokens.PayloadItem{
			LineItemID: item.ID,
			FoodItemID: item.FoodItemID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}
	return payload
}
