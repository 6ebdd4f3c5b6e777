package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kgbytes/canteen-backend/internal/staff"
	"github.com/kgbytes/canteen-backend/internal/tokens"
	"github.com/kgbytes/canteen-backend/pkg/config"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
	"github.com/kgbytes/canteen-backend/pkg/metrics"
)

// stockDeductor finalizes inventory after a confirmed handoff.
type stockDeductor interface {
	Deduct(ctx context.Context, foodItemID uuid.UUID, qty int) error
	ReconcileAvailability(ctx context.Context, foodItemID uuid.UUID) error
}

// orderProgressor mirrors delivery progress onto the placed order, when the
// token was minted from one.
type orderProgressor interface {
	MarkItemsDelivered(ctx context.Context, lineItemIDs []uuid.UUID, deliveredBy string, at time.Time) error
	CompleteIfFullyDelivered(ctx context.Context, orderID uuid.UUID) error
}

// DeliverInput identifies one counter handoff.
type DeliverInput struct {
	Code      string
	CounterID string
	Staff     *staff.Identity
	// LineItemIDs is the station's checklist. Every id must belong to the
	// counter's slice of the payload; empty means the full slice.
	LineItemIDs []uuid.UUID
}

// DeliverResult reports the outcome of a confirmed handoff.
type DeliverResult struct {
	Token          *models.OrderToken
	DeliveredItems []tokens.PayloadItem
	TokenComplete  bool
	CrossCounter   bool
}

// Service coordinates the counter-side half of the token lifecycle.
type Service interface {
	Deliver(ctx context.Context, input DeliverInput) (*DeliverResult, error)
	Consume(ctx context.Context, code string, by *staff.Identity) (*DeliverResult, error)
}

type service struct {
	tokens    tokens.Service
	inventory stockDeductor
	orders    orderProgressor
	policy    Policy
	cfg       config.FulfillmentConfig
	logg      *logger.Logger
	stats     *metrics.FulfillmentMetrics
	now       func() time.Time
}

// NewService builds the delivery coordinator. The order progressor, metrics
// and policy are optional; a nil policy falls back to HomeCounterPolicy.
func NewService(
	tokenSvc tokens.Service,
	inv stockDeductor,
	ord orderProgressor,
	policy Policy,
	cfg config.FulfillmentConfig,
	logg *logger.Logger,
	stats *metrics.FulfillmentMetrics,
) (Service, error) {
	if tokenSvc == nil {
		return nil, fmt.Errorf("token service required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if policy == nil {
		policy = HomeCounterPolicy{}
	}
	return &service{
		tokens:    tokenSvc,
		inventory: inv,
		orders:    ord,
		policy:    policy,
		cfg:       cfg,
		logg:      logg,
		stats:     stats,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Deliver confirms the handoff of every item the token assigns to one
// counter. The write is guarded by the token version; a concurrent update
// triggers a reload-and-retry, and a racer that already recorded the same
// counter surfaces as AlreadyDelivered.
func (s *service) Deliver(ctx context.Context, input DeliverInput) (*DeliverResult, error) {
	if input.Staff == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "staff identity required")
	}
	if input.CounterID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "counter id required")
	}

	retries := s.cfg.DeliveryRetries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		result, retry, err := s.deliverOnce(ctx, input)
		if err == nil {
			return result, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "delivery contention not resolved")
}

// deliverOnce runs one optimistic attempt. retry=true means the version
// guard lost and the caller should reload and try again.
func (s *service) deliverOnce(ctx context.Context, input DeliverInput) (*DeliverResult, bool, error) {
	token, err := s.tokens.FetchByCode(ctx, input.Code)
	if err != nil {
		return nil, false, err
	}
	if err := s.guardState(token); err != nil {
		return nil, false, err
	}

	payload, err := tokens.DecodePayload(token)
	if err != nil {
		return nil, false, err
	}
	if !payload.HasCounter(input.CounterID) {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "counter not part of this token").
			WithDetails(map[string]any{"counter_id": input.CounterID})
	}

	deliveries, err := tokens.DecodeDeliveries(token)
	if err != nil {
		return nil, false, err
	}
	if _, done := deliveries[input.CounterID]; done {
		return nil, false, pkgerrors.New(pkgerrors.CodeAlreadyDelivered, "counter already delivered for this token").
			WithDetails(map[string]any{"counter_id": input.CounterID})
	}

	crossCounter, err := s.policy.Authorize(ctx, input.Staff, input.CounterID)
	if err != nil {
		return nil, false, err
	}

	items := payload.ItemsFor(input.CounterID)
	if err := validateLineItemScope(items, input.LineItemIDs, input.CounterID); err != nil {
		return nil, false, err
	}
	record := tokens.DeliveryRecord{
		DeliveredAt:  s.now(),
		DeliveredBy:  input.Staff.Username,
		ItemIDs:      lineItemIDs(items),
		CrossCounter: crossCounter,
	}
	deliveries[input.CounterID] = record

	complete := deliveries.Covers(payload)
	expectedVersion := token.Version
	if err := s.mutateToken(token, deliveries, complete); err != nil {
		return nil, false, err
	}

	applied, err := s.tokens.Repo().ApplyDelivery(ctx, token, expectedVersion)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist delivery")
	}
	if !applied {
		return nil, true, fmt.Errorf("token %s version %d superseded", token.Code, expectedVersion)
	}

	s.afterCommit(ctx, token, payload, items, record, complete)

	if s.stats != nil {
		s.stats.IncDelivery(complete)
		if crossCounter {
			s.stats.IncCrossCounterDelivery()
		}
	}

	return &DeliverResult{
		Token:          token,
		DeliveredItems: items,
		TokenComplete:  complete,
		CrossCounter:   crossCounter,
	}, false, nil
}

// Consume marks every remaining counter on the token as handed over in a
// single guarded write. It backs the legacy whole-token endpoint and passes
// through the same state checks as per-counter delivery.
func (s *service) Consume(ctx context.Context, code string, by *staff.Identity) (*DeliverResult, error) {
	if by == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "staff identity required")
	}

	retries := s.cfg.DeliveryRetries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		result, retry, err := s.consumeOnce(ctx, code, by)
		if err == nil {
			return result, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "consume contention not resolved")
}

func (s *service) consumeOnce(ctx context.Context, code string, by *staff.Identity) (*DeliverResult, bool, error) {
	token, err := s.tokens.FetchByCode(ctx, code)
	if err != nil {
		return nil, false, err
	}
	if err := s.guardState(token); err != nil {
		return nil, false, err
	}

	payload, err := tokens.DecodePayload(token)
	if err != nil {
		return nil, false, err
	}
	deliveries, err := tokens.DecodeDeliveries(token)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	var delivered []tokens.PayloadItem
	var affected []tokens.DeliveryRecord
	for _, counterID := range payload.Counters {
		if _, done := deliveries[counterID]; done {
			continue
		}
		crossCounter, err := s.policy.Authorize(ctx, by, counterID)
		if err != nil {
			return nil, false, err
		}
		items := payload.ItemsFor(counterID)
		record := tokens.DeliveryRecord{
			DeliveredAt:  now,
			DeliveredBy:  by.Username,
			ItemIDs:      lineItemIDs(items),
			CrossCounter: crossCounter,
		}
		deliveries[counterID] = record
		affected = append(affected, record)
		delivered = append(delivered, items...)
	}
	if len(affected) == 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeAlreadyDelivered, "token has no pending counters")
	}

	expectedVersion := token.Version
	if err := s.mutateToken(token, deliveries, true); err != nil {
		return nil, false, err
	}

	applied, err := s.tokens.Repo().ApplyDelivery(ctx, token, expectedVersion)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist consume")
	}
	if !applied {
		return nil, true, fmt.Errorf("token %s version %d superseded", token.Code, expectedVersion)
	}

	for _, record := range affected {
		s.afterCommit(ctx, token, payload, itemsByIDs(payload, record.ItemIDs), record, true)
	}

	if s.stats != nil {
		s.stats.IncDelivery(true)
	}

	return &DeliverResult{
		Token:          token,
		DeliveredItems: delivered,
		TokenComplete:  true,
	}, false, nil
}

// guardState rejects tokens outside the active state. Expiry precedence:
// FetchByCode already flipped overdue actives, so a stale deadline can never
// be delivered against.
func (s *service) guardState(token *models.OrderToken) error {
	switch token.Status {
	case enums.TokenStatusActive:
		return nil
	case enums.TokenStatusUsed:
		return pkgerrors.New(pkgerrors.CodeTokenUsed, "token already used")
	case enums.TokenStatusExpired:
		return pkgerrors.New(pkgerrors.CodeTokenExpired, "token expired")
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown token status").
			WithDetails(map[string]any{"status": token.Status})
	}
}

func (s *service) mutateToken(token *models.OrderToken, deliveries tokens.Deliveries, complete bool) error {
	raw, err := tokens.EncodeDeliveries(deliveries)
	if err != nil {
		return err
	}
	token.CountersDelivered = raw
	token.AllItemsDelivered = complete
	if complete {
		now := s.now()
		token.Status = enums.TokenStatusUsed
		token.UsedAt = &now
	}
	return nil
}

// afterCommit applies the non-transactional follow-ups of a persisted
// delivery: stock deduction, availability reconciliation and order progress.
// Failures here never unwind the handoff; the student has the food.
func (s *service) afterCommit(ctx context.Context, token *models.OrderToken, payload *tokens.Payload, items []tokens.PayloadItem, record tokens.DeliveryRecord, complete bool) {
	var errs error
	for _, item := range items {
		if err := s.inventory.Deduct(ctx, item.FoodItemID, item.Quantity); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := s.inventory.ReconcileAvailability(ctx, item.FoodItemID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		if s.stats != nil {
			s.stats.IncDeductionFailure()
		}
		s.logg.Error(s.logg.WithTokenCode(ctx, token.Code), "post-delivery stock deduction incomplete", errs)
	}

	if s.orders != nil && payload.OrderID != nil {
		ids := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.LineItemID)
		}
		if err := s.orders.MarkItemsDelivered(ctx, ids, record.DeliveredBy, record.DeliveredAt); err != nil {
			s.logg.Error(s.logg.WithTokenCode(ctx, token.Code), "mark order items delivered", err)
		}
		if complete {
			if err := s.orders.CompleteIfFullyDelivered(ctx, *payload.OrderID); err != nil {
				s.logg.Error(s.logg.WithTokenCode(ctx, token.Code), "complete order", err)
			}
		}
	}
}

// validateLineItemScope rejects the whole call when any requested id falls
// outside the counter's slice of the payload. Partial delivery of a mixed
// valid/invalid set is never attempted; a valid checklist confirms the full
// slice, since a counter delivers all of its items or none.
func validateLineItemScope(items []tokens.PayloadItem, requested []uuid.UUID, counterID string) error {
	if len(requested) == 0 {
		return nil
	}
	scope := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		scope[item.LineItemID] = struct{}{}
	}
	for _, id := range requested {
		if _, ok := scope[id]; !ok {
			return pkgerrors.New(pkgerrors.CodeInvalidLineItems, "line item does not belong to this counter").
				WithDetails(map[string]any{"line_item_id": id.String(), "counter_id": counterID})
		}
	}
	return nil
}

func lineItemIDs(items []tokens.PayloadItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.LineItemID.String())
	}
	return ids
}

func itemsByIDs(payload *tokens.Payload, ids []string) []tokens.PayloadItem {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []tokens.PayloadItem
	for _, items := range payload.ItemsByCounter {
		for _, item := range items {
			if _, ok := want[item.LineItemID.String()]; ok {
				out = append(out, item)
			}
		}
	}
	return out
}
