package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/pkg/config"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
	"github.com/kgbytes/canteen-backend/pkg/metrics"
)

// Service owns the order token lifecycle: minting, lookup with lazy expiry,
// and the status polling view.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.OrderToken, error)
	CreateInTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.OrderToken, error)
	FetchByCode(ctx context.Context, code string) (*models.OrderToken, error)
	StatusByCode(ctx context.Context, code string) StatusResult
	Expire(ctx context.Context, code string) (bool, error)
	Repo() TokenRepository
}

type service struct {
	repo  TokenRepository
	cfg   config.FulfillmentConfig
	logg  *logger.Logger
	stats *metrics.FulfillmentMetrics
	now   func() time.Time
}

// NewService builds a token service. Metrics are optional.
func NewService(repo TokenRepository, cfg config.FulfillmentConfig, logg *logger.Logger, stats *metrics.FulfillmentMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("token repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:  repo,
		cfg:   cfg,
		logg:  logg,
		stats: stats,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Repo exposes the underlying repository for transactional composition.
func (s *service) Repo() TokenRepository {
	return s.repo
}

// Create mints a token with a collision-checked short code.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.OrderToken, error) {
	return s.CreateInTx(ctx, nil, input)
}

// CreateInTx mints a token inside the caller's transaction so order
// placement can commit the order, payment and token atomically.
func (s *service) CreateInTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.OrderToken, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}

	code, err := s.generateCode(ctx, repo)
	if err != nil {
		return nil, err
	}

	payloadRaw, err := EncodePayload(&input.Payload)
	if err != nil {
		return nil, err
	}
	deliveriesRaw, err := EncodeDeliveries(Deliveries{})
	if err != nil {
		return nil, err
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}

	token := &models.OrderToken{
		Code:              code,
		Status:            enums.TokenStatusActive,
		OrderID:           input.Payload.OrderID,
		Payload:           payloadRaw,
		CountersDelivered: deliveriesRaw,
		GeneratedBy:       input.GeneratedBy,
		ExpiresAt:         s.now().Add(ttl),
	}
	created, err := repo.Create(ctx, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order token")
	}

	s.logg.Info(s.logg.WithTokenCode(ctx, created.Code), "order token minted")
	return created, nil
}

// FetchByCode loads a token and lazily expires it when its deadline has
// passed. The returned token always reflects the transition.
func (s *service) FetchByCode(ctx context.Context, code string) (*models.OrderToken, error) {
	token, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "token not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order token")
	}

	if token.Status == enums.TokenStatusActive && !token.ExpiresAt.After(s.now()) {
		if _, err := s.repo.MarkExpired(ctx, token.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire order token")
		}
		// Whether this observer or a concurrent one won, the token is no
		// longer active. Reload to pick up the final state.
		token, err = s.repo.FindByCode(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order token")
		}
		if s.stats != nil {
			s.stats.IncExpirationObserved()
		}
		s.logg.Info(s.logg.WithTokenCode(ctx, code), "token expired on read")
	}

	return token, nil
}

// StatusByCode is the polling endpoint's view. It never returns an error;
// unknown codes yield Found=false so students see "invalid code" rather than
// a 500, and datastore faults degrade to a soft "error" status so pollers
// can tell a hiccup apart from a bad code.
func (s *service) StatusByCode(ctx context.Context, code string) StatusResult {
	token, err := s.FetchByCode(ctx, code)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			if s.stats != nil {
				s.stats.IncStatusPoll("not_found")
			}
			return StatusResult{Found: false}
		}
		s.logg.Error(ctx, "token status lookup failed", err)
		if s.stats != nil {
			s.stats.IncStatusPoll("error")
		}
		return StatusResult{Found: false, Status: StatusError}
	}

	result := StatusResult{
		Found:             true,
		Code:              token.Code,
		Status:            string(token.Status),
		AllItemsDelivered: token.AllItemsDelivered,
		ExpiresAt:         &token.ExpiresAt,
		UsedAt:            token.UsedAt,
	}

	payload, perr := DecodePayload(token)
	deliveries, derr := DecodeDeliveries(token)
	if perr == nil && derr == nil {
		for _, counterID := range payload.Counters {
			if _, ok := deliveries[counterID]; ok {
				result.DeliveredCounters = append(result.DeliveredCounters, counterID)
			} else {
				result.PendingCounters = append(result.PendingCounters, counterID)
			}
		}
	}

	if s.stats != nil {
		s.stats.IncStatusPoll(result.Status)
	}
	return result
}

// Expire forces an active token out of circulation, e.g. when its order is
// cancelled. Returns false when the token was already used or expired.
func (s *service) Expire(ctx context.Context, code string) (bool, error) {
	token, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "token not found")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order token")
	}
	if token.Status != enums.TokenStatusActive {
		return false, nil
	}
	changed, err := s.repo.MarkExpired(ctx, token.ID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire order token")
	}
	return changed, nil
}

func (s *service) generateCode(ctx context.Context, repo TokenRepository) (string, error) {
	attempts := s.cfg.CodeAttempts
	if attempts <= 0 {
		attempts = 100
	}
	for i := 0; i < attempts; i++ {
		code, err := randomCode()
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate token code")
		}
		exists, err := repo.CodeExists(ctx, code)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check token code")
		}
		if !exists {
			return code, nil
		}
	}

	fallback := fallbackCode(s.now())
	exists, err := repo.CodeExists(ctx, fallback)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check fallback code")
	}
	if exists {
		return "", pkgerrors.New(pkgerrors.CodeCodeSpace, "token code space exhausted")
	}
	s.logg.Warn(ctx, "token code space saturated, issued fallback code")
	return fallback, nil
}

func validateCreateInput(input CreateInput) error {
	payload := input.Payload
	if len(payload.Counters) == 0 || len(payload.ItemsByCounter) == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidLineItems, "token payload requires at least one counter with items")
	}
	if len(payload.Counters) != len(payload.ItemsByCounter) {
		return pkgerrors.New(pkgerrors.CodeInvalidLineItems, "counter list and item map disagree")
	}
	for _, counterID := range payload.Counters {
		items := payload.ItemsByCounter[counterID]
		if len(items) == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidLineItems, "counter has no items").
				WithDetails(map[string]any{"counter_id": counterID})
		}
		for _, item := range items {
			if item.Quantity <= 0 {
				return pkgerrors.New(pkgerrors.CodeInvalidLineItems, "item quantity must be positive").
					WithDetails(map[string]any{"line_item_id": item.LineItemID})
			}
		}
	}
	return nil
}
