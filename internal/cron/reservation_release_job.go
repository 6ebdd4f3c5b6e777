package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/kgbytes/canteen-backend/internal/tokens"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

const releaseBatchSize = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, foodItemID uuid.UUID, qty int) error
}

// ReservationReleaseJobParams configure the expired token sweeper.
type ReservationReleaseJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Tokens    tokens.TokenRepository
	Inventory stockReleaser
}

// NewReservationReleaseJob builds the job that returns stock held by expired
// tokens. A token's undelivered reservations go back on sale; counters that
// already handed food over are left alone.
func NewReservationReleaseJob(params ReservationReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	return &reservationReleaseJob{
		logg:      params.Logger,
		db:        params.DB,
		tokens:    params.Tokens,
		inventory: params.Inventory,
		now:       time.Now,
	}, nil
}

type reservationReleaseJob struct {
	logg      *logger.Logger
	db        txRunner
	tokens    tokens.TokenRepository
	inventory stockReleaser
	now       func() time.Time
}

func (j *reservationReleaseJob) Name() string { return "reservation-release" }

func (j *reservationReleaseJob) Run(ctx context.Context) error {
	stale, err := j.tokens.ListExpiredUnreleased(ctx, releaseBatchSize)
	if err != nil {
		return fmt.Errorf("list expired tokens: %w", err)
	}

	var errs []error
	released := 0
	for _, token := range stale {
		if err := j.releaseToken(ctx, token); err != nil {
			errs = append(errs, fmt.Errorf("token %s: %w", token.Code, err))
			continue
		}
		released++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"released":   released,
	})
	j.logg.Info(logCtx, "reservation release sweep complete")
	return multierr.Combine(errs...)
}

func (j *reservationReleaseJob) releaseToken(ctx context.Context, token models.OrderToken) error {
	payload, err := tokens.DecodePayload(&token)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	deliveries, err := tokens.DecodeDeliveries(&token)
	if err != nil {
		return fmt.Errorf("decode deliveries: %w", err)
	}

	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.tokens.WithTx(tx)

		if token.Status == enums.TokenStatusActive {
			if _, err := repo.MarkExpired(ctx, token.ID); err != nil {
				return fmt.Errorf("expire token: %w", err)
			}
		}

		// Claim the release before touching stock so a concurrent
		// cancel cannot return the same holds twice.
		claimed, err := repo.MarkStockReleased(ctx, token.ID)
		if err != nil {
			return fmt.Errorf("claim stock release: %w", err)
		}
		if !claimed {
			return nil
		}

		for counterID, items := range payload.ItemsByCounter {
			if _, delivered := deliveries[counterID]; delivered {
				continue
			}
			for _, item := range items {
				if err := j.inventory.Release(ctx, tx, item.FoodItemID, item.Quantity); err != nil {
					return fmt.Errorf("release %s: %w", item.FoodItemID, err)
				}
			}
		}
		return nil
	})
}
