package staff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
)

// Identity is the delivery-facing view of a staff member.
type Identity struct {
	StaffID       uuid.UUID
	UserID        uuid.UUID
	Username      string
	HomeCounterID *uuid.UUID
	IsActive      bool
}

// Service resolves staff identities for the fulfillment flow.
type Service interface {
	IdentityOf(ctx context.Context, userID uuid.UUID) (*Identity, error)
}

type service struct {
	repo StaffRepository
}

// NewService builds a staff service.
func NewService(repo StaffRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("staff repository required")
	}
	return &service{repo: repo}, nil
}

// IdentityOf maps a user account to its staff identity. Inactive profiles
// are treated as forbidden rather than missing so deactivation reads
// unambiguously in delivery audit logs.
func (s *service) IdentityOf(ctx context.Context, userID uuid.UUID) (*Identity, error) {
	profile, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "no staff profile for user")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load staff profile")
	}
	if !profile.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff profile deactivated")
	}
	return &Identity{
		StaffID:       profile.ID,
		UserID:        profile.UserID,
		Username:      profile.Username,
		HomeCounterID: profile.HomeCounterID,
		IsActive:      profile.IsActive,
	}, nil
}
