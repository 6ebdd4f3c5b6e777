package delivery

import (
	"context"

	"github.com/kgbytes/canteen-backend/internal/staff"
)

// Policy decides whether a staff member may confirm a delivery for a counter.
type Policy interface {
	Authorize(ctx context.Context, identity *staff.Identity, counterID string) (crossCounter bool, err error)
}

// HomeCounterPolicy allows any active staff member to deliver for any
// counter, flagging the handoff as cross-counter assistance when it is not
// their home counter. Floaters with no home counter deliver unflagged.
type HomeCounterPolicy struct{}

// Authorize implements Policy.
func (HomeCounterPolicy) Authorize(_ context.Context, identity *staff.Identity, counterID string) (bool, error) {
	if identity.HomeCounterID == nil {
		return false, nil
	}
	return identity.HomeCounterID.String() != counterID, nil
}
