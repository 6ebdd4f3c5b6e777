package tokens

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kgbytes/canteen-backend/pkg/db/models"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
)

// PayloadItem is one orderable unit frozen into a token at creation time.
type PayloadItem struct {
	LineItemID uuid.UUID       `json:"line_item_id"`
	FoodItemID uuid.UUID       `json:"food_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// Payload is the immutable snapshot carried by an order token. Counter keys
// are opaque strings so the fulfillment flow never needs to join back to the
// counters table.
type Payload struct {
	OrderID        *uuid.UUID               `json:"order_id,omitempty"`
	StudentID      uuid.UUID                `json:"student_id"`
	TotalAmount    decimal.Decimal          `json:"total_amount"`
	Counters       []string                 `json:"counters"`
	ItemsByCounter map[string][]PayloadItem `json:"items_by_counter"`
}

// ItemsFor returns the payload items assigned to the given counter.
func (p *Payload) ItemsFor(counterID string) []PayloadItem {
	if p.ItemsByCounter == nil {
		return nil
	}
	return p.ItemsByCounter[counterID]
}

// HasCounter reports whether the counter participates in this token.
func (p *Payload) HasCounter(counterID string) bool {
	_, ok := p.ItemsByCounter[counterID]
	return ok
}

// DeliveryRecord captures one counter's completed handoff. A counter hands
// over its whole slice of the payload or nothing, so ItemIDs always mirrors
// the payload's items for that counter rather than any checklist the station
// submitted.
type DeliveryRecord struct {
	DeliveredAt  time.Time `json:"delivered_at"`
	DeliveredBy  string    `json:"delivered_by"`
	ItemIDs      []string  `json:"item_ids"`
	CrossCounter bool      `json:"cross_counter,omitempty"`
}

// Deliveries maps counter id to its delivery record.
type Deliveries map[string]DeliveryRecord

// Covers reports whether every counter named in the payload has a delivery
// record whose item ids form a superset of that counter's payload items.
func (d Deliveries) Covers(payload *Payload) bool {
	for counterID, items := range payload.ItemsByCounter {
		record, ok := d[counterID]
		if !ok {
			return false
		}
		delivered := make(map[string]struct{}, len(record.ItemIDs))
		for _, id := range record.ItemIDs {
			delivered[id] = struct{}{}
		}
		for _, item := range items {
			if _, ok := delivered[item.LineItemID.String()]; !ok {
				return false
			}
		}
	}
	return true
}

// DecodePayload unmarshals the token's payload snapshot.
func DecodePayload(token *models.OrderToken) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(token.Payload, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode token payload")
	}
	return &payload, nil
}

// DecodeDeliveries unmarshals the token's per-counter delivery records. A
// token with no deliveries yet yields an empty map.
func DecodeDeliveries(token *models.OrderToken) (Deliveries, error) {
	deliveries := Deliveries{}
	if len(token.CountersDelivered) == 0 {
		return deliveries, nil
	}
	if err := json.Unmarshal(token.CountersDelivered, &deliveries); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode token deliveries")
	}
	return deliveries, nil
}

// EncodePayload marshals a payload for storage.
func EncodePayload(payload *Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode token payload")
	}
	return raw, nil
}

// EncodeDeliveries marshals delivery records for storage.
func EncodeDeliveries(deliveries Deliveries) (json.RawMessage, error) {
	raw, err := json.Marshal(deliveries)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode token deliveries")
	}
	return raw, nil
}

// CreateInput carries everything needed to mint a token.
type CreateInput struct {
	Payload     Payload
	GeneratedBy string
	TTL         time.Duration
}

// StatusError is the soft status reported when the lookup itself failed.
// Pollers treat it as "try again", not as an invalid code.
const StatusError = "error"

// StatusResult is the polling view of a token. Lookups never fail; unknown
// codes report Found=false and internal faults report Status=StatusError.
type StatusResult struct {
	Found             bool       `json:"found"`
	Code              string     `json:"code,omitempty"`
	Status            string     `json:"status,omitempty"`
	AllItemsDelivered bool       `json:"all_items_delivered"`
	DeliveredCounters []string   `json:"delivered_counters,omitempty"`
	PendingCounters   []string   `json:"pending_counters,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
}
