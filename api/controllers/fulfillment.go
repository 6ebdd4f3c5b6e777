package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kgbytes/canteen-backend/api/middleware"
	"github.com/kgbytes/canteen-backend/api/responses"
	"github.com/kgbytes/canteen-backend/api/validators"
	"github.com/kgbytes/canteen-backend/internal/delivery"
	"github.com/kgbytes/canteen-backend/internal/staff"
	"github.com/kgbytes/canteen-backend/internal/tokens"
	"github.com/kgbytes/canteen-backend/pkg/db/models"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

type createTokenItem struct {
	CounterID  string          `json:"counter_id" validate:"required,uuid"`
	FoodItemID string          `json:"food_item_id" validate:"required,uuid"`
	Name       string          `json:"name" validate:"required,max=100"`
	Quantity   int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type createTokenRequest struct {
	StudentID   string            `json:"student_id" validate:"required,uuid"`
	OrderID     *string           `json:"order_id,omitempty" validate:"omitempty,uuid"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Items       []createTokenItem `json:"items" validate:"required,min=1,dive"`
	TTLMinutes  int               `json:"ttl_minutes,omitempty" validate:"omitempty,min=1,max=1440"`
}

type tokenView struct {
	Code              string          `json:"code"`
	Status            string          `json:"status"`
	OrderID           *uuid.UUID      `json:"order_id,omitempty"`
	Payload           *tokens.Payload `json:"payload"`
	AllItemsDelivered bool            `json:"all_items_delivered"`
	GeneratedBy       string          `json:"generated_by,omitempty"`
	ExpiresAt         time.Time       `json:"expires_at"`
	UsedAt            *time.Time      `json:"used_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type deliverRequest struct {
	CounterID   string   `json:"counter_id" validate:"required,uuid"`
	LineItemIDs []string `json:"line_item_ids,omitempty" validate:"omitempty,dive,uuid"`
}

type deliverView struct {
	Token          tokenView            `json:"token"`
	DeliveredItems []tokens.PayloadItem `json:"delivered_items"`
	TokenComplete  bool                 `json:"token_complete"`
	CrossCounter   bool                 `json:"cross_counter"`
}

// CreateToken mints a handoff token directly from a payload snapshot. Order
// placement is the usual entry point; this exists for counters that sell
// without a stored order.
func CreateToken(tokenSvc tokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTokenRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload, err := buildTokenPayload(req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := tokens.CreateInput{
			Payload:     *payload,
			GeneratedBy: "user:" + middleware.UserIDFromContext(r.Context()),
			TTL:         time.Duration(req.TTLMinutes) * time.Minute,
		}
		token, err := tokenSvc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, tokenViewOf(token))
	}
}

// FetchToken returns the full token record for the given code.
func FetchToken(tokenSvc tokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := parseTokenCode(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token, err := tokenSvc.FetchByCode(r.Context(), code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tokenViewOf(token))
	}
}

// TokenStatus always answers 200; unknown codes come back with found=false so
// counter displays can poll without error handling.
func TokenStatus(tokenSvc tokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := parseTokenCode(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tokenSvc.StatusByCode(r.Context(), code))
	}
}

// DeliverToken confirms the handoff of one counter's items.
func DeliverToken(deliverySvc delivery.Service, staffSvc staff.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := parseTokenCode(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req deliverRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		identity, err := resolveStaff(r, staffSvc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lineItemIDs := make([]uuid.UUID, 0, len(req.LineItemIDs))
		for _, raw := range req.LineItemIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeInvalidLineItems, "invalid line item id"))
				return
			}
			lineItemIDs = append(lineItemIDs, id)
		}
		result, err := deliverySvc.Deliver(r.Context(), delivery.DeliverInput{
			Code:        code,
			CounterID:   req.CounterID,
			Staff:       identity,
			LineItemIDs: lineItemIDs,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, deliverViewOf(result))
	}
}

// ConsumeToken marks every pending counter delivered in one shot. Deprecated
// in favor of per-counter delivery; kept for single-counter canteens.
func ConsumeToken(deliverySvc delivery.Service, staffSvc staff.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := parseTokenCode(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		identity, err := resolveStaff(r, staffSvc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := deliverySvc.Consume(r.Context(), code, identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, deliverViewOf(result))
	}
}

// StaffDashboard serves the open-work snapshot for counter staff.
func StaffDashboard(dashboard staff.DashboardService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := dashboard.Summary(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func parseTokenCode(r *http.Request) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	if code == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "token code is required")
	}
	return code, nil
}

func resolveStaff(r *http.Request, staffSvc staff.Service) (*staff.Identity, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return staffSvc.IdentityOf(r.Context(), userID)
}

func buildTokenPayload(req createTokenRequest) (*tokens.Payload, error) {
	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid student id")
	}
	payload := tokens.Payload{
		StudentID:      studentID,
		TotalAmount:    req.TotalAmount,
		ItemsByCounter: map[string][]tokens.PayloadItem{},
	}
	if req.OrderID != nil {
		orderID, err := uuid.Parse(*req.OrderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
		}
		payload.OrderID = &orderID
	}
	for _, item := range req.Items {
		counterID, err := uuid.Parse(item.CounterID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid counter id")
		}
		foodItemID, err := uuid.Parse(item.FoodItemID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid food item id")
		}
		key := counterID.String()
		if _, seen := payload.ItemsByCounter[key]; !seen {
			payload.Counters = append(payload.Counters, key)
		}
		payload.ItemsByCounter[key] = append(payload.ItemsByCounter[key], tokens.PayloadItem{
			LineItemID: uuid.New(),
			FoodItemID: foodItemID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}
	return &payload, nil
}

func tokenViewOf(token *models.OrderToken) tokenView {
	view := tokenView{
		Code:              token.Code,
		Status:            string(token.Status),
		OrderID:           token.OrderID,
		AllItemsDelivered: token.AllItemsDelivered,
		GeneratedBy:       token.GeneratedBy,
		ExpiresAt:         token.ExpiresAt,
		UsedAt:            token.UsedAt,
		CreatedAt:         token.CreatedAt,
	}
	if payload, err := tokens.DecodePayload(token); err == nil {
		view.Payload = payload
	}
	return view
}

func deliverViewOf(result *delivery.DeliverResult) deliverView {
	return deliverView{
		Token:          tokenViewOf(result.Token),
		DeliveredItems: result.DeliveredItems,
		TokenComplete:  result.TokenComplete,
		CrossCounter:   result.CrossCounter,
	}
}
