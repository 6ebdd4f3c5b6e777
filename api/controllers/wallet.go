package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/kgbytes/canteen-backend/api/responses"
	"github.com/kgbytes/canteen-backend/api/validators"
	"github.com/kgbytes/canteen-backend/internal/wallet"
	"github.com/kgbytes/canteen-backend/pkg/enums"
	pkgerrors "github.com/kgbytes/canteen-backend/pkg/errors"
	"github.com/kgbytes/canteen-backend/pkg/logger"
)

const (
	defaultTransactionPageSize = 20
	maxTransactionPageSize     = 100
)

type topUpRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id,omitempty" validate:"omitempty,max=255"`
}

// WalletBalance returns the caller's wallet, creating it on first touch.
func WalletBalance(walletSvc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := walletSvc.EnsureWallet(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, account)
	}
}

// WalletTransactions lists the caller's ledger, newest first.
func WalletTransactions(walletSvc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultTransactionPageSize, 1, maxTransactionPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := walletSvc.Transactions(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// WalletTopUp credits the caller's wallet. The payment gateway side of a
// top-up is out of scope; this trusts the amount after validation.
func WalletTopUp(walletSvc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req topUpRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !req.Amount.IsPositive() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive"))
			return
		}

		txn, err := walletSvc.Credit(r.Context(), wallet.CreditInput{
			UserID:      userID,
			Amount:      req.Amount,
			Type:        enums.TransactionTypeCredit,
			Description: "wallet top up",
			ReferenceID: req.ReferenceID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, txn)
	}
}
