package enums

import "fmt"

// TransactionType maps to the transaction_type_enum enum in Postgres.
type TransactionType string

const (
	TransactionTypeCredit  TransactionType = "credit"
	TransactionTypeDebit   TransactionType = "debit"
	TransactionTypeRefund  TransactionType = "refund"
	TransactionTypeFee     TransactionType = "fee"
	TransactionTypeBonus   TransactionType = "bonus"
	TransactionTypePenalty TransactionType = "penalty"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeCredit,
	TransactionTypeDebit,
	TransactionTypeRefund,
	TransactionTypeFee,
	TransactionTypeBonus,
	TransactionTypePenalty,
}

// IsValid reports whether the value matches the canonical transaction type enum.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// CreditsWallet reports whether the type increases the wallet balance.
func (t TransactionType) CreditsWallet() bool {
	switch t {
	case TransactionTypeCredit, TransactionTypeRefund, TransactionTypeBonus:
		return true
	default:
		return false
	}
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
