package enums

import "fmt"

// TokenStatus maps to the token_status_enum enum in Postgres.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusUsed    TokenStatus = "used"
	TokenStatusExpired TokenStatus = "expired"
)

var validTokenStatuses = []TokenStatus{
	TokenStatusActive,
	TokenStatusUsed,
	TokenStatusExpired,
}

// IsValid reports whether the value matches the canonical token status enum.
func (s TokenStatus) IsValid() bool {
	for _, candidate := range validTokenStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s TokenStatus) IsTerminal() bool {
	return s == TokenStatusUsed || s == TokenStatusExpired
}

// ParseTokenStatus converts raw input into TokenStatus.
func ParseTokenStatus(value string) (TokenStatus, error) {
	for _, candidate := range validTokenStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid token status %q", value)
}
