package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserProfile is the account view returned by the user service. Amount is
// the wallet balance.
type UserProfile struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Email  string          `json:"email,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// Session is the authenticated identity attached to REST calls.
type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Authenticated reports whether the session carries a user id that has not
// expired at now.
func (s Session) Authenticated(now time.Time) bool {
	if s.UserID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
