package models

import (
	"errors"
	"fmt"
	"time"
)

// Account carries the credit counters for a user. Counters are only changed
// through the ledger's guarded adjustments.
type Account struct {
	ID              string    `json:"user_id"`
	Email           string    `json:"email"`
	Credits         int       `json:"credits"`
	FreeCreditsUsed int       `json:"free_credits_used"`
	TotalGenerated  int       `json:"total_generated"`
	CreatedAt       time.Time `json:"created_at"`
	LastLoginAt     time.Time `json:"last_login"`
}

// Validate rejects account records with missing ids or negative counters.
func (a Account) Validate() error {
	if a.ID == "" {
		return errors.New("invalid account record: user_id is required")
	}
	if a.Credits < 0 || a.FreeCreditsUsed < 0 || a.TotalGenerated < 0 {
		return fmt.Errorf("invalid account record %q: negative counter", a.ID)
	}
	return nil
}
