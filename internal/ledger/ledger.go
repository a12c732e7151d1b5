// Package ledger decides whether an account may start a generation and
// whether the result carries a watermark.
package ledger

import (
	"context"
	"fmt"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/models"
)

// CreditStore is the slice of the account store the ledger depends on. Every
// counter change goes through AdjustCredits, which applies the delta and
// checks the guard as one atomic step.
type CreditStore interface {
	GetAccount(ctx context.Context, id string) (models.Account, error)
	AdjustCredits(ctx context.Context, id string, adj models.CreditAdjustment) (models.Account, bool, error)
}

// Packages maps purchasable credit packages to the number of credits granted.
var Packages = map[string]int{
	"1_credit":   1,
	"5_credits":  5,
	"10_credits": 10,
}

// Tier names which balance paid for a generation.
type Tier string

const (
	TierPaid Tier = "paid"
	TierFree Tier = "free"
)

// Ledger applies credit consumption and grants.
type Ledger struct {
	store         CreditStore
	freeAllotment int
}

func New(store CreditStore, freeAllotment int) *Ledger {
	if freeAllotment < 0 {
		freeAllotment = 0
	}
	return &Ledger{store: store, freeAllotment: freeAllotment}
}

// Consumption is the outcome of a successful TryConsumeCredit.
type Consumption struct {
	Watermark bool
	Tier      Tier
	Account   models.Account
}

// TryConsumeCredit spends one paid credit if any remain, otherwise one free
// credit if the allotment is not used up. Free-tier results are watermarked.
// When neither applies it returns ErrNoCredits and nothing changes.
func (l *Ledger) TryConsumeCredit(ctx context.Context, accountID string) (Consumption, error) {
	acct, ok, err := l.store.AdjustCredits(ctx, accountID, models.CreditAdjustment{
		Counter:         models.CounterCredits,
		Delta:           -1,
		Guard:           models.GuardGreaterThan,
		GuardValue:      0,
		CountGeneration: true,
	})
	if err != nil {
		return Consumption{}, fmt.Errorf("consume paid credit: %w", err)
	}
	if ok {
		return Consumption{Watermark: false, Tier: TierPaid, Account: acct}, nil
	}

	acct, ok, err = l.store.AdjustCredits(ctx, accountID, models.CreditAdjustment{
		Counter:         models.CounterFreeUsed,
		Delta:           1,
		Guard:           models.GuardLessThan,
		GuardValue:      l.freeAllotment,
		CountGeneration: true,
	})
	if err != nil {
		return Consumption{}, fmt.Errorf("consume free credit: %w", err)
	}
	if ok {
		return Consumption{Watermark: true, Tier: TierFree, Account: acct}, nil
	}
	return Consumption{}, apperr.Admission("consume credit", apperr.ErrNoCredits)
}

// Grant adds n paid credits to the account.
func (l *Ledger) Grant(ctx context.Context, accountID string, n int) (models.Account, error) {
	if n <= 0 {
		return models.Account{}, apperr.Admission("grant credits", fmt.Errorf("credit amount must be positive, got %d", n))
	}
	acct, _, err := l.store.AdjustCredits(ctx, accountID, models.CreditAdjustment{
		Counter: models.CounterCredits,
		Delta:   n,
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("grant credits: %w", err)
	}
	return acct, nil
}

// GrantPackage grants the credits of a named package.
func (l *Ledger) GrantPackage(ctx context.Context, accountID, pkg string) (models.Account, error) {
	n, ok := Packages[pkg]
	if !ok {
		return models.Account{}, apperr.Admission("grant package", fmt.Errorf("unknown credit package %q", pkg))
	}
	return l.Grant(ctx, accountID, n)
}

// Status summarizes an account's balances.
type Status struct {
	Credits         int  `json:"credits"`
	FreeCreditsUsed int  `json:"free_credits_used"`
	FreeRemaining   int  `json:"free_credits_remaining"`
	TotalGenerated  int  `json:"total_generated"`
	HasWatermark    bool `json:"has_watermark"`
	CanGenerate     bool `json:"can_generate"`
}

// StatusOf reports the balances and what the next generation would cost.
func (l *Ledger) StatusOf(acct models.Account) Status {
	free := l.freeAllotment - acct.FreeCreditsUsed
	if free < 0 {
		free = 0
	}
	return Status{
		Credits:         acct.Credits,
		FreeCreditsUsed: acct.FreeCreditsUsed,
		FreeRemaining:   free,
		TotalGenerated:  acct.TotalGenerated,
		HasWatermark:    acct.Credits == 0 && free > 0,
		CanGenerate:     acct.Credits > 0 || free > 0,
	}
}

// Status loads the account and summarizes it.
func (l *Ledger) Status(ctx context.Context, accountID string) (Status, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return Status{}, err
	}
	return l.StatusOf(acct), nil
}
