package payout

import (
	"context"
	"time"
)

type Repository interface {
	// CreateIntent enrolls the account in the given cycle. A second pending
	// intent for the same account and cycle returns ErrIntentPending.
	CreateIntent(ctx context.Context, accountID int, cycleDate time.Time) (*Intent, error)
	CancelIntent(ctx context.Context, accountID int) error
	GetPendingIntent(ctx context.Context, accountID int) (*Intent, error)

	// ListEligible returns the account ids due in this cycle: creators with
	// auto-withdraw enabled and a payout destination, plus anyone holding a
	// pending intent for the cycle.
	ListEligible(ctx context.Context, cycleDate time.Time) ([]int, error)

	// SettleAccount debits the withdrawable amount and records the payout in
	// one transaction. It returns the settled record, or ErrBelowMinimum
	// when the withdrawable balance does not reach the threshold.
	SettleAccount(ctx context.Context, accountID int, cycleDate time.Time, minTokens int64, redemptionRate float64) (*Record, error)
}
