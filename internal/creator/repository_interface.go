package creator

import "context"

type Repository interface {
	GetOrCreate(ctx context.Context, accountID int, displayName string) (*Profile, error)
	GetByAccountID(ctx context.Context, accountID int) (*Profile, error)
	UpdateRate(ctx context.Context, accountID int, ratePerMinute int64) error
	UpdatePayout(ctx context.Context, accountID int, destination string, autoWithdraw bool) error
}
