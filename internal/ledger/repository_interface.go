package ledger

import "context"

type Repository interface {
	GetOrCreateAccount(ctx context.Context, subject string) (*Account, error)
	GetAccountByID(ctx context.Context, id int) (*Account, error)
	ApplyEntry(ctx context.Context, accountID int, delta int64, entryType, reference string) (*Account, error)
	Transfer(ctx context.Context, fromID, toID int, amount int64, debitType, creditType, reference string) error
	GetBalance(ctx context.Context, accountID int) (int64, error)
	GetReserved(ctx context.Context, accountID int) (int64, error)
	Reserve(ctx context.Context, accountID int, amount int64) error
	ListEntries(ctx context.Context, accountID int, limit, offset int) ([]Entry, error)
}
