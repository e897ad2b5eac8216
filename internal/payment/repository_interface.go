package payment

import "context"

type Repository interface {
	CreateIntent(ctx context.Context, intent *Intent) (*Intent, error)
	GetByID(ctx context.Context, id int) (*Intent, error)
	GetByExternalID(ctx context.Context, externalID string) (*Intent, error)
	SetProcessorResult(ctx context.Context, id int, externalID, clientSecret string) error
	TransitionStatus(ctx context.Context, id int, from, to string) (bool, error)
	// CreditIntent issues the single purchase credit for an intent: the
	// credited claim and the ledger mutation are one transaction. Returns
	// false when the credit was already claimed.
	CreditIntent(ctx context.Context, intentID, accountID int, tokens int64) (bool, error)
}
