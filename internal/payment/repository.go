package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"meterpay/internal/outbox"
)

var (
	ErrDuplicateIntent = errors.New("intent already exists for idempotency key")
	ErrIntentNotFound  = errors.New("payment intent not found")
)

const intentColumns = `id, external_id, idempotency_key, consumer_account, amount_tokens, amount_cents, currency, status, purpose, credited, client_secret, created_at, updated_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// CreateIntent inserts the intent under its unique idempotency key. A key
// collision returns the stored intent together with ErrDuplicateIntent, in
// one statement: xmax = 0 only on a freshly inserted row, so a concurrent
// submitter always sees the committed winner instead of a not-found race.
func (r *repository) CreateIntent(ctx context.Context, intent *Intent) (*Intent, error) {
	var row struct {
		Intent
		Inserted bool `db:"inserted"`
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO payment_intents (idempotency_key, consumer_account, amount_tokens, amount_cents, currency, status, purpose)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (idempotency_key) DO UPDATE SET updated_at = NOW()
		 RETURNING `+intentColumns+`, (xmax = 0) AS inserted`,
		intent.IdempotencyKey, intent.ConsumerAccount, intent.AmountTokens,
		intent.AmountCents, intent.Currency, StatusPending, intent.Purpose,
	).StructScan(&row)
	if err != nil {
		return nil, err
	}
	if !row.Inserted {
		return &row.Intent, ErrDuplicateIntent
	}
	return &row.Intent, nil
}

func (r *repository) GetByID(ctx context.Context, id int) (*Intent, error) {
	intent := &Intent{}
	err := r.db.GetContext(ctx, intent,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return intent, nil
}

func (r *repository) GetByExternalID(ctx context.Context, externalID string) (*Intent, error) {
	intent := &Intent{}
	err := r.db.GetContext(ctx, intent,
		`SELECT `+intentColumns+` FROM payment_intents WHERE external_id = $1`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return intent, nil
}

// SetProcessorResult stores what the processor handed back. The client
// secret is kept so a duplicate submission can return the original result.
func (r *repository) SetProcessorResult(ctx context.Context, id int, externalID, clientSecret string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET external_id = $1, client_secret = $2, updated_at = NOW() WHERE id = $3`,
		externalID, clientSecret, id,
	)
	return err
}

// TransitionStatus applies a forward-only state change. The WHERE clause
// re-checks the source state so replayed or out-of-order events become
// no-ops at the row level, not errors.
func (r *repository) TransitionStatus(ctx context.Context, id int, from, to string) (bool, error) {
	if !CanTransition(from, to) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CreditIntent flips the credited flag and applies the purchase credit as
// one transaction: claim, account update, ledger entry, outbox row all
// commit or roll back together. A rolled-back claim stays claimable, so a
// redelivery after a transient ledger failure still issues the credit.
// Returns false when the credit was already claimed.
func (r *repository) CreditIntent(ctx context.Context, intentID, accountID int, tokens int64) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE payment_intents SET credited = TRUE, updated_at = NOW() WHERE id = $1 AND credited = FALSE`,
		intentID,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	var balance int64
	err = tx.QueryRowxContext(ctx,
		`SELECT balance_tokens FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance)
	if err != nil {
		return false, err
	}

	newBalance := balance + tokens
	reference := fmt.Sprintf("intent:%d", intentID)

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance_tokens = $1, updated_at = NOW()
		 WHERE id = $2`,
		newBalance, accountID,
	)
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, delta, type, reference, balance_after)
		 VALUES ($1, $2, 'purchase', $3, $4)`,
		accountID, tokens, reference, newBalance,
	)
	if err != nil {
		return false, err
	}

	err = outbox.InsertTx(ctx, tx, outbox.TopicPurchaseCredited, map[string]interface{}{
		"intent_id":     intentID,
		"account_id":    accountID,
		"tokens":        tokens,
		"balance_after": newBalance,
	})
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
