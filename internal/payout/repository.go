package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"meterpay/internal/outbox"
)

var (
	ErrIntentPending   = errors.New("a pending withdrawal intent already exists")
	ErrNoPendingIntent = errors.New("no pending withdrawal intent")
	ErrBelowMinimum    = errors.New("withdrawable balance below payout minimum")
	ErrAccountNotFound = errors.New("account not found")
)

const intentColumns = `id, account_id, cycle_date, status, requested_at, processed_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateIntent(ctx context.Context, accountID int, cycleDate time.Time) (*Intent, error) {
	i := &Intent{}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO withdrawal_intents (account_id, cycle_date, status)
		 VALUES ($1, $2, 'pending')
		 ON CONFLICT (account_id, cycle_date) WHERE status = 'pending' DO NOTHING
		 RETURNING `+intentColumns,
		accountID, cycleDate,
	).StructScan(i)
	if err == nil {
		return i, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentPending
	}
	return nil, err
}

func (r *repository) CancelIntent(ctx context.Context, accountID int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE withdrawal_intents
		 SET status = 'canceled', processed_at = NOW()
		 WHERE account_id = $1 AND status = 'pending'`,
		accountID,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNoPendingIntent
	}
	return nil
}

func (r *repository) GetPendingIntent(ctx context.Context, accountID int) (*Intent, error) {
	i := &Intent{}
	err := r.db.GetContext(ctx, i,
		`SELECT `+intentColumns+`
		 FROM withdrawal_intents
		 WHERE account_id = $1 AND status = 'pending'`,
		accountID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoPendingIntent
		}
		return nil, err
	}
	return i, nil
}

func (r *repository) ListEligible(ctx context.Context, cycleDate time.Time) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `
		SELECT cp.account_id
		FROM creator_profiles cp
		WHERE cp.auto_withdraw = TRUE
		  AND cp.payout_destination IS NOT NULL
		  AND cp.payout_destination <> ''
		UNION
		SELECT wi.account_id
		FROM withdrawal_intents wi
		WHERE wi.status = 'pending' AND wi.cycle_date <= $1
		ORDER BY 1
	`, cycleDate)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SettleAccount is the whole per-account payout as one transaction: lock
// the account, debit the withdrawable amount, append the ledger entry and
// outbox row, write the payout record, consume the intent, stamp the
// profile. Any failure rolls the account back untouched.
func (r *repository) SettleAccount(ctx context.Context, accountID int, cycleDate time.Time, minTokens int64, redemptionRate float64) (*Record, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var balance, reserved int64
	err = tx.QueryRowxContext(ctx,
		`SELECT balance_tokens, reserved_tokens
		 FROM accounts
		 WHERE id = $1
		 FOR UPDATE`,
		accountID,
	).Scan(&balance, &reserved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	tokens := balance - reserved
	if tokens < minTokens {
		return nil, ErrBelowMinimum
	}

	amountCents := int64(math.Round(float64(tokens) * redemptionRate * 100))
	newBalance := balance - tokens
	reference := fmt.Sprintf("payout:%s", cycleDate.Format("2006-01-02"))

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance_tokens = $1, updated_at = NOW()
		 WHERE id = $2`,
		newBalance, accountID,
	)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, delta, type, reference, balance_after)
		 VALUES ($1, $2, 'withdrawal', $3, $4)`,
		accountID, -tokens, reference, newBalance,
	)
	if err != nil {
		return nil, err
	}

	rec := &Record{}
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO withdrawal_records (account_id, tokens, amount_cents, status, cycle_date)
		 VALUES ($1, $2, $3, 'processing', $4)
		 RETURNING id, account_id, tokens, amount_cents, status, cycle_date, created_at`,
		accountID, tokens, amountCents, cycleDate,
	).StructScan(rec)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE withdrawal_intents
		 SET status = 'consumed', processed_at = NOW()
		 WHERE account_id = $1 AND status = 'pending' AND cycle_date <= $2`,
		accountID, cycleDate,
	)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE creator_profiles
		 SET last_withdrawal_at = NOW(), updated_at = NOW()
		 WHERE account_id = $1`,
		accountID,
	)
	if err != nil {
		return nil, err
	}

	err = outbox.InsertTx(ctx, tx, outbox.TopicPayoutProcessed, map[string]interface{}{
		"account_id":   accountID,
		"tokens":       tokens,
		"amount_cents": amountCents,
		"cycle_date":   cycleDate.Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}
