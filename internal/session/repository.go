package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"meterpay/internal/ledger"
	"meterpay/internal/outbox"
)

var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `id, consumer_account, provider_account, type, charge_mode, rate_per_minute, started_at, ended_at, duration_minutes, total_charge, shortfall, status, created_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateSession(ctx context.Context, consumerAccount, providerAccount int, sessionType, chargeMode string, ratePerMinute int64) (*Session, error) {
	s := &Session{}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO sessions (consumer_account, provider_account, type, charge_mode, rate_per_minute, status)
		 VALUES ($1, $2, $3, $4, $5, 'active')
		 RETURNING `+sessionColumns,
		consumerAccount, providerAccount, sessionType, chargeMode, ratePerMinute,
	).StructScan(s)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repository) GetByID(ctx context.Context, id int) (*Session, error) {
	s := &Session{}
	err := r.db.GetContext(ctx, s,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// Settle is the whole close as one transaction: claim the active row, lock
// both accounts, move the collectible charge, record the totals. A failure
// anywhere rolls the claim back too, so the session stays active and a
// retry settles it. Losing the claim hands back the stored row unchanged.
func (r *repository) Settle(ctx context.Context, id int, endedAt time.Time, durationMinutes, charge int64) (*Session, int64, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, false, err
	}
	defer tx.Rollback()

	s := &Session{}
	err = tx.QueryRowxContext(ctx,
		`UPDATE sessions
		 SET status = 'completed', ended_at = $2
		 WHERE id = $1 AND status = 'active'
		 RETURNING `+sessionColumns,
		id, endedAt,
	).StructScan(s)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		stored, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, 0, false, err
		}
		return stored, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	collected, err := r.collectTx(ctx, tx, s, charge)
	if err != nil {
		return nil, 0, false, err
	}
	shortfall := charge - collected

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions
		 SET duration_minutes = $1, total_charge = $2, shortfall = $3
		 WHERE id = $4`,
		durationMinutes, charge, shortfall, id,
	)
	if err != nil {
		return nil, 0, false, err
	}

	err = outbox.InsertTx(ctx, tx, outbox.TopicSessionSettled, map[string]interface{}{
		"session_id":       s.ID,
		"consumer_account": s.ConsumerAccount,
		"provider_account": s.ProviderAccount,
		"duration_minutes": durationMinutes,
		"charge":           charge,
		"collected":        collected,
		"shortfall":        shortfall,
	})
	if err != nil {
		return nil, 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, false, err
	}

	s.DurationMinutes = durationMinutes
	s.TotalCharge = charge
	s.Shortfall = shortfall
	return s, collected, true, nil
}

// collectTx moves min(charge, consumer balance) from consumer to provider
// inside the caller's transaction. Rows are locked in ascending id order,
// matching the ledger's transfer discipline.
func (r *repository) collectTx(ctx context.Context, tx *sqlx.Tx, s *Session, charge int64) (int64, error) {
	lockOrder := []int{s.ConsumerAccount, s.ProviderAccount}
	if s.ProviderAccount < s.ConsumerAccount {
		lockOrder = []int{s.ProviderAccount, s.ConsumerAccount}
	}

	balances := make(map[int]int64, 2)
	for _, accountID := range lockOrder {
		var balance int64
		err := tx.QueryRowxContext(ctx,
			`SELECT balance_tokens FROM accounts WHERE id = $1 FOR UPDATE`,
			accountID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, ledger.ErrAccountNotFound
			}
			return 0, err
		}
		balances[accountID] = balance
	}

	amount := charge
	if balance := balances[s.ConsumerAccount]; balance < amount {
		amount = balance
	}
	if amount <= 0 {
		return 0, nil
	}

	reference := fmt.Sprintf("session:%d", s.ID)
	err := applyAccountTx(ctx, tx, s.ConsumerAccount, balances[s.ConsumerAccount]-amount, -amount, ledger.EntrySessionCharge, reference)
	if err != nil {
		return 0, err
	}
	err = applyAccountTx(ctx, tx, s.ProviderAccount, balances[s.ProviderAccount]+amount, amount, ledger.EntrySessionEarning, reference)
	if err != nil {
		return 0, err
	}

	return amount, nil
}

func applyAccountTx(ctx context.Context, tx *sqlx.Tx, accountID int, newBalance, delta int64, entryType, reference string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance_tokens = $1, reserved_tokens = LEAST(reserved_tokens, $1), updated_at = NOW()
		 WHERE id = $2`,
		newBalance, accountID,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, delta, type, reference, balance_after)
		 VALUES ($1, $2, $3, $4, $5)`,
		accountID, delta, entryType, reference, newBalance,
	)
	if err != nil {
		return err
	}

	return outbox.InsertTx(ctx, tx, outbox.TopicBalanceAdjusted, map[string]interface{}{
		"account_id":    accountID,
		"delta":         delta,
		"type":          entryType,
		"reference":     reference,
		"balance_after": newBalance,
	})
}
