package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"meterpay/internal/outbox"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrReserveExceedsFunds = errors.New("reserved amount exceeds balance")
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetOrCreateAccount(ctx context.Context, subject string) (*Account, error) {
	a := &Account{}
	err := r.db.GetContext(ctx, a,
		`SELECT id, subject, balance_tokens, reserved_tokens, created_at, updated_at
		 FROM accounts WHERE subject = $1`,
		subject,
	)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO accounts (subject)
		 VALUES ($1)
		 ON CONFLICT (subject) DO UPDATE SET updated_at = NOW()
		 RETURNING id, subject, balance_tokens, reserved_tokens, created_at, updated_at`,
		subject,
	).StructScan(a)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (r *repository) GetAccountByID(ctx context.Context, id int) (*Account, error) {
	a := &Account{}
	err := r.db.GetContext(ctx, a,
		`SELECT id, subject, balance_tokens, reserved_tokens, created_at, updated_at
		 FROM accounts WHERE id = $1`,
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

// lockAccount takes the row lock that serializes every mutation of this
// account for the rest of the transaction.
func lockAccount(ctx context.Context, tx *sqlx.Tx, accountID int) (*Account, error) {
	a := &Account{}
	err := tx.QueryRowxContext(ctx,
		`SELECT id, subject, balance_tokens, reserved_tokens, created_at, updated_at
		 FROM accounts
		 WHERE id = $1
		 FOR UPDATE`,
		accountID,
	).StructScan(a)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

// applyEntryTx mutates one locked account: balance check, materialized
// balance update, append-only entry, outbox row. Caller owns the transaction.
// A debit below the reservation drags reserved_tokens down with it, so
// reserved never exceeds balance on disk.
func applyEntryTx(ctx context.Context, tx *sqlx.Tx, a *Account, delta int64, entryType, reference string) (int64, error) {
	newBalance := a.BalanceTokens + delta
	if newBalance < 0 {
		return 0, ErrInsufficientBalance
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance_tokens = $1, reserved_tokens = LEAST(reserved_tokens, $1), updated_at = NOW()
		 WHERE id = $2`,
		newBalance, a.ID,
	)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, delta, type, reference, balance_after)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, delta, entryType, reference, newBalance,
	)
	if err != nil {
		return 0, err
	}

	err = outbox.InsertTx(ctx, tx, outbox.TopicBalanceAdjusted, map[string]interface{}{
		"account_id":    a.ID,
		"delta":         delta,
		"type":          entryType,
		"reference":     reference,
		"balance_after": newBalance,
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

func (r *repository) ApplyEntry(ctx context.Context, accountID int, delta int64, entryType, reference string) (*Account, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	newBalance, err := applyEntryTx(ctx, tx, a, delta, entryType, reference)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	a.BalanceTokens = newBalance
	return a, nil
}

// Transfer debits from and credits to as one all-or-nothing transaction.
// Rows are locked in ascending id order so concurrent transfers over the
// same pair cannot deadlock.
func (r *repository) Transfer(ctx context.Context, fromID, toID int, amount int64, debitType, creditType, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromID == toID {
		return fmt.Errorf("cannot transfer from account %d to itself", fromID)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lockOrder := []int{fromID, toID}
	if toID < fromID {
		lockOrder = []int{toID, fromID}
	}

	locked := make(map[int]*Account, 2)
	for _, id := range lockOrder {
		a, err := lockAccount(ctx, tx, id)
		if err != nil {
			return err
		}
		locked[id] = a
	}

	// Debit first: a failed debit aborts before any credit is applied.
	if _, err := applyEntryTx(ctx, tx, locked[fromID], -amount, debitType, reference); err != nil {
		return err
	}
	if _, err := applyEntryTx(ctx, tx, locked[toID], amount, creditType, reference); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *repository) GetBalance(ctx context.Context, accountID int) (int64, error) {
	var balance int64
	err := r.db.GetContext(ctx, &balance,
		`SELECT balance_tokens FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *repository) GetReserved(ctx context.Context, accountID int) (int64, error) {
	var reserved int64
	err := r.db.GetContext(ctx, &reserved,
		`SELECT reserved_tokens FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return reserved, nil
}

// Reserve sets the portion of the balance excluded from withdrawal.
func (r *repository) Reserve(ctx context.Context, accountID int, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}

	if amount > a.BalanceTokens {
		return ErrReserveExceedsFunds
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts
		 SET reserved_tokens = $1, updated_at = NOW()
		 WHERE id = $2`,
		amount, a.ID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *repository) ListEntries(ctx context.Context, accountID int, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []Entry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, account_id, delta, type, reference, balance_after, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}

	return entries, nil
}
