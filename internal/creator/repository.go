package creator

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var (
	ErrProfileNotFound     = errors.New("creator profile not found")
	ErrInvalidRate         = errors.New("rate must be positive")
	ErrNoPayoutForAutoDraw = errors.New("auto-withdraw requires a payout destination")
)

const profileColumns = `id, account_id, display_name, rate_per_minute, auto_withdraw, payout_destination, last_withdrawal_at, created_at, updated_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetOrCreate(ctx context.Context, accountID int, displayName string) (*Profile, error) {
	p := &Profile{}
	err := r.db.GetContext(ctx, p,
		`SELECT `+profileColumns+` FROM creator_profiles WHERE account_id = $1`, accountID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO creator_profiles (account_id, display_name)
		 VALUES ($1, $2)
		 ON CONFLICT (account_id) DO UPDATE SET updated_at = NOW()
		 RETURNING `+profileColumns,
		accountID, displayName,
	).StructScan(p)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (r *repository) GetByAccountID(ctx context.Context, accountID int) (*Profile, error) {
	p := &Profile{}
	err := r.db.GetContext(ctx, p,
		`SELECT `+profileColumns+` FROM creator_profiles WHERE account_id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *repository) UpdateRate(ctx context.Context, accountID int, ratePerMinute int64) error {
	if ratePerMinute <= 0 {
		return ErrInvalidRate
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE creator_profiles
		 SET rate_per_minute = $1, updated_at = NOW()
		 WHERE account_id = $2`,
		ratePerMinute, accountID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *repository) UpdatePayout(ctx context.Context, accountID int, destination string, autoWithdraw bool) error {
	if autoWithdraw && destination == "" {
		return ErrNoPayoutForAutoDraw
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE creator_profiles
		 SET payout_destination = $1, auto_withdraw = $2, updated_at = NOW()
		 WHERE account_id = $3`,
		destination, autoWithdraw, accountID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}
