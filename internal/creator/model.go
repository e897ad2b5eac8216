package creator

import (
	"database/sql"
	"time"
)

// Profile is the provider-side face of an account: the published per-minute
// rate consumers are quoted, and the payout configuration the withdrawal
// batch reads.
type Profile struct {
	ID                int            `db:"id" json:"id"`
	AccountID         int            `db:"account_id" json:"account_id"`
	DisplayName       string         `db:"display_name" json:"display_name"`
	RatePerMinute     int64          `db:"rate_per_minute" json:"rate_per_minute"`
	AutoWithdraw      bool           `db:"auto_withdraw" json:"auto_withdraw"`
	PayoutDestination sql.NullString `db:"payout_destination" json:"-"`
	LastWithdrawalAt  *time.Time     `db:"last_withdrawal_at" json:"last_withdrawal_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

func (p *Profile) HasPayoutDestination() bool {
	return p.PayoutDestination.Valid && p.PayoutDestination.String != ""
}
