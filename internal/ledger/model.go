package ledger

import "time"

// Account holds the materialized token balance for one identity subject.
// Reserved tokens are part of the balance but excluded from withdrawal.
type Account struct {
	ID             int       `db:"id" json:"id"`
	Subject        string    `db:"subject" json:"subject"`
	BalanceTokens  int64     `db:"balance_tokens" json:"balance_tokens"`
	ReservedTokens int64     `db:"reserved_tokens" json:"reserved_tokens"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Entry is an immutable balance delta. Corrections are new adjustment
// entries, never updates.
type Entry struct {
	ID           int       `db:"id" json:"id"`
	AccountID    int       `db:"account_id" json:"account_id"`
	Delta        int64     `db:"delta" json:"delta"`
	Type         string    `db:"type" json:"type"`
	Reference    string    `db:"reference" json:"reference"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

const (
	EntryPurchase       = "purchase"
	EntrySessionCharge  = "session_charge"
	EntrySessionEarning = "session_earning"
	EntryRefund         = "refund"
	EntryWithdrawal     = "withdrawal"
	EntryAdjustment     = "adjustment"
)
