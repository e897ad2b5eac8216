package payment

import (
	"database/sql"
	"time"
)

const (
	StatusPending        = "pending"
	StatusRequiresAction = "requires_action"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusRefunded       = "refunded"
)

// Intent is the local record of one external charge attempt. The row exists
// under its unique idempotency key before the processor is ever called, so a
// crash mid-call leaves a retryable record instead of an orphaned charge.
type Intent struct {
	ID              int            `db:"id" json:"id"`
	ExternalID      sql.NullString `db:"external_id" json:"-"`
	IdempotencyKey  string         `db:"idempotency_key" json:"-"`
	ConsumerAccount int            `db:"consumer_account" json:"consumer_account"`
	AmountTokens    int64          `db:"amount_tokens" json:"amount_tokens"`
	AmountCents     int64          `db:"amount_cents" json:"amount_cents"`
	Currency        string         `db:"currency" json:"currency"`
	Status          string         `db:"status" json:"status"`
	Purpose         string         `db:"purpose" json:"purpose"`
	Credited        bool           `db:"credited" json:"-"`
	ClientSecret    string         `db:"client_secret" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// statusRank orders intent states so transitions only ever move forward.
// Replaying a terminal state is a no-op, never an error.
var statusRank = map[string]int{
	StatusPending:        1,
	StatusRequiresAction: 2,
	StatusCompleted:      3,
	StatusFailed:         3,
	StatusRefunded:       4,
}

// CanTransition reports whether from -> to is a forward move. refunded is
// reachable only from completed.
func CanTransition(from, to string) bool {
	if to == StatusRefunded {
		return from == StatusCompleted
	}
	return statusRank[to] > statusRank[from]
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusRefunded
}
