package outbox

import (
	"encoding/json"
	"time"
)

// Row is a notification recorded in the same transaction as a ledger
// mutation. Delivery happens asynchronously; a failed dispatch never rolls
// back money movement and an undelivered row is retried on the next poll.
type Row struct {
	ID           int             `db:"id" json:"id"`
	Topic        string          `db:"topic" json:"topic"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	DispatchedAt *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
}

const (
	TopicPurchaseCredited = "purchase.credited"
	TopicSessionSettled   = "session.settled"
	TopicRefundApplied    = "refund.applied"
	TopicPayoutProcessed  = "payout.processed"
	TopicBalanceAdjusted  = "balance.adjusted"
)
