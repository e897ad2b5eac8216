package payout

import "time"

const (
	IntentStatusPending  = "pending"
	IntentStatusConsumed = "consumed"
	IntentStatusCanceled = "canceled"
)

// Intent is a creator's standing request to be included in the next
// withdrawal cycle. One pending intent per account per cycle.
type Intent struct {
	ID          int        `db:"id" json:"id"`
	AccountID   int        `db:"account_id" json:"account_id"`
	CycleDate   time.Time  `db:"cycle_date" json:"cycle_date"`
	Status      string     `db:"status" json:"status"`
	RequestedAt time.Time  `db:"requested_at" json:"requested_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Record is the settled outcome of one account within a batch run: the
// tokens debited and the cash amount handed to the payment rail.
type Record struct {
	ID          int       `db:"id" json:"id"`
	AccountID   int       `db:"account_id" json:"account_id"`
	Tokens      int64     `db:"tokens" json:"tokens"`
	AmountCents int64     `db:"amount_cents" json:"amount_cents"`
	Status      string    `db:"status" json:"status"`
	CycleDate   time.Time `db:"cycle_date" json:"cycle_date"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

const (
	RecordStatusProcessing = "processing"
	RecordStatusPaid       = "paid"
	RecordStatusFailed     = "failed"
)

// RunSummary reports what a batch run did, per outcome.
type RunSummary struct {
	CycleDate time.Time `json:"cycle_date"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}
