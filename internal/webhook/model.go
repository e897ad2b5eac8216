package webhook

import (
	"encoding/json"
	"time"
)

// Event is an inbound processor event, keyed by the processor's event id.
// Delivery is at-least-once and possibly out of order; the unique id row is
// what makes application at-most-once.
type Event struct {
	ID              int             `db:"id" json:"id"`
	ExternalEventID string          `db:"external_event_id" json:"external_event_id"`
	Type            string          `db:"type" json:"type"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

const (
	TypeIntentSucceeded = "payment_intent.succeeded"
	TypeIntentFailed    = "payment_intent.failed"
	TypeIntentRefunded  = "payment_intent.refunded"
)

// Envelope is the wire shape of a processor webhook.
type Envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		IntentID string `json:"intent_id"`
	} `json:"data"`
}

// Processing results, surfaced in the acknowledgement body and metrics.
const (
	ResultProcessed = "processed"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultConflict  = "conflict"
)
