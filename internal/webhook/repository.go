package webhook

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	InsertEvent(ctx context.Context, externalEventID, eventType string, payload json.RawMessage) (bool, error)
	MarkProcessed(ctx context.Context, externalEventID string) error
	ReleaseEvent(ctx context.Context, externalEventID string) error
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// InsertEvent claims the event id. A false return means the processor
// redelivered an event we have already seen.
func (r *repository) InsertEvent(ctx context.Context, externalEventID, eventType string, payload json.RawMessage) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (external_event_id, type, payload)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (external_event_id) DO NOTHING`,
		externalEventID, eventType, payload,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *repository) MarkProcessed(ctx context.Context, externalEventID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET processed_at = NOW() WHERE external_event_id = $1`,
		externalEventID,
	)
	return err
}

// ReleaseEvent frees the id claim after a processing failure so the
// processor's redelivery gets another attempt.
func (r *repository) ReleaseEvent(ctx context.Context, externalEventID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE external_event_id = $1 AND processed_at IS NULL`,
		externalEventID,
	)
	return err
}
