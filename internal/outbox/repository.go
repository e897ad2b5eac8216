package outbox

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
)

// InsertTx appends an outbox row inside the caller's transaction so the
// notification commits or rolls back together with the ledger mutation.
func InsertTx(ctx context.Context, tx *sqlx.Tx, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (topic, payload) VALUES ($1, $2)`,
		topic, data,
	)
	return err
}

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FetchUndispatched(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []Row
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, topic, payload, created_at, dispatched_at
		FROM outbox
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *Repository) MarkDispatched(ctx context.Context, id int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET dispatched_at = NOW() WHERE id = $1 AND dispatched_at IS NULL`,
		id,
	)
	return err
}
