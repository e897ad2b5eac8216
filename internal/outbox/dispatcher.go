package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"meterpay/internal/logger"
	"meterpay/internal/metrics"
)

const (
	queueKey     = "notifications"
	pollInterval = 2 * time.Second
	batchSize    = 100
)

// Dispatcher drains undispatched outbox rows into a redis list consumed by
// the external notifier. Everything past the queue is out of scope here.
type Dispatcher struct {
	repo  *Repository
	redis *redis.Client
}

func NewDispatcher(db *sqlx.DB, redisAddr string) *Dispatcher {
	return &Dispatcher{
		repo: NewRepository(db),
		redis: redis.NewClient(&redis.Options{
			Addr: redisAddr,
		}),
	}
}

func NewDispatcherWithClient(db *sqlx.DB, client *redis.Client) *Dispatcher {
	return &Dispatcher{
		repo:  NewRepository(db),
		redis: client,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	logger.Info("Outbox dispatcher started")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.dispatchPending(ctx)
		}
	}
}

func (d *Dispatcher) dispatchPending(ctx context.Context) {
	rows, err := d.repo.FetchUndispatched(ctx, batchSize)
	if err != nil {
		logger.Errorf("Failed to fetch outbox rows: %v", err)
		return
	}

	for _, row := range rows {
		if err := d.publish(ctx, row); err != nil {
			// Row stays undispatched and is retried on the next poll.
			logger.Errorf("Failed to publish outbox row %d: %v", row.ID, err)
			return
		}

		if err := d.repo.MarkDispatched(ctx, row.ID); err != nil {
			logger.Errorf("Failed to mark outbox row %d dispatched: %v", row.ID, err)
			return
		}
	}

	if length, err := d.QueueLength(ctx); err == nil {
		metrics.OutboxQueueLength.Set(float64(length))
	}
}

func (d *Dispatcher) publish(ctx context.Context, row Row) error {
	msg, err := json.Marshal(map[string]interface{}{
		"id":      row.ID,
		"topic":   row.Topic,
		"payload": row.Payload,
		"created": row.CreatedAt,
	})
	if err != nil {
		return err
	}

	return d.redis.LPush(ctx, queueKey, msg).Err()
}

func (d *Dispatcher) QueueLength(ctx context.Context) (int64, error) {
	return d.redis.LLen(ctx, queueKey).Result()
}

func (d *Dispatcher) Close() error {
	return d.redis.Close()
}
