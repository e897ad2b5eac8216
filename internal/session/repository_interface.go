package session

import (
	"context"
	"time"
)

type Repository interface {
	CreateSession(ctx context.Context, consumerAccount, providerAccount int, sessionType, chargeMode string, ratePerMinute int64) (*Session, error)
	GetByID(ctx context.Context, id int) (*Session, error)
	// Settle closes an active session and collects the charge as one
	// transaction: the status flip, the transfer entries, and the recorded
	// totals commit or roll back together. won=false means another caller
	// closed it first; the stored row is returned. collected is the amount
	// actually moved, capped at the consumer's balance.
	Settle(ctx context.Context, id int, endedAt time.Time, durationMinutes, charge int64) (sess *Session, collected int64, won bool, err error)
}
