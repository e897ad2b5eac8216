package payout

import (
	"context"
	"errors"
	"time"

	"meterpay/internal/creator"
	"meterpay/internal/logger"
	"meterpay/internal/metrics"
)

var ErrNoPayoutDestination = errors.New("payout destination not configured")

type Service interface {
	// RequestWithdrawal enrolls the account in the next withdrawal cycle.
	RequestWithdrawal(ctx context.Context, accountID int) (*Intent, error)
	CancelWithdrawal(ctx context.Context, accountID int) error
	GetIntent(ctx context.Context, accountID int) (*Intent, error)

	// Run settles every eligible account for the cycle containing now. One
	// account failing never aborts the batch.
	Run(ctx context.Context, now time.Time) (*RunSummary, error)
}

type service struct {
	repo        Repository
	creatorRepo creator.Repository
	minTokens   int64
	rate        float64
}

func NewService(repo Repository, creatorRepo creator.Repository, minTokens int64, redemptionRate float64) Service {
	return &service{
		repo:        repo,
		creatorRepo: creatorRepo,
		minTokens:   minTokens,
		rate:        redemptionRate,
	}
}

func (s *service) RequestWithdrawal(ctx context.Context, accountID int) (*Intent, error) {
	profile, err := s.creatorRepo.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !profile.HasPayoutDestination() {
		return nil, ErrNoPayoutDestination
	}

	return s.repo.CreateIntent(ctx, accountID, NextCycleAfter(time.Now()))
}

func (s *service) CancelWithdrawal(ctx context.Context, accountID int) error {
	return s.repo.CancelIntent(ctx, accountID)
}

func (s *service) GetIntent(ctx context.Context, accountID int) (*Intent, error) {
	return s.repo.GetPendingIntent(ctx, accountID)
}

func (s *service) Run(ctx context.Context, now time.Time) (*RunSummary, error) {
	cycle := CycleFor(now)

	accounts, err := s.repo.ListEligible(ctx, cycle)
	if err != nil {
		return nil, err
	}

	metrics.RecordPayoutRun()
	summary := &RunSummary{CycleDate: cycle}

	for _, accountID := range accounts {
		rec, err := s.repo.SettleAccount(ctx, accountID, cycle, s.minTokens, s.rate)
		switch {
		case err == nil:
			summary.Processed++
			metrics.RecordPayout("processed")
			logger.Infof("Payout settled: account=%d tokens=%d amount_cents=%d cycle=%s",
				accountID, rec.Tokens, rec.AmountCents, cycle.Format("2006-01-02"))
		case errors.Is(err, ErrBelowMinimum):
			summary.Skipped++
			metrics.RecordPayout("skipped")
			logger.Infof("Payout skipped: account=%d withdrawable below minimum %d, cycle=%s",
				accountID, s.minTokens, cycle.Format("2006-01-02"))
		default:
			summary.Failed++
			metrics.RecordPayout("failed")
			logger.Warnf("Payout failed for account %d: %v", accountID, err)
		}
	}

	logger.Infof("Payout run complete: cycle=%s processed=%d skipped=%d failed=%d",
		cycle.Format("2006-01-02"), summary.Processed, summary.Skipped, summary.Failed)
	return summary, nil
}
