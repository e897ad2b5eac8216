package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meterpay/internal/creator"
	"meterpay/internal/ledger"
	"meterpay/internal/logger"
	"meterpay/internal/metrics"
)

var (
	ErrSelfSession         = errors.New("cannot start a session with yourself")
	ErrInvalidSessionType  = errors.New("invalid session type")
	ErrProviderUnavailable = errors.New("provider has not published a rate")
	ErrNotParticipant      = errors.New("not a participant of this session")
)

// InsufficientBalanceError carries what the consumer needs to know to fix
// the problem.
type InsufficientBalanceError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d", e.Balance, e.Required)
}

type Service interface {
	Start(ctx context.Context, consumerAccount, providerAccount int, sessionType string) (*Session, error)
	End(ctx context.Context, sessionID, callerAccount int) (*Session, error)
	Get(ctx context.Context, sessionID, callerAccount int) (*Session, error)
}

type service struct {
	repo        Repository
	creatorRepo creator.Repository
	ledgerRepo  ledger.Repository
}

func NewService(repo Repository, creatorRepo creator.Repository, ledgerRepo ledger.Repository) Service {
	return &service{
		repo:        repo,
		creatorRepo: creatorRepo,
		ledgerRepo:  ledgerRepo,
	}
}

// Start locks in the provider's currently published rate and, in live mode,
// requires the consumer to hold at least one minute's charge.
func (s *service) Start(ctx context.Context, consumerAccount, providerAccount int, sessionType string) (*Session, error) {
	if consumerAccount == providerAccount {
		return nil, ErrSelfSession
	}
	if !ValidType(sessionType) {
		return nil, ErrInvalidSessionType
	}

	profile, err := s.creatorRepo.GetByAccountID(ctx, providerAccount)
	if err != nil {
		if errors.Is(err, creator.ErrProfileNotFound) {
			return nil, ErrProviderUnavailable
		}
		return nil, err
	}
	if profile.RatePerMinute <= 0 {
		return nil, ErrProviderUnavailable
	}

	mode := ChargeModeFor(sessionType)
	if mode == ModeLive {
		balance, err := s.ledgerRepo.GetBalance(ctx, consumerAccount)
		if err != nil {
			return nil, err
		}
		if balance < profile.RatePerMinute {
			return nil, &InsufficientBalanceError{Balance: balance, Required: profile.RatePerMinute}
		}
	}

	return s.repo.CreateSession(ctx, consumerAccount, providerAccount, sessionType, mode, profile.RatePerMinute)
}

// End settles the session exactly once. Losing a concurrent close race, or
// ending an already-closed session, returns the stored result without
// charging again. The claim and the charge are one transaction in the
// repository, so a transient failure leaves the session active for a retry
// instead of closed with nothing collected.
func (s *service) End(ctx context.Context, sessionID, callerAccount int) (*Session, error) {
	existing, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if callerAccount != existing.ConsumerAccount && callerAccount != existing.ProviderAccount {
		return nil, ErrNotParticipant
	}
	if existing.Status == StatusCompleted {
		return existing, nil
	}

	endedAt := time.Now()

	// Always round up: a 90s call is 2 billable minutes.
	elapsed := endedAt.Sub(existing.StartedAt)
	minutes := int64((elapsed + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	charge := minutes * existing.RatePerMinute

	sess, collected, won, err := s.repo.Settle(ctx, sessionID, endedAt, minutes, charge)
	if err != nil {
		return nil, err
	}
	if !won {
		return sess, nil
	}

	if shortfall := charge - collected; shortfall > 0 {
		// Policy exception: the session still closes with its recorded
		// duration; the uncollected remainder is logged, never silently
		// dropped.
		logger.Warnf("Session %d closed with shortfall: charged %d of %d tokens", sess.ID, collected, charge)
	}

	metrics.RecordSessionSettled(sess.Type, collected, sess.Shortfall > 0)
	return sess, nil
}

func (s *service) Get(ctx context.Context, sessionID, callerAccount int) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if callerAccount != sess.ConsumerAccount && callerAccount != sess.ProviderAccount {
		return nil, ErrNotParticipant
	}
	return sess, nil
}
