package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"meterpay/internal/ledger"
	"meterpay/internal/logger"
	"meterpay/internal/metrics"
	"meterpay/internal/payment"
)

type Service interface {
	Process(ctx context.Context, envelope Envelope, payload json.RawMessage) (string, error)
}

type service struct {
	repo        Repository
	paymentRepo payment.Repository
	ledgerRepo  ledger.Repository
}

func NewService(repo Repository, paymentRepo payment.Repository, ledgerRepo ledger.Repository) Service {
	return &service{
		repo:        repo,
		paymentRepo: paymentRepo,
		ledgerRepo:  ledgerRepo,
	}
}

// Process applies one processor event at most once. Redeliveries and
// out-of-order events degrade into no-ops; conflicts are logged and
// acknowledged so the processor stops redelivering them.
func (s *service) Process(ctx context.Context, envelope Envelope, payload json.RawMessage) (string, error) {
	inserted, err := s.repo.InsertEvent(ctx, envelope.ID, envelope.Type, payload)
	if err != nil {
		return "", err
	}
	if !inserted {
		metrics.RecordWebhookEvent(envelope.Type, ResultDuplicate)
		return ResultDuplicate, nil
	}

	result, err := s.apply(ctx, envelope)
	if err != nil {
		if relErr := s.repo.ReleaseEvent(ctx, envelope.ID); relErr != nil {
			logger.Errorf("Failed to release webhook event %s: %v", envelope.ID, relErr)
		}
		return "", err
	}

	if err := s.repo.MarkProcessed(ctx, envelope.ID); err != nil {
		logger.Errorf("Failed to mark webhook event %s processed: %v", envelope.ID, err)
	}

	metrics.RecordWebhookEvent(envelope.Type, result)
	return result, nil
}

func (s *service) apply(ctx context.Context, envelope Envelope) (string, error) {
	switch envelope.Type {
	case TypeIntentSucceeded, TypeIntentFailed, TypeIntentRefunded:
	default:
		logger.Warnf("Unrecognized webhook event type %q (event %s), acknowledging", envelope.Type, envelope.ID)
		return ResultIgnored, nil
	}

	intent, err := s.paymentRepo.GetByExternalID(ctx, envelope.Data.IntentID)
	if err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			logger.Warnf("Webhook event %s references unknown intent %q", envelope.ID, envelope.Data.IntentID)
			return ResultConflict, nil
		}
		return "", err
	}

	switch envelope.Type {
	case TypeIntentSucceeded:
		return s.applySuccess(ctx, intent)
	case TypeIntentFailed:
		return s.applyFailure(ctx, intent)
	default:
		return s.applyRefund(ctx, intent)
	}
}

func (s *service) applySuccess(ctx context.Context, intent *payment.Intent) (string, error) {
	if intent.Status == payment.StatusCompleted {
		// Replayed terminal state: no-op, not an error.
		return ResultProcessed, nil
	}
	if !payment.CanTransition(intent.Status, payment.StatusCompleted) {
		logger.Warnf("Success event for intent %d in terminal state %s, ignoring", intent.ID, intent.Status)
		return ResultConflict, nil
	}

	// Claim and credit are one transaction: a transient failure rolls the
	// claim back, so the released event can be credited on redelivery. A
	// lost claim means the credit is already on the ledger.
	if _, err := s.paymentRepo.CreditIntent(ctx, intent.ID, intent.ConsumerAccount, intent.AmountTokens); err != nil {
		return "", fmt.Errorf("credit for intent %d: %w", intent.ID, err)
	}

	if _, err := s.paymentRepo.TransitionStatus(ctx, intent.ID, intent.Status, payment.StatusCompleted); err != nil {
		return "", err
	}
	return ResultProcessed, nil
}

func (s *service) applyFailure(ctx context.Context, intent *payment.Intent) (string, error) {
	if intent.Status == payment.StatusFailed {
		return ResultProcessed, nil
	}
	if !payment.CanTransition(intent.Status, payment.StatusFailed) {
		logger.Warnf("Failure event for intent %d in terminal state %s, ignoring", intent.ID, intent.Status)
		return ResultConflict, nil
	}

	// Failure never touches the ledger.
	if _, err := s.paymentRepo.TransitionStatus(ctx, intent.ID, intent.Status, payment.StatusFailed); err != nil {
		return "", err
	}
	return ResultProcessed, nil
}

func (s *service) applyRefund(ctx context.Context, intent *payment.Intent) (string, error) {
	if intent.Status == payment.StatusRefunded {
		return ResultProcessed, nil
	}
	if !payment.CanTransition(intent.Status, payment.StatusRefunded) {
		logger.Warnf("Refund event for intent %d in state %s, ignoring", intent.ID, intent.Status)
		return ResultConflict, nil
	}

	applied, err := s.paymentRepo.TransitionStatus(ctx, intent.ID, intent.Status, payment.StatusRefunded)
	if err != nil {
		return "", err
	}
	if !applied {
		return ResultConflict, nil
	}

	// Claw back what is still there; spent tokens cannot go negative.
	balance, err := s.ledgerRepo.GetBalance(ctx, intent.ConsumerAccount)
	if err != nil {
		return "", err
	}

	debit := intent.AmountTokens
	if balance < debit {
		logger.Warnf("Refund for intent %d capped at %d of %d tokens", intent.ID, balance, debit)
		debit = balance
	}
	if debit > 0 {
		reference := fmt.Sprintf("intent:%d", intent.ID)
		if _, err := s.ledgerRepo.ApplyEntry(ctx, intent.ConsumerAccount, -debit, ledger.EntryRefund, reference); err != nil {
			return "", err
		}
	}

	return ResultProcessed, nil
}
