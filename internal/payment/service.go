package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"meterpay/internal/logger"
	"meterpay/internal/metrics"
)

var ErrInvalidPurchase = errors.New("token amount must be positive")

type Service interface {
	// CreateIntent returns the intent, the processor client secret (empty
	// when none is needed), and whether the call collapsed into an existing
	// intent from the same idempotency bucket.
	CreateIntent(ctx context.Context, consumerAccount int, tokens int64, purpose string) (*Intent, string, bool, error)
}

type service struct {
	repo            Repository
	processor       Processor
	window          time.Duration
	tokenPriceCents int64
	currency        string
	now             func() time.Time
}

func NewService(repo Repository, processor Processor, windowSeconds int, tokenPriceCents int64) Service {
	return &service{
		repo:            repo,
		processor:       processor,
		window:          time.Duration(windowSeconds) * time.Second,
		tokenPriceCents: tokenPriceCents,
		currency:        "usd",
		now:             time.Now,
	}
}

func (s *service) CreateIntent(ctx context.Context, consumerAccount int, tokens int64, purpose string) (*Intent, string, bool, error) {
	if tokens <= 0 {
		return nil, "", false, ErrInvalidPurchase
	}
	if purpose == "" {
		purpose = fmt.Sprintf("tokens:%d", tokens)
	}

	amountCents := tokens * s.tokenPriceCents
	key := IdempotencyKey(consumerAccount, purpose, amountCents, s.now(), s.window)

	// The local row is committed before the external call. No DB transaction
	// stays open across the network hop.
	duplicate := false
	intent, err := s.repo.CreateIntent(ctx, &Intent{
		IdempotencyKey:  key,
		ConsumerAccount: consumerAccount,
		AmountTokens:    tokens,
		AmountCents:     amountCents,
		Currency:        s.currency,
		Purpose:         purpose,
	})
	if errors.Is(err, ErrDuplicateIntent) {
		metrics.RecordPaymentIntent("duplicate")
		if intent.ExternalID.Valid {
			logger.Infof("Duplicate intent submission collapsed into intent %d", intent.ID)
			return intent, intent.ClientSecret, true, nil
		}
		// The stored row never reached the processor (a crash mid-call).
		// Re-drive the call under the same key; the processor dedupes it.
		logger.Infof("Resuming intent %d that never reached the processor", intent.ID)
		duplicate = true
	} else if err != nil {
		return nil, "", false, err
	}

	resp, err := s.processor.CreateIntent(ctx, CreateIntentRequest{
		AmountCents:    amountCents,
		Currency:       s.currency,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"account": strconv.Itoa(consumerAccount),
			"purpose": purpose,
			"tokens":  strconv.FormatInt(tokens, 10),
		},
	})
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			if gwErr.IsDecline() {
				// Declines are final for this attempt.
				if _, terr := s.repo.TransitionStatus(ctx, intent.ID, StatusPending, StatusFailed); terr != nil {
					logger.Errorf("Failed to mark intent %d failed: %v", intent.ID, terr)
				}
				metrics.RecordPaymentIntent("declined")
			} else {
				// Processing faults leave the row pending; the client can
				// safely retry under a fresh idempotency bucket.
				metrics.RecordPaymentIntent("gateway_error")
			}
			return nil, "", false, gwErr
		}
		return nil, "", false, err
	}

	if err := s.repo.SetProcessorResult(ctx, intent.ID, resp.IntentID, resp.ClientSecret); err != nil {
		logger.Errorf("Failed to store processor result for intent %d: %v", intent.ID, err)
	}
	intent.ExternalID.String = resp.IntentID
	intent.ExternalID.Valid = true
	intent.ClientSecret = resp.ClientSecret

	switch resp.Status {
	case ProcessorSucceeded:
		if err := s.settleImmediate(ctx, intent); err != nil {
			return nil, "", false, err
		}
		metrics.RecordPaymentIntent("completed")
	case ProcessorRequiresAction:
		if _, err := s.repo.TransitionStatus(ctx, intent.ID, StatusPending, StatusRequiresAction); err != nil {
			return nil, "", false, err
		}
		intent.Status = StatusRequiresAction
		metrics.RecordPaymentIntent("requires_action")
	default:
		// pending: the webhook will finish the job.
		metrics.RecordPaymentIntent("pending")
	}

	return intent, resp.ClientSecret, duplicate, nil
}

// settleImmediate handles a synchronous success response: apply the single
// credit, then advance the intent. CreditIntent claims and credits in one
// transaction, so the webhook can never double-credit the same intent and a
// failed credit stays claimable for redelivery.
func (s *service) settleImmediate(ctx context.Context, intent *Intent) error {
	if _, err := s.repo.CreditIntent(ctx, intent.ID, intent.ConsumerAccount, intent.AmountTokens); err != nil {
		return fmt.Errorf("credit for intent %d: %w", intent.ID, err)
	}

	if _, err := s.repo.TransitionStatus(ctx, intent.ID, StatusPending, StatusCompleted); err != nil {
		return err
	}
	intent.Status = StatusCompleted
	return nil
}
