package payment

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockIntentRepo struct{ mock.Mock }
type MockProcessor struct{ mock.Mock }

func (m *MockIntentRepo) CreateIntent(ctx context.Context, intent *Intent) (*Intent, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Intent), args.Error(1)
}

func (m *MockIntentRepo) GetByID(ctx context.Context, id int) (*Intent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Intent), args.Error(1)
}

func (m *MockIntentRepo) GetByExternalID(ctx context.Context, externalID string) (*Intent, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Intent), args.Error(1)
}

func (m *MockIntentRepo) SetProcessorResult(ctx context.Context, id int, externalID, clientSecret string) error {
	return m.Called(ctx, id, externalID, clientSecret).Error(0)
}

func (m *MockIntentRepo) TransitionStatus(ctx context.Context, id int, from, to string) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockIntentRepo) CreditIntent(ctx context.Context, intentID, accountID int, tokens int64) (bool, error) {
	args := m.Called(ctx, intentID, accountID, tokens)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcessor) CreateIntent(ctx context.Context, req CreateIntentRequest) (*CreateIntentResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CreateIntentResponse), args.Error(1)
}

func newTestService(repo Repository, processor Processor) Service {
	return NewService(repo, processor, 10, 10)
}

func TestCreateIntent_DuplicateReturnsOriginalResult(t *testing.T) {
	repo := new(MockIntentRepo)
	processor := new(MockProcessor)

	stored := &Intent{
		ID:              11,
		ExternalID:      sql.NullString{String: "pi_11", Valid: true},
		ConsumerAccount: 3,
		AmountTokens:    500,
		Status:          StatusPending,
		ClientSecret:    "cs_orig",
	}
	repo.On("CreateIntent", mock.Anything, mock.Anything).Return(stored, ErrDuplicateIntent)

	svc := newTestService(repo, processor)
	intent, secret, duplicate, err := svc.CreateIntent(context.Background(), 3, 500, "")

	assert.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, "cs_orig", secret)
	assert.Equal(t, 11, intent.ID)
	processor.AssertNotCalled(t, "CreateIntent")
	repo.AssertNotCalled(t, "CreditIntent")
}

func TestCreateIntent_DuplicateWithoutProcessorCallResumes(t *testing.T) {
	repo := new(MockIntentRepo)
	processor := new(MockProcessor)

	// The stored row crashed before the processor call: external_id is NULL,
	// so the same key is re-driven instead of handing back a dead row.
	stored := &Intent{ID: 12, ConsumerAccount: 3, AmountTokens: 500, AmountCents: 5000, Status: StatusPending}
	repo.On("CreateIntent", mock.Anything, mock.Anything).Return(stored, ErrDuplicateIntent)
	processor.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&CreateIntentResponse{IntentID: "pi_12", Status: ProcessorPending, ClientSecret: "cs_12"}, nil)
	repo.On("SetProcessorResult", mock.Anything, 12, "pi_12", "cs_12").Return(nil)

	svc := newTestService(repo, processor)
	intent, secret, duplicate, err := svc.CreateIntent(context.Background(), 3, 500, "")

	assert.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, "cs_12", secret)
	assert.Equal(t, StatusPending, intent.Status)
	processor.AssertNumberOfCalls(t, "CreateIntent", 1)
}

func TestCreateIntent_ImmediateSuccessCreditsOnce(t *testing.T) {
	repo := new(MockIntentRepo)
	processor := new(MockProcessor)

	created := &Intent{ID: 21, ConsumerAccount: 3, AmountTokens: 500, AmountCents: 5000, Status: StatusPending}
	repo.On("CreateIntent", mock.Anything, mock.Anything).Return(created, nil)
	processor.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&CreateIntentResponse{IntentID: "pi_123", Status: ProcessorSucceeded}, nil)
	repo.On("SetProcessorResult", mock.Anything, 21, "pi_123", "").Return(nil)
	repo.On("CreditIntent", mock.Anything, 21, 3, int64(500)).Return(true, nil)
	repo.On("TransitionStatus", mock.Anything, 21, StatusPending, StatusCompleted).Return(true, nil)

	svc := newTestService(repo, processor)
	intent, _, duplicate, err := svc.CreateIntent(context.Background(), 3, 500, "")

	assert.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, StatusCompleted, intent.Status)
	repo.AssertNumberOfCalls(t, "CreditIntent", 1)
}

func TestCreateIntent_AlreadyCreditedStillCompletes(t *testing.T) {
	repo := new(MockIntentRepo)
	processor := new(MockProcessor)

	created := &Intent{ID: 22, ConsumerAccount: 4, AmountTokens: 100, Status: StatusPending}
	repo.On("CreateIntent", mock.Anything, mock.Anything).Return(created, nil)
	processor.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&CreateIntentResponse{IntentID: "pi_124", Status: ProcessorSucceeded}, nil)
	repo.On("SetProcessorResult", mock.Anything, 22, "pi_124", "").Return(nil)
	// The webhook already claimed and applied the credit.
	repo.On("CreditIntent", mock.Anything, 22, 4, int64(100)).Return(false, nil)
	repo.On("TransitionStatus", mock.Anything, 22, StatusPending, StatusCompleted).Return(true, nil)

	svc := newTestService(repo, processor)
	intent, _, _, err := svc.CreateIntent(context.Background(), 4, 100, "")

	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, intent.Status)
}

func TestCreateIntent_CreditFailureLeavesIntentPending(t *testing.T) {
	repo := new(MockIntentRepo)
	processor := new(MockProcessor)

	created := &Intent{ID: 25, ConsumerAccount: 7, AmountTokens: 300, Status: StatusPending}
	repo.On("CreateIntent", mock.Anything, mock.Anything).Return(created, nil)
	processor.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&CreateIntentResponse{IntentID: "pi_126", Status: ProcessorSucceeded}, nil)
	repo.On("SetProcessorResult", mock.Anything, 25, "pi_126", "").Return(nil)
	repo.On("CreditIntent", mock.Anything, 25, 7, int64(300)).Return(false, errors.New("connection reset"))

	svc := newTestService(repo, processor)
	_, _, _, err := svc.CreateIntent(context.Background(), 7, 300, "")

	assert.Error(t, err)
	// The intent must not be advanced: the webhook finishes the credit later.
	repo.AssertNotCalled(t, "TransitionStatus", mock.Anything, 25, StatusPending, StatusCompleted)
}

func TestCreateIntent_DeclineMarksFailed(t *testing.T) {
	repo := new(MockIntentRepo)
	processor := new(MockProcessor)

	created := &Intent{ID: 23, ConsumerAccount: 5, AmountTokens: 200, Status: StatusPending}
	repo.On("CreateIntent", mock.Anything, mock.Anything).Return(created, nil)
	processor.On("CreateIntent", mock.Anything, mock.Anything).
		Return(nil, MapProcessorError("card_declined"))
	repo.On("TransitionStatus", mock.Anything, 23, StatusPending, StatusFailed).Return(true, nil)

	svc := newTestService(repo, processor)
	_, _, _, err := svc.CreateIntent(context.Background(), 5, 200, "")

	var gwErr *GatewayError
	assert.ErrorAs(t, err, &gwErr)
	assert.Equal(t, CodeCardDeclined, gwErr.Code)
	assert.True(t, gwErr.IsDecline())
	repo.AssertNotCalled(t, "CreditIntent")
	repo.AssertCalled(t, "TransitionStatus", mock.Anything, 23, StatusPending, StatusFailed)
}

func TestCreateIntent_PendingLeavesLedgerUntouched(t *testing.T) {
	repo := new(MockIntentRepo)
	processor := new(MockProcessor)

	created := &Intent{ID: 24, ConsumerAccount: 6, AmountTokens: 300, Status: StatusPending}
	repo.On("CreateIntent", mock.Anything, mock.Anything).Return(created, nil)
	processor.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&CreateIntentResponse{IntentID: "pi_125", Status: ProcessorPending, ClientSecret: "cs_1"}, nil)
	repo.On("SetProcessorResult", mock.Anything, 24, "pi_125", "cs_1").Return(nil)

	svc := newTestService(repo, processor)
	intent, secret, _, err := svc.CreateIntent(context.Background(), 6, 300, "")

	assert.NoError(t, err)
	assert.Equal(t, StatusPending, intent.Status)
	assert.Equal(t, "cs_1", secret)
	repo.AssertNotCalled(t, "CreditIntent")
}

func TestCreateIntent_RejectsNonPositiveTokens(t *testing.T) {
	svc := newTestService(new(MockIntentRepo), new(MockProcessor))

	_, _, _, err := svc.CreateIntent(context.Background(), 1, 0, "")
	assert.ErrorIs(t, err, ErrInvalidPurchase)
}

func TestMapProcessorError_UnknownCodeFallsBack(t *testing.T) {
	err := MapProcessorError("weird_new_code")
	assert.Equal(t, CodeGatewayError, err.Code)
	assert.False(t, err.IsDecline())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition(StatusPending, StatusRequiresAction))
	assert.True(t, CanTransition(StatusRequiresAction, StatusFailed))
	assert.True(t, CanTransition(StatusCompleted, StatusRefunded))

	assert.False(t, CanTransition(StatusCompleted, StatusPending))
	assert.False(t, CanTransition(StatusFailed, StatusCompleted))
	assert.False(t, CanTransition(StatusPending, StatusRefunded))
	assert.False(t, CanTransition(StatusRefunded, StatusCompleted))
}
