package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"meterpay/internal/creator"
	"meterpay/internal/ledger"
)

type MockSessionRepo struct{ mock.Mock }
type MockCreatorRepo struct{ mock.Mock }
type MockLedgerRepo struct{ mock.Mock }

func (m *MockSessionRepo) CreateSession(ctx context.Context, consumerAccount, providerAccount int, sessionType, chargeMode string, ratePerMinute int64) (*Session, error) {
	args := m.Called(ctx, consumerAccount, providerAccount, sessionType, chargeMode, ratePerMinute)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Session), args.Error(1)
}

func (m *MockSessionRepo) GetByID(ctx context.Context, id int) (*Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Session), args.Error(1)
}

func (m *MockSessionRepo) Settle(ctx context.Context, id int, endedAt time.Time, durationMinutes, charge int64) (*Session, int64, bool, error) {
	args := m.Called(ctx, id, endedAt, durationMinutes, charge)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Bool(2), args.Error(3)
	}
	return args.Get(0).(*Session), args.Get(1).(int64), args.Bool(2), args.Error(3)
}

func (m *MockCreatorRepo) GetOrCreate(ctx context.Context, accountID int, displayName string) (*creator.Profile, error) {
	args := m.Called(ctx, accountID, displayName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*creator.Profile), args.Error(1)
}

func (m *MockCreatorRepo) GetByAccountID(ctx context.Context, accountID int) (*creator.Profile, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*creator.Profile), args.Error(1)
}

func (m *MockCreatorRepo) UpdateRate(ctx context.Context, accountID int, ratePerMinute int64) error {
	return m.Called(ctx, accountID, ratePerMinute).Error(0)
}

func (m *MockCreatorRepo) UpdatePayout(ctx context.Context, accountID int, destination string, autoWithdraw bool) error {
	return m.Called(ctx, accountID, destination, autoWithdraw).Error(0)
}

func (m *MockLedgerRepo) GetOrCreateAccount(ctx context.Context, subject string) (*ledger.Account, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockLedgerRepo) GetAccountByID(ctx context.Context, id int) (*ledger.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockLedgerRepo) ApplyEntry(ctx context.Context, accountID int, delta int64, entryType, reference string) (*ledger.Account, error) {
	args := m.Called(ctx, accountID, delta, entryType, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockLedgerRepo) Transfer(ctx context.Context, fromID, toID int, amount int64, debitType, creditType, reference string) error {
	return m.Called(ctx, fromID, toID, amount, debitType, creditType, reference).Error(0)
}

func (m *MockLedgerRepo) GetBalance(ctx context.Context, accountID int) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepo) GetReserved(ctx context.Context, accountID int) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepo) Reserve(ctx context.Context, accountID int, amount int64) error {
	return m.Called(ctx, accountID, amount).Error(0)
}

func (m *MockLedgerRepo) ListEntries(ctx context.Context, accountID int, limit, offset int) ([]ledger.Entry, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Entry), args.Error(1)
}

func closedSession(id int, rate int64, elapsed time.Duration) *Session {
	started := time.Now().Add(-elapsed)
	ended := started.Add(elapsed)
	return &Session{
		ID:              id,
		ConsumerAccount: 1,
		ProviderAccount: 2,
		Type:            TypeVideoCall,
		ChargeMode:      ModeLive,
		RatePerMinute:   rate,
		StartedAt:       started,
		EndedAt:         &ended,
		Status:          StatusCompleted,
	}
}

func settledSession(id int, rate int64, elapsed time.Duration, minutes, charge, shortfall int64) *Session {
	s := closedSession(id, rate, elapsed)
	s.DurationMinutes = minutes
	s.TotalCharge = charge
	s.Shortfall = shortfall
	return s
}

func TestStart_LocksCurrentRate(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	creators.On("GetByAccountID", mock.Anything, 2).Return(&creator.Profile{AccountID: 2, RatePerMinute: 10}, nil)
	ledgerRepo.On("GetBalance", mock.Anything, 1).Return(int64(100), nil)
	repo.On("CreateSession", mock.Anything, 1, 2, TypeVideoCall, ModeLive, int64(10)).
		Return(&Session{ID: 5, ConsumerAccount: 1, ProviderAccount: 2, RatePerMinute: 10, Status: StatusActive}, nil)

	svc := NewService(repo, creators, ledgerRepo)
	sess, err := svc.Start(context.Background(), 1, 2, TypeVideoCall)

	assert.NoError(t, err)
	assert.Equal(t, int64(10), sess.RatePerMinute)
}

func TestStart_RequiresOneMinuteCharge(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	creators.On("GetByAccountID", mock.Anything, 2).Return(&creator.Profile{AccountID: 2, RatePerMinute: 10}, nil)
	ledgerRepo.On("GetBalance", mock.Anything, 1).Return(int64(7), nil)

	svc := NewService(repo, creators, ledgerRepo)
	_, err := svc.Start(context.Background(), 1, 2, TypeVideoCall)

	var insufficientErr *InsufficientBalanceError
	assert.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, int64(7), insufficientErr.Balance)
	assert.Equal(t, int64(10), insufficientErr.Required)
	repo.AssertNotCalled(t, "CreateSession")
}

func TestStart_ClassEnrollsFree(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	creators.On("GetByAccountID", mock.Anything, 2).Return(&creator.Profile{AccountID: 2, RatePerMinute: 10}, nil)
	repo.On("CreateSession", mock.Anything, 1, 2, TypeClass, ModeDeferred, int64(10)).
		Return(&Session{ID: 6, ChargeMode: ModeDeferred, Status: StatusActive}, nil)

	svc := NewService(repo, creators, ledgerRepo)
	sess, err := svc.Start(context.Background(), 1, 2, TypeClass)

	assert.NoError(t, err)
	assert.Equal(t, ModeDeferred, sess.ChargeMode)
	// Deferred mode never checks the balance at admission.
	ledgerRepo.AssertNotCalled(t, "GetBalance")
}

func TestEnd_NinetySecondsChargesTwoMinutes(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	active := closedSession(9, 10, 90*time.Second)
	active.Status = StatusActive
	settled := settledSession(9, 10, 90*time.Second, 2, 20, 0)

	repo.On("GetByID", mock.Anything, 9).Return(active, nil)
	repo.On("Settle", mock.Anything, 9, mock.AnythingOfType("time.Time"), int64(2), int64(20)).
		Return(settled, int64(20), true, nil)

	svc := NewService(repo, creators, ledgerRepo)
	sess, err := svc.End(context.Background(), 9, 1)

	assert.NoError(t, err)
	assert.Equal(t, int64(2), sess.DurationMinutes)
	assert.Equal(t, int64(20), sess.TotalCharge)
	assert.Equal(t, int64(0), sess.Shortfall)
}

func TestEnd_FiveMinuteScenario(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	active := closedSession(10, 10, 4*time.Minute+30*time.Second)
	active.Status = StatusActive
	settled := settledSession(10, 10, 4*time.Minute+30*time.Second, 5, 50, 0)

	repo.On("GetByID", mock.Anything, 10).Return(active, nil)
	repo.On("Settle", mock.Anything, 10, mock.AnythingOfType("time.Time"), int64(5), int64(50)).
		Return(settled, int64(50), true, nil)

	svc := NewService(repo, creators, ledgerRepo)
	sess, err := svc.End(context.Background(), 10, 1)

	assert.NoError(t, err)
	assert.Equal(t, int64(50), sess.TotalCharge)
	repo.AssertNumberOfCalls(t, "Settle", 1)
}

func TestEnd_AlreadyClosedReturnsStoredResult(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	done := settledSession(11, 10, 2*time.Minute, 2, 20, 0)

	repo.On("GetByID", mock.Anything, 11).Return(done, nil)

	svc := NewService(repo, creators, ledgerRepo)
	sess, err := svc.End(context.Background(), 11, 1)

	assert.NoError(t, err)
	assert.Equal(t, int64(20), sess.TotalCharge)
	repo.AssertNotCalled(t, "Settle")
}

func TestEnd_ConcurrentCloseChargesOnce(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	active := closedSession(12, 10, 2*time.Minute+30*time.Second)
	active.Status = StatusActive
	settled := settledSession(12, 10, 2*time.Minute+30*time.Second, 3, 30, 0)

	repo.On("GetByID", mock.Anything, 12).Return(active, nil)
	// The other caller already claimed the close.
	repo.On("Settle", mock.Anything, 12, mock.AnythingOfType("time.Time"), int64(3), int64(30)).
		Return(settled, int64(0), false, nil)

	svc := NewService(repo, creators, ledgerRepo)
	sess, err := svc.End(context.Background(), 12, 1)

	assert.NoError(t, err)
	assert.Equal(t, int64(30), sess.TotalCharge)
	repo.AssertNumberOfCalls(t, "Settle", 1)
}

func TestEnd_ShortfallCapsChargeAtBalance(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	active := closedSession(13, 10, 4*time.Minute+30*time.Second)
	active.Status = StatusActive
	settled := settledSession(13, 10, 4*time.Minute+30*time.Second, 5, 50, 20)

	repo.On("GetByID", mock.Anything, 13).Return(active, nil)
	repo.On("Settle", mock.Anything, 13, mock.AnythingOfType("time.Time"), int64(5), int64(50)).
		Return(settled, int64(30), true, nil)

	svc := NewService(repo, creators, ledgerRepo)
	sess, err := svc.End(context.Background(), 13, 1)

	assert.NoError(t, err)
	assert.Equal(t, int64(50), sess.TotalCharge)
	assert.Equal(t, int64(20), sess.Shortfall)
}

func TestEnd_SettleFailureLeavesSessionRetryable(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	active := closedSession(15, 10, 90*time.Second)
	active.Status = StatusActive
	settled := settledSession(15, 10, 90*time.Second, 2, 20, 0)

	repo.On("GetByID", mock.Anything, 15).Return(active, nil)
	// The settlement transaction fails and rolls the close back: the
	// session is still active, so the retry charges it.
	repo.On("Settle", mock.Anything, 15, mock.AnythingOfType("time.Time"), int64(2), int64(20)).
		Return(nil, int64(0), false, errors.New("connection reset")).Once()
	repo.On("Settle", mock.Anything, 15, mock.AnythingOfType("time.Time"), int64(2), int64(20)).
		Return(settled, int64(20), true, nil).Once()

	svc := NewService(repo, creators, ledgerRepo)

	_, err := svc.End(context.Background(), 15, 1)
	assert.Error(t, err)

	sess, err := svc.End(context.Background(), 15, 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(20), sess.TotalCharge)
	repo.AssertNumberOfCalls(t, "Settle", 2)
}

func TestEnd_NonParticipantRejected(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	active := closedSession(14, 10, time.Minute)
	active.Status = StatusActive
	repo.On("GetByID", mock.Anything, 14).Return(active, nil)

	svc := NewService(repo, creators, ledgerRepo)
	_, err := svc.End(context.Background(), 14, 99)

	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestStart_UnpublishedProviderUnavailable(t *testing.T) {
	repo := new(MockSessionRepo)
	creators := new(MockCreatorRepo)
	ledgerRepo := new(MockLedgerRepo)

	creators.On("GetByAccountID", mock.Anything, 3).Return(&creator.Profile{AccountID: 3, RatePerMinute: 0}, nil)

	svc := NewService(repo, creators, ledgerRepo)
	_, err := svc.Start(context.Background(), 1, 3, TypeVoiceCall)

	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
