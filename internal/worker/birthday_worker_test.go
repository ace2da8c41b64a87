package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBirthdayGranter is a mock implementation of BirthdayGranter
type MockBirthdayGranter struct {
	mock.Mock
}

func (m *MockBirthdayGranter) BirthdayCandidates(ctx context.Context, now time.Time, minAccountAge time.Duration) ([]*domain.User, error) {
	args := m.Called(ctx, now, minAccountAge)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.User), args.Error(1)
}

func (m *MockBirthdayGranter) GrantBirthdayBonus(ctx context.Context, userID string, amount int) (*domain.TicketTransaction, error) {
	args := m.Called(ctx, userID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TicketTransaction), args.Error(1)
}

func TestBirthdayBonusWorker_RunOnce(t *testing.T) {
	now := time.Date(2026, 5, 4, 0, 1, 0, 0, time.UTC)
	granter := new(MockBirthdayGranter)
	granter.On("BirthdayCandidates", mock.Anything, now, 30*24*time.Hour).
		Return([]*domain.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}, {ID: "u4"}}, nil)
	granter.On("GrantBirthdayBonus", mock.Anything, "u1", 1).Return(&domain.TicketTransaction{ID: "t1"}, nil)
	granter.On("GrantBirthdayBonus", mock.Anything, "u2", 1).Return(nil, domain.ErrBonusAlreadyGranted)
	granter.On("GrantBirthdayBonus", mock.Anything, "u3", 1).Return(nil, domain.ErrSubscriptionNotFound)
	granter.On("GrantBirthdayBonus", mock.Anything, "u4", 1).Return(nil, errors.New("db down"))

	w := NewBirthdayBonusWorker(granter, nil)
	w.now = func() time.Time { return now }

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &BirthdayRunResult{Candidates: 4, Granted: 1, Skipped: 2, Failed: 1}, result)
	assert.Equal(t, result, w.LastRun())
	granter.AssertExpectations(t)
}

func TestBirthdayBonusWorker_CandidatesError(t *testing.T) {
	granter := new(MockBirthdayGranter)
	granter.On("BirthdayCandidates", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	w := NewBirthdayBonusWorker(granter, &BirthdayBonusConfig{Tickets: 2})
	_, err := w.RunOnce(context.Background())

	require.Error(t, err)
	granter.AssertNotCalled(t, "GrantBirthdayBonus", mock.Anything, mock.Anything, mock.Anything)
}

func TestBirthdayBonusWorker_Schedule(t *testing.T) {
	granter := new(MockBirthdayGranter)

	w := NewBirthdayBonusWorker(granter, &BirthdayBonusConfig{Schedule: "not a schedule"})
	assert.Error(t, w.Start(context.Background()))

	w = NewBirthdayBonusWorker(granter, nil)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
