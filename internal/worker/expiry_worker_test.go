package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockExpirer is a mock implementation of Expirer
type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) FindExpiredBookings(ctx context.Context, after *repository.ExpiredCursor, limit int) ([]*domain.Booking, error) {
	args := m.Called(ctx, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Booking), args.Error(1)
}

func (m *MockExpirer) ExpireBooking(ctx context.Context, bookingID string) (bool, error) {
	args := m.Called(ctx, bookingID)
	return args.Bool(0), args.Error(1)
}

// MockLease is a mock implementation of Lease
type MockLease struct {
	mock.Mock
}

func (m *MockLease) TryAcquire(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockLease) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func bookings(ids ...string) []*domain.Booking {
	out := make([]*domain.Booking, 0, len(ids))
	for _, id := range ids {
		out = append(out, &domain.Booking{ID: id})
	}
	return out
}

func TestExpiryWorker_RunOnce(t *testing.T) {
	expirer := new(MockExpirer)
	expirer.On("FindExpiredBookings", mock.Anything, mock.Anything, 10).Return(bookings("b1", "b2", "b3"), nil).Once()
	expirer.On("ExpireBooking", mock.Anything, "b1").Return(true, nil)
	expirer.On("ExpireBooking", mock.Anything, "b2").Return(false, nil)
	expirer.On("ExpireBooking", mock.Anything, "b3").Return(true, nil)

	w := NewExpiryWorker(expirer, nil, &ExpiryWorkerConfig{BatchSize: 10})
	n, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	stats := w.GetStats()
	assert.Equal(t, int64(2), stats.TotalExpired)
	assert.Equal(t, 2, stats.LastExpiredCount)
	assert.Equal(t, int64(1), stats.TotalSweeps)
	expirer.AssertExpectations(t)
}

func TestExpiryWorker_LogsAndContinues(t *testing.T) {
	expirer := new(MockExpirer)
	expirer.On("FindExpiredBookings", mock.Anything, mock.Anything, 10).Return(bookings("b1", "b2"), nil).Once()
	expirer.On("ExpireBooking", mock.Anything, "b1").Return(false, errors.New("deadlock detected"))
	expirer.On("ExpireBooking", mock.Anything, "b2").Return(true, nil)

	w := NewExpiryWorker(expirer, nil, &ExpiryWorkerConfig{BatchSize: 10})
	n, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), w.GetStats().TotalFailed)
	expirer.AssertExpectations(t)
}

func TestExpiryWorker_DrainsFullBatches(t *testing.T) {
	expirer := new(MockExpirer)
	expirer.On("FindExpiredBookings", mock.Anything, mock.Anything, 2).Return(bookings("b1", "b2"), nil).Once()
	expirer.On("FindExpiredBookings", mock.Anything, mock.Anything, 2).Return(bookings("b3"), nil).Once()
	expirer.On("ExpireBooking", mock.Anything, mock.Anything).Return(true, nil)

	w := NewExpiryWorker(expirer, nil, &ExpiryWorkerConfig{BatchSize: 2, Concurrency: 2})
	n, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	expirer.AssertNumberOfCalls(t, "FindExpiredBookings", 2)
}

func TestExpiryWorker_PagesPastFailures(t *testing.T) {
	expirer := new(MockExpirer)
	first := mock.MatchedBy(func(c *repository.ExpiredCursor) bool { return c == nil })
	afterB2 := mock.MatchedBy(func(c *repository.ExpiredCursor) bool { return c != nil && c.ID == "b2" })
	expirer.On("FindExpiredBookings", mock.Anything, first, 2).Return(bookings("b1", "b2"), nil).Once()
	expirer.On("FindExpiredBookings", mock.Anything, afterB2, 2).Return(bookings("b3"), nil).Once()
	expirer.On("ExpireBooking", mock.Anything, "b1").Return(false, errors.New("db down"))
	expirer.On("ExpireBooking", mock.Anything, "b2").Return(false, errors.New("db down"))
	expirer.On("ExpireBooking", mock.Anything, "b3").Return(true, nil)

	w := NewExpiryWorker(expirer, nil, &ExpiryWorkerConfig{BatchSize: 2})
	n, err := w.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(2), w.GetStats().TotalFailed)
	expirer.AssertExpectations(t)
}

func TestExpiryWorker_FindError(t *testing.T) {
	expirer := new(MockExpirer)
	expirer.On("FindExpiredBookings", mock.Anything, mock.Anything, 100).Return(nil, errors.New("connection refused"))

	w := NewExpiryWorker(expirer, nil, nil)
	_, err := w.RunOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestExpiryWorker_Lease(t *testing.T) {
	t.Run("held elsewhere skips the sweep", func(t *testing.T) {
		expirer := new(MockExpirer)
		lease := new(MockLease)
		lease.On("TryAcquire", mock.Anything).Return(false, nil)

		w := NewExpiryWorker(expirer, lease, nil)
		n, err := w.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, int64(1), w.GetStats().SkippedSweeps)
		expirer.AssertNotCalled(t, "FindExpiredBookings", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("acquired is released after the sweep", func(t *testing.T) {
		expirer := new(MockExpirer)
		expirer.On("FindExpiredBookings", mock.Anything, mock.Anything, 100).Return(bookings(), nil)
		lease := new(MockLease)
		lease.On("TryAcquire", mock.Anything).Return(true, nil)
		lease.On("Release", mock.Anything).Return(nil)

		w := NewExpiryWorker(expirer, lease, nil)
		_, err := w.RunOnce(context.Background())

		require.NoError(t, err)
		lease.AssertExpectations(t)
		expirer.AssertExpectations(t)
	})

	t.Run("lease error still sweeps", func(t *testing.T) {
		expirer := new(MockExpirer)
		expirer.On("FindExpiredBookings", mock.Anything, mock.Anything, 100).Return(bookings("b1"), nil)
		expirer.On("ExpireBooking", mock.Anything, "b1").Return(true, nil)
		lease := new(MockLease)
		lease.On("TryAcquire", mock.Anything).Return(false, errors.New("redis down"))

		w := NewExpiryWorker(expirer, lease, nil)
		n, err := w.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, n)
		lease.AssertNotCalled(t, "Release", mock.Anything)
	})
}

func TestExpiryWorker_StartStop(t *testing.T) {
	expirer := new(MockExpirer)
	swept := make(chan struct{}, 1)
	expirer.On("FindExpiredBookings", mock.Anything, mock.Anything, 100).Return(bookings(), nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	w := NewExpiryWorker(expirer, nil, &ExpiryWorkerConfig{ScanInterval: time.Hour})
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not sweep on start")
	}
	assert.True(t, w.GetStats().IsRunning)

	w.Stop()
	assert.False(t, w.GetStats().IsRunning)
	// idempotent
	w.Stop()
}
