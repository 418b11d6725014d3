package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ListServices(ctx context.Context) ([]*models.Service, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Service), args.Error(1)
}

func (m *mockBackend) GetService(ctx context.Context, id string) (*models.Service, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}

func (m *mockBackend) ListAvailability(ctx context.Context, serviceID string, date time.Time) ([]*models.AvailabilitySlot, error) {
	args := m.Called(ctx, serviceID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AvailabilitySlot), args.Error(1)
}

func (m *mockBackend) AcquireHold(ctx context.Context, slotID, sessionID string) (*models.Hold, error) {
	args := m.Called(ctx, slotID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Hold), args.Error(1)
}

func (m *mockBackend) ReleaseHold(ctx context.Context, holdID string) error {
	return m.Called(ctx, holdID).Error(0)
}

func (m *mockBackend) FinalizeBooking(ctx context.Context, req models.FinalizeRequest) (*models.Booking, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type recordingReleaser struct {
	mu       sync.Mutex
	accept   bool
	holdIDs  []string
	deadline time.Time
}

func (r *recordingReleaser) Enqueue(holdID string, deadline time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.accept {
		return false
	}
	r.holdIDs = append(r.holdIDs, holdID)
	r.deadline = deadline
	return true
}

func serverHold(id string, created time.Time) *models.Hold {
	return &models.Hold{
		ID:        id,
		SlotID:    "slot-1",
		SessionID: "s1",
		Status:    models.HoldActive,
		CreatedAt: created,
		ExpiresAt: created.Add(models.HoldTTL),
	}
}

func TestHoldManager_LocalDeadline(t *testing.T) {
	ctx := context.Background()

	t.Run("ServerExpiryEarlier", func(t *testing.T) {
		backend := new(mockBackend)
		clock := domain.NewManualClock(scenarioNow)
		m := NewHoldManager(backend, clock, models.HoldTTL, nil)

		// server clock runs a minute behind the local one
		backend.On("AcquireHold", mock.Anything, "slot-1", "s1").
			Return(serverHold("h1", scenarioNow.Add(-time.Minute)), nil).Once()

		_, err := m.Acquire(ctx, "slot-1", "s1")
		require.NoError(t, err)

		deadline, ok := m.Deadline("h1")
		require.True(t, ok)
		assert.Equal(t, scenarioNow.Add(4*time.Minute), deadline)
	})

	t.Run("LocalTTLEarlier", func(t *testing.T) {
		backend := new(mockBackend)
		clock := domain.NewManualClock(scenarioNow)
		m := NewHoldManager(backend, clock, models.HoldTTL, nil)

		backend.On("AcquireHold", mock.Anything, "slot-1", "s1").
			Return(serverHold("h1", scenarioNow.Add(time.Minute)), nil).Once()

		_, err := m.Acquire(ctx, "slot-1", "s1")
		require.NoError(t, err)

		assert.True(t, m.Valid("h1"))
		assert.Equal(t, models.HoldTTL, m.Remaining("h1"))

		clock.Advance(models.HoldTTL)
		assert.False(t, m.Valid("h1"))
		assert.True(t, m.Lapsed("h1"))
		assert.Zero(t, m.Remaining("h1"))
	})

	t.Run("ConflictIsNotTracked", func(t *testing.T) {
		backend := new(mockBackend)
		m := NewHoldManager(backend, domain.NewManualClock(scenarioNow), models.HoldTTL, nil)

		backend.On("AcquireHold", mock.Anything, "slot-1", "s1").
			Return(nil, domain.ErrSlotConflict).Once()

		_, err := m.Acquire(ctx, "slot-1", "s1")
		assert.ErrorIs(t, err, domain.ErrSlotConflict)
		assert.False(t, m.Lapsed("h1"))
		assert.False(t, m.Valid("h1"))
	})
}

func TestHoldManager_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("LapsedHoldSkipsNetwork", func(t *testing.T) {
		backend := new(mockBackend)
		clock := domain.NewManualClock(scenarioNow)
		m := NewHoldManager(backend, clock, models.HoldTTL, nil)
		m.Track(serverHold("h1", scenarioNow), scenarioNow)

		clock.Advance(6 * time.Minute)
		require.NoError(t, m.Release(ctx, "h1"))
		backend.AssertNotCalled(t, "ReleaseHold", mock.Anything, mock.Anything)
	})

	t.Run("Idempotent", func(t *testing.T) {
		backend := new(mockBackend)
		m := NewHoldManager(backend, domain.NewManualClock(scenarioNow), models.HoldTTL, nil)
		m.Track(serverHold("h1", scenarioNow), scenarioNow)

		backend.On("ReleaseHold", mock.Anything, "h1").Return(nil).Once()
		backend.On("ReleaseHold", mock.Anything, "h1").Return(domain.ErrHoldNotFound).Once()

		require.NoError(t, m.Release(ctx, "h1"))
		require.NoError(t, m.Release(ctx, "h1"))
		require.NoError(t, m.Release(ctx, ""))
		assert.False(t, m.Valid("h1"))
		backend.AssertNumberOfCalls(t, "ReleaseHold", 2)
	})

	t.Run("NetworkErrorSurfaces", func(t *testing.T) {
		backend := new(mockBackend)
		m := NewHoldManager(backend, domain.NewManualClock(scenarioNow), models.HoldTTL, nil)

		netErr := &domain.NetworkError{Op: "release", Err: errors.New("connection reset")}
		backend.On("ReleaseHold", mock.Anything, "h2").Return(netErr).Once()

		err := m.Release(ctx, "h2")
		assert.ErrorIs(t, err, domain.ErrNetwork)
	})
}

func TestHoldManager_ReleaseAsync(t *testing.T) {
	t.Run("UsesReleaser", func(t *testing.T) {
		backend := new(mockBackend)
		releaser := &recordingReleaser{accept: true}
		m := NewHoldManager(backend, domain.NewManualClock(scenarioNow), models.HoldTTL, nil).WithReleaser(releaser)
		m.Track(serverHold("h1", scenarioNow), scenarioNow)

		m.ReleaseAsync(context.Background(), "h1")

		assert.Equal(t, []string{"h1"}, releaser.holdIDs)
		assert.Equal(t, scenarioNow.Add(models.HoldTTL), releaser.deadline)
		backend.AssertNotCalled(t, "ReleaseHold", mock.Anything, mock.Anything)
	})

	t.Run("SurvivesCallerCancellation", func(t *testing.T) {
		backend := new(mockBackend)
		m := NewHoldManager(backend, domain.NewManualClock(scenarioNow), models.HoldTTL, nil).
			WithReleaser(&recordingReleaser{accept: false})
		m.Track(serverHold("h1", scenarioNow), scenarioNow)

		released := make(chan error, 1)
		backend.On("ReleaseHold", mock.Anything, "h1").
			Run(func(args mock.Arguments) {
				released <- args.Get(0).(context.Context).Err()
			}).
			Return(nil).Once()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m.ReleaseAsync(ctx, "h1")

		select {
		case err := <-released:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("release was not attempted")
		}
	})
}
