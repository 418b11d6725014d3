package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func configFor(addr string) config.RedisConfig {
	return config.RedisConfig{Address: addr}
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) LoadDraft(ctx context.Context, sessionID string) (*models.BookingDraft, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BookingDraft), args.Error(1)
}

func (m *mockRepo) SaveDraft(ctx context.Context, draft *models.BookingDraft) error {
	args := m.Called(ctx, draft)
	return args.Error(0)
}

func (m *mockRepo) ClearDraft(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *mockRepo) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverDraftRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	clock := domain.NewManualClock(time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC))
	repo := NewFailoverDraftRepository(primary, fallback, &logger).WithClock(clock)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		draft := &models.BookingDraft{SessionID: "s1"}
		primary.On("LoadDraft", ctx, "s1").Return(draft, nil).Once()

		got, err := repo.LoadDraft(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, draft, got)
		assert.False(t, repo.IsDegraded())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		draft := &models.BookingDraft{SessionID: "s2"}
		primary.On("SaveDraft", ctx, draft).Return(errors.New("connection refused")).Once()
		fallback.On("SaveDraft", ctx, draft).Return(nil).Once()

		require.NoError(t, repo.SaveDraft(ctx, draft))
		assert.True(t, repo.IsDegraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("DegradedSkipsPrimary", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "tg:1", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "tg:1", 10, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		primary.AssertNotCalled(t, "CheckRateLimit", ctx, "tg:1", 10, time.Minute)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		primary.On("LoadDraft", ctx, "s3").Return(nil, errors.New("still down")).Once()
		fallback.On("LoadDraft", ctx, "s3").Return(nil, nil).Once()

		got, err := repo.LoadDraft(ctx, "s3")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.True(t, repo.IsDegraded())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("Recovery", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		draft := &models.BookingDraft{SessionID: "s4"}
		primary.On("LoadDraft", ctx, "s4").Return(draft, nil).Once()

		got, err := repo.LoadDraft(ctx, "s4")
		require.NoError(t, err)
		assert.Equal(t, draft, got)
		assert.False(t, repo.IsDegraded())
		primary.AssertExpectations(t)
	})

	t.Run("ClearHitsBoth", func(t *testing.T) {
		fallback.On("ClearDraft", ctx, "s5").Return(nil).Once()
		primary.On("ClearDraft", ctx, "s5").Return(nil).Once()

		require.NoError(t, repo.ClearDraft(ctx, "s5"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ClearPrimaryFails", func(t *testing.T) {
		fallback.On("ClearDraft", ctx, "s6").Return(nil).Once()
		primary.On("ClearDraft", ctx, "s6").Return(errors.New("fail")).Once()

		require.NoError(t, repo.ClearDraft(ctx, "s6"))
		assert.True(t, repo.IsDegraded())
		assert.Equal(t, 1, repo.PendingClears())
	})

	t.Run("ClearWhileDegradedSkipsPrimary", func(t *testing.T) {
		fallback.On("ClearDraft", ctx, "s7").Return(nil).Once()

		require.NoError(t, repo.ClearDraft(ctx, "s7"))
		primary.AssertNotCalled(t, "ClearDraft", ctx, "s7")
		assert.Equal(t, 2, repo.PendingClears())
	})

	t.Run("ReplayFailureKeepsFallback", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		primary.On("ClearDraft", ctx, mock.Anything).Return(errors.New("still down")).Once()
		fallback.On("LoadDraft", ctx, "s7").Return(nil, nil).Once()

		got, err := repo.LoadDraft(ctx, "s7")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.True(t, repo.IsDegraded())
		assert.Equal(t, 2, repo.PendingClears())
		primary.AssertNotCalled(t, "LoadDraft", ctx, "s7")
	})

	t.Run("RecoveryReplaysClearsFirst", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		var calls []string
		record := func(args mock.Arguments) {
			calls = append(calls, args.String(1))
		}
		primary.On("ClearDraft", ctx, "s6").Return(nil).Run(record).Once()
		primary.On("ClearDraft", ctx, "s7").Return(nil).Run(record).Once()
		primary.On("LoadDraft", ctx, "s7").Return(nil, nil).Run(func(mock.Arguments) {
			calls = append(calls, "load")
		}).Once()

		got, err := repo.LoadDraft(ctx, "s7")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.False(t, repo.IsDegraded())
		assert.Zero(t, repo.PendingClears())
		require.Len(t, calls, 3)
		assert.ElementsMatch(t, []string{"s6", "s7"}, calls[:2])
		assert.Equal(t, "load", calls[2])
		primary.AssertExpectations(t)
	})
}

func TestFailoverDraftRepository_ClearDuringOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	logger := zerolog.Nop()
	clock := domain.NewManualClock(time.Now())
	memory := NewMemoryDraftRepository(time.Hour)
	repo := NewFailoverDraftRepository(NewRedisDraftRepository(client, time.Hour), memory, &logger).WithClock(clock)
	ctx := context.Background()

	require.NoError(t, repo.SaveDraft(ctx, &models.BookingDraft{SessionID: "tg:1", Step: models.StepPayment, HoldID: "hold-1"}))

	mr.SetError("ERR server unavailable")
	require.NoError(t, repo.ClearDraft(ctx, "tg:1"))
	assert.True(t, repo.IsDegraded())

	got, err := repo.LoadDraft(ctx, "tg:1")
	require.NoError(t, err)
	assert.Nil(t, got)

	mr.SetError("")
	clock.Advance(2 * time.Minute)

	got, err = repo.LoadDraft(ctx, "tg:1")
	require.NoError(t, err)
	assert.Nil(t, got, "cleared draft came back after redis recovered")
	assert.False(t, repo.IsDegraded())
	assert.False(t, mr.Exists(draftKey("tg:1")))
}

func TestFailoverDraftRepository_WithRealBackends(t *testing.T) {
	logger := zerolog.Nop()
	primary := NewRedisDraftRepository(nil, time.Hour)
	fallback := NewMemoryDraftRepository(time.Hour)
	repo := NewFailoverDraftRepository(primary, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, repo.SaveDraft(ctx, &models.BookingDraft{SessionID: "web:1", Step: models.StepSelectTime}))
	got, err := repo.LoadDraft(ctx, "web:1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StepSelectTime, got.Step)
}
