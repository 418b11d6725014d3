package repository

import (
	"context"
	"testing"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDraftRepository(t *testing.T) {
	clock := domain.NewManualClock(time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC))
	repo := NewMemoryDraftRepository(time.Hour).WithClock(clock)
	ctx := context.Background()

	t.Run("SaveAndLoad", func(t *testing.T) {
		draft := &models.BookingDraft{
			SessionID: "s1",
			Step:      models.StepClientDetails,
			History:   []models.WizardStep{models.StepChooseService, models.StepSelectTime},
			ServiceID: "brow-lamination",
		}
		require.NoError(t, repo.SaveDraft(ctx, draft))

		// stored copy is isolated from the caller
		draft.History[0] = models.StepPayment

		got, err := repo.LoadDraft(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.StepClientDetails, got.Step)
		assert.Equal(t, models.StepChooseService, got.History[0])
	})

	t.Run("Missing", func(t *testing.T) {
		got, err := repo.LoadDraft(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, repo.SaveDraft(ctx, &models.BookingDraft{SessionID: "s2"}))
		require.NoError(t, repo.ClearDraft(ctx, "s2"))
		got, _ := repo.LoadDraft(ctx, "s2")
		assert.Nil(t, got)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, repo.SaveDraft(ctx, &models.BookingDraft{SessionID: "s3"}))
		clock.Advance(time.Hour)
		got, err := repo.LoadDraft(ctx, "s3")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMemoryDraftRepository_RateLimit(t *testing.T) {
	clock := domain.NewManualClock(time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC))
	repo := NewMemoryDraftRepository(time.Hour).WithClock(clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := repo.CheckRateLimit(ctx, "tg:1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := repo.CheckRateLimit(ctx, "tg:1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// other keys are independent
	allowed, _ = repo.CheckRateLimit(ctx, "tg:2", 2, time.Minute)
	assert.True(t, allowed)

	clock.Advance(time.Minute)
	allowed, err = repo.CheckRateLimit(ctx, "tg:1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}
