package repository

import (
	"context"
	"sync"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverDraftRepository routes to primary until a call fails, then serves
// from fallback and tries primary again once per recoveryInterval. Clears
// that could not reach primary are replayed before it serves again.
type FailoverDraftRepository struct {
	primary  domain.DraftRepository
	fallback domain.DraftRepository
	logger   *zerolog.Logger
	clock    domain.Clock

	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
	// sessions cleared while primary was unreachable
	pendingClears map[string]struct{}
}

var _ domain.DraftRepository = (*FailoverDraftRepository)(nil)

func NewFailoverDraftRepository(primary, fallback domain.DraftRepository, logger *zerolog.Logger) *FailoverDraftRepository {
	return &FailoverDraftRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		clock:    domain.SystemClock{},

		pendingClears: make(map[string]struct{}),
	}
}

func (r *FailoverDraftRepository) WithClock(clock domain.Clock) *FailoverDraftRepository {
	r.clock = clock
	return r
}

// usePrimary reports whether the next call should try primary.
func (r *FailoverDraftRepository) usePrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown {
		return true
	}
	if r.clock.Now().Sub(r.lastCheck) > recoveryInterval {
		r.lastCheck = r.clock.Now()
		return true
	}
	return false
}

func (r *FailoverDraftRepository) report(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		if r.isDown {
			r.logger.Info().Str("op", op).Msg("primary draft repository recovered")
		}
		r.isDown = false
		return
	}
	if !r.isDown {
		r.logger.Error().Err(err).Str("op", op).Msg("primary draft repository failed, falling back to memory")
	}
	r.isDown = true
	r.lastCheck = r.clock.Now()
}

// primaryReady is usePrimary plus replaying pending clears. A failed replay
// counts as a primary failure for op.
func (r *FailoverDraftRepository) primaryReady(ctx context.Context, op string) bool {
	if !r.usePrimary() {
		return false
	}
	if err := r.flushClears(ctx); err != nil {
		r.report(op, err)
		return false
	}
	return true
}

func (r *FailoverDraftRepository) flushClears(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]string, 0, len(r.pendingClears))
	for id := range r.pendingClears {
		sessions = append(sessions, id)
	}
	r.mu.Unlock()

	for _, id := range sessions {
		if err := r.primary.ClearDraft(ctx, id); err != nil {
			return err
		}
		r.mu.Lock()
		delete(r.pendingClears, id)
		r.mu.Unlock()
	}
	if len(sessions) > 0 {
		r.logger.Info().Int("count", len(sessions)).Msg("replayed draft clears on primary")
	}
	return nil
}

func (r *FailoverDraftRepository) markPendingClear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingClears[sessionID] = struct{}{}
}

// PendingClears reports how many clears still wait for primary.
func (r *FailoverDraftRepository) PendingClears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingClears)
}

// IsDegraded reports whether calls are currently served by the fallback.
func (r *FailoverDraftRepository) IsDegraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDown
}

func (r *FailoverDraftRepository) LoadDraft(ctx context.Context, sessionID string) (*models.BookingDraft, error) {
	if r.primaryReady(ctx, "load") {
		draft, err := r.primary.LoadDraft(ctx, sessionID)
		r.report("load", err)
		if err == nil {
			return draft, nil
		}
	}
	return r.fallback.LoadDraft(ctx, sessionID)
}

func (r *FailoverDraftRepository) SaveDraft(ctx context.Context, draft *models.BookingDraft) error {
	if r.primaryReady(ctx, "save") {
		err := r.primary.SaveDraft(ctx, draft)
		r.report("save", err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.SaveDraft(ctx, draft)
}

func (r *FailoverDraftRepository) ClearDraft(ctx context.Context, sessionID string) error {
	// drop any fallback copy so a recovered primary is not shadowed later
	_ = r.fallback.ClearDraft(ctx, sessionID)

	if r.primaryReady(ctx, "clear") {
		err := r.primary.ClearDraft(ctx, sessionID)
		r.report("clear", err)
		if err == nil {
			return nil
		}
	}
	r.markPendingClear(sessionID)
	return nil
}

func (r *FailoverDraftRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.primaryReady(ctx, "rate_limit") {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		r.report("rate_limit", err)
		if err == nil {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
