package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

const asyncReleaseTimeout = 10 * time.Second

type trackedHold struct {
	hold     models.Hold
	deadline time.Time
}

// HoldManager acquires and releases holds through the backend and tracks a
// local deadline for each one, so lapsed holds are recognised without asking
// the server. Holds are never renewed.
type HoldManager struct {
	backend  domain.BookingBackend
	releaser domain.HoldReleaser
	clock    domain.Clock
	ttl      time.Duration
	logger   *zerolog.Logger

	mu    sync.Mutex
	holds map[string]trackedHold
}

func NewHoldManager(backend domain.BookingBackend, clock domain.Clock, ttl time.Duration, logger *zerolog.Logger) *HoldManager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if ttl <= 0 {
		ttl = models.HoldTTL
	}
	return &HoldManager{
		backend: backend,
		clock:   clock,
		ttl:     ttl,
		logger:  orNop(logger),
		holds:   make(map[string]trackedHold),
	}
}

// WithReleaser routes ReleaseAsync through a background retry queue.
func (m *HoldManager) WithReleaser(releaser domain.HoldReleaser) *HoldManager {
	m.releaser = releaser
	return m
}

// Acquire claims the slot for the session. The backend is the only place a
// race between sessions is decided; a loser gets domain.ErrSlotConflict.
func (m *HoldManager) Acquire(ctx context.Context, slotID, sessionID string) (*models.Hold, error) {
	requestedAt := m.clock.Now()

	hold, err := m.backend.AcquireHold(ctx, slotID, sessionID)
	if err != nil {
		return nil, err
	}

	m.Track(hold, requestedAt)
	m.logger.Debug().
		Str("hold_id", hold.ID).
		Str("slot_id", slotID).
		Time("expires_at", hold.ExpiresAt).
		Msg("hold acquired")
	return hold, nil
}

// Track starts tracking a hold. The local deadline is the earlier of the
// server expiry and since+TTL; a zero since trusts the server expiry alone.
func (m *HoldManager) Track(hold *models.Hold, since time.Time) {
	deadline := hold.ExpiresAt
	if !since.IsZero() {
		local := since.Add(m.ttl)
		if deadline.IsZero() || local.Before(deadline) {
			deadline = local
		}
	}

	m.mu.Lock()
	m.holds[hold.ID] = trackedHold{hold: *hold, deadline: deadline}
	m.mu.Unlock()
}

// Forget stops tracking without contacting the backend.
func (m *HoldManager) Forget(holdID string) {
	m.mu.Lock()
	delete(m.holds, holdID)
	m.mu.Unlock()
}

func (m *HoldManager) lookup(holdID string) (trackedHold, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.holds[holdID]
	return t, ok
}

func (m *HoldManager) take(holdID string) (trackedHold, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.holds[holdID]
	delete(m.holds, holdID)
	return t, ok
}

// Valid reports whether a tracked hold is still inside its local deadline.
func (m *HoldManager) Valid(holdID string) bool {
	t, ok := m.lookup(holdID)
	return ok && m.clock.Now().Before(t.deadline)
}

// Lapsed reports whether the hold is tracked and its deadline has passed.
// Untracked holds are not considered lapsed; the backend decides for them.
func (m *HoldManager) Lapsed(holdID string) bool {
	t, ok := m.lookup(holdID)
	return ok && !m.clock.Now().Before(t.deadline)
}

// Remaining is the time left before the hold lapses, zero when unknown.
func (m *HoldManager) Remaining(holdID string) time.Duration {
	t, ok := m.lookup(holdID)
	if !ok {
		return 0
	}
	if left := t.deadline.Sub(m.clock.Now()); left > 0 {
		return left
	}
	return 0
}

func (m *HoldManager) Deadline(holdID string) (time.Time, bool) {
	t, ok := m.lookup(holdID)
	return t.deadline, ok
}

// Release returns the hold to the pool. It is idempotent: unknown, released
// and expired holds are not errors. A hold known to have lapsed locally is
// dropped without a network call.
func (m *HoldManager) Release(ctx context.Context, holdID string) error {
	if holdID == "" {
		return nil
	}
	t, ok := m.take(holdID)
	if ok && !m.clock.Now().Before(t.deadline) {
		return nil
	}

	err := m.backend.ReleaseHold(ctx, holdID)
	if err == nil || ignorableReleaseError(err) {
		return nil
	}
	return err
}

// ReleaseAsync releases the hold without blocking the caller and without
// being cancelled by it.
func (m *HoldManager) ReleaseAsync(ctx context.Context, holdID string) {
	if holdID == "" {
		return
	}
	t, ok := m.take(holdID)
	now := m.clock.Now()
	if ok && !now.Before(t.deadline) {
		return
	}

	deadline := now.Add(m.ttl)
	if ok {
		deadline = t.deadline
	}
	if m.releaser != nil && m.releaser.Enqueue(holdID, deadline) {
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		releaseCtx, cancel := context.WithTimeout(detached, asyncReleaseTimeout)
		defer cancel()
		if err := m.backend.ReleaseHold(releaseCtx, holdID); err != nil && !ignorableReleaseError(err) {
			m.logger.Warn().Err(err).Str("hold_id", holdID).Msg("background hold release failed")
		}
	}()
}

func ignorableReleaseError(err error) bool {
	return errors.Is(err, domain.ErrHoldNotFound) || errors.Is(err, domain.ErrHoldExpired)
}
