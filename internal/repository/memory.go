package repository

import (
	"context"
	"sync"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

type draftEntry struct {
	draft     *models.BookingDraft
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryDraftRepository keeps drafts in process memory. Entries lapse after ttl.
type MemoryDraftRepository struct {
	drafts sync.Map

	mu         sync.Mutex
	rateLimits map[string]*rateLimitEntry

	ttl   time.Duration
	clock domain.Clock
}

var _ domain.DraftRepository = (*MemoryDraftRepository)(nil)

func NewMemoryDraftRepository(ttl time.Duration) *MemoryDraftRepository {
	return &MemoryDraftRepository{
		rateLimits: make(map[string]*rateLimitEntry),
		ttl:        ttl,
		clock:      domain.SystemClock{},
	}
}

// WithClock swaps the time source, used by tests to age entries.
func (r *MemoryDraftRepository) WithClock(clock domain.Clock) *MemoryDraftRepository {
	r.clock = clock
	return r
}

func (r *MemoryDraftRepository) LoadDraft(ctx context.Context, sessionID string) (*models.BookingDraft, error) {
	val, ok := r.drafts.Load(sessionID)
	if !ok {
		return nil, nil
	}
	entry := val.(draftEntry)
	if r.ttl > 0 && !r.clock.Now().Before(entry.expiresAt) {
		r.drafts.CompareAndDelete(sessionID, val)
		return nil, nil
	}
	return entry.draft.Clone(), nil
}

func (r *MemoryDraftRepository) SaveDraft(ctx context.Context, draft *models.BookingDraft) error {
	r.drafts.Store(draft.SessionID, draftEntry{
		draft:     draft.Clone(),
		expiresAt: r.clock.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryDraftRepository) ClearDraft(ctx context.Context, sessionID string) error {
	r.drafts.Delete(sessionID)
	return nil
}

// CheckRateLimit counts hits per key in fixed windows.
func (r *MemoryDraftRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rateLimits[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++

	return entry.count <= limit, nil
}
