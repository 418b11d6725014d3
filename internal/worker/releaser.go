package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DeadLetterKey = "slotbook:release_deadletter"

	releaseTimeout = 10 * time.Second
)

// HoldBackend is the part of the booking backend the releaser needs.
type HoldBackend interface {
	ReleaseHold(ctx context.Context, holdID string) error
}

// ReleaseTask is one pending hold release.
type ReleaseTask struct {
	HoldID   string    `json:"hold_id"`
	Deadline time.Time `json:"deadline"`
	Attempt  int       `json:"attempt"`
	LastErr  string    `json:"last_error,omitempty"`
}

// Releaser retries best-effort hold releases in the background. A release is
// abandoned once the hold's deadline passes, since the hold returns to the
// pool on its own by then. Releases that exhaust their retries are parked in a
// Redis dead-letter list when Redis is configured.
type Releaser struct {
	backend       HoldBackend
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan ReleaseTask
	clock         domain.Clock
	deadLetterKey string
	logger        *zerolog.Logger
}

var _ domain.HoldReleaser = (*Releaser)(nil)

func NewReleaser(backend HoldBackend, redisClient *redis.Client, retry RetryPolicy, queueSize int, logger *zerolog.Logger) *Releaser {
	if retry.MaxRetries == 0 {
		retry = ReleasePolicy(0, 0)
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Releaser{
		backend:       backend,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan ReleaseTask, queueSize),
		clock:         domain.SystemClock{},
		deadLetterKey: DeadLetterKey,
		logger:        logger,
	}
}

func (r *Releaser) WithClock(clock domain.Clock) *Releaser {
	r.clock = clock
	return r
}

// Enqueue schedules a release. It never blocks and reports false when the
// queue is full.
func (r *Releaser) Enqueue(holdID string, deadline time.Time) bool {
	return r.push(ReleaseTask{HoldID: holdID, Deadline: deadline})
}

func (r *Releaser) push(task ReleaseTask) bool {
	select {
	case r.queue <- task:
		metrics.SetReleaseQueueDepth(len(r.queue))
		return true
	default:
		r.logger.Warn().Str("hold_id", task.HoldID).Msg("release queue full")
		return false
	}
}

// Start processes releases until ctx is done.
func (r *Releaser) Start(ctx context.Context) {
	r.logger.Info().Msg("hold releaser started")
	defer r.logger.Info().Msg("hold releaser stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.queue:
			metrics.SetReleaseQueueDepth(len(r.queue))
			r.process(ctx, task)
		}
	}
}

func (r *Releaser) process(ctx context.Context, task ReleaseTask) {
	if !task.Deadline.IsZero() && !r.clock.Now().Before(task.Deadline) {
		r.logger.Debug().Str("hold_id", task.HoldID).Msg("hold lapsed before release")
		return
	}

	releaseCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
	err := r.backend.ReleaseHold(releaseCtx, task.HoldID)
	cancel()
	if err == nil || errors.Is(err, domain.ErrHoldNotFound) || errors.Is(err, domain.ErrHoldExpired) {
		return
	}
	if ctx.Err() != nil {
		return
	}

	task.Attempt++
	task.LastErr = err.Error()
	if !retryable(err) || r.retryPolicy.Exhausted(task.Attempt) {
		r.logger.Error().Err(err).Str("hold_id", task.HoldID).Int("attempt", task.Attempt).Msg("hold release failed")
		r.pushDeadLetter(ctx, task)
		return
	}

	delay := r.retryPolicy.NextDelay(task.Attempt)
	r.logger.Warn().Err(err).Str("hold_id", task.HoldID).Dur("retry_in", delay).Msg("hold release will be retried")
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if !r.push(task) {
			r.pushDeadLetter(ctx, task)
		}
	})
}

func retryable(err error) bool {
	return domain.Retryable(err) || domain.ErrorCode(err) == domain.CodeInternal
}

func (r *Releaser) pushDeadLetter(ctx context.Context, task ReleaseTask) {
	if r.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		r.logger.Error().Err(err).Str("hold_id", task.HoldID).Msg("encode dead letter")
		return
	}
	if err := r.redis.LPush(context.WithoutCancel(ctx), r.deadLetterKey, data).Err(); err != nil {
		r.logger.Error().Err(err).Str("hold_id", task.HoldID).Msg("dead letter push")
	}
}

// DeadLetters returns the releases parked after exhausting retries.
func (r *Releaser) DeadLetters(ctx context.Context) ([]ReleaseTask, error) {
	if r.redis == nil {
		return nil, nil
	}
	raw, err := r.redis.LRange(ctx, r.deadLetterKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]ReleaseTask, 0, len(raw))
	for _, item := range raw {
		var task ReleaseTask
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			r.logger.Warn().Err(err).Msg("skip malformed dead letter")
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
