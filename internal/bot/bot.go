package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/models"
	"slotbook/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const updateTimeout = 30 * time.Second

// RateLimiter is the part of the draft repository the bot throttles with.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Exporter produces the bookings spreadsheet for managers.
type Exporter interface {
	ExportBookings(ctx context.Context, from, to time.Time) ([]byte, error)
}

// Deps wires the bot. Wizard holds the collaborators shared by every chat's
// wizard; its Backend is also used for catalog lookups.
type Deps struct {
	Telegram *TelegramService
	Wizard   service.WizardDeps
	Limiter  RateLimiter
	Exporter Exporter
	Config   config.BotConfig
	Location *time.Location
	Metrics  *Metrics
	Logger   *zerolog.Logger
}

// session is one chat's booking conversation.
type session struct {
	chatID     int64
	wizard     *service.Wizard
	pending    *models.ClientDetails
	warnedHold string
	lastSeen   time.Time
}

// sessionIdleTTL is how long a chat may stay silent before its in-memory
// conversation is dropped. The draft store still holds its progress.
const sessionIdleTTL = 30 * time.Minute

type Bot struct {
	tg         *TelegramService
	backend    domain.BookingBackend
	wizardDeps service.WizardDeps
	limiter    RateLimiter
	exporter   Exporter
	config     config.BotConfig
	location   *time.Location
	clock      domain.Clock
	metrics    *Metrics
	logger     *zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewBot(deps Deps) *Bot {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	clock := deps.Wizard.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	cfg := deps.Config
	if cfg.DaysToShow <= 0 {
		cfg.DaysToShow = 7
	}

	return &Bot{
		tg:         deps.Telegram,
		backend:    deps.Wizard.Backend,
		wizardDeps: deps.Wizard,
		limiter:    deps.Limiter,
		exporter:   deps.Exporter,
		config:     cfg,
		location:   location,
		clock:      clock,
		metrics:    deps.Metrics,
		logger:     logger,
		sessions:   make(map[int64]*session),
	}
}

// SessionID names the wizard session of a chat.
func SessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.UpdateProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		var userID, chatID int64
		switch {
		case update.Message != nil && update.Message.From != nil:
			userID, chatID = update.Message.From.ID, update.Message.Chat.ID
		case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
			userID, chatID = update.CallbackQuery.From.ID, update.CallbackQuery.Message.Chat.ID
		}
		if userID == 0 {
			return
		}

		if !b.isManager(userID) && !b.allow(updateCtx, userID) {
			if b.metrics != nil {
				b.metrics.RateLimited.Inc()
			}
			if update.Message != nil {
				b.sendMessage(chatID, msgRateLimited)
			}
			return
		}

		if update.CallbackQuery != nil {
			b.handleCallbackQuery(updateCtx, update.CallbackQuery)
			return
		}
		b.handleMessage(updateCtx, update.Message)
	})
}

func (b *Bot) allow(ctx context.Context, userID int64) bool {
	if b.limiter == nil {
		return true
	}
	window := time.Duration(b.config.RateLimitWindow) * time.Second
	allowed, err := b.limiter.CheckRateLimit(ctx, "tg:"+strconv.FormatInt(userID, 10), b.config.RateLimitMessages, window)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Rate limit check failed")
		return true
	}
	if !allowed {
		b.logger.Warn().Int64("user_id", userID).Msg("Rate limit exceeded")
	}
	return allowed
}

func (b *Bot) isManager(userID int64) bool {
	for _, id := range b.config.Managers {
		if id == userID {
			return true
		}
	}
	return false
}

// session returns the chat's conversation, restoring a persisted draft the
// first time the chat is seen.
func (b *Bot) session(ctx context.Context, chatID int64) *session {
	b.mu.Lock()
	s, ok := b.sessions[chatID]
	if !ok {
		s = &session{chatID: chatID, wizard: service.NewWizard(SessionID(chatID), b.wizardDeps)}
		b.sessions[chatID] = s
	}
	s.lastSeen = b.clock.Now()
	b.mu.Unlock()

	if !ok {
		if _, err := s.wizard.Resume(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("draft restore failed")
		}
	}
	return s
}

// forget drops a finished conversation. The next update from the chat starts
// from the draft store.
func (b *Bot) forget(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[s.chatID] == s {
		delete(b.sessions, s.chatID)
	}
}

// evictIdleSessions drops conversations silent for sessionIdleTTL whose hold,
// if any, has already run out. It returns how many were dropped.
func (b *Bot) evictIdleSessions(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	evicted := 0
	for chatID, s := range b.sessions {
		if now.Sub(s.lastSeen) < sessionIdleTTL || s.wizard.Remaining() > 0 {
			continue
		}
		delete(b.sessions, chatID)
		evicted++
	}
	if evicted > 0 {
		b.logger.Debug().Int("evicted", evicted).Int("active", len(b.sessions)).Msg("idle sessions dropped")
	}
	return evicted
}

func (b *Bot) snapshot() []*session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out
}
