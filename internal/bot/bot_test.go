package bot

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/models"
	"slotbook/internal/payment"
	"slotbook/internal/repository"
	"slotbook/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC)

const browLamination = "brow-lamination"

type recordingSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, c)
	return tgbotapi.Message{MessageID: len(r.sent)}, nil
}

func (r *recordingSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (r *recordingSender) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return r.updates
}

func (r *recordingSender) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "slotbook_bot"}
}

func (r *recordingSender) StopReceivingUpdates() {}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// texts returns the text of every message sent or edited since the last reset.
func (r *recordingSender) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (r *recordingSender) lastText() string {
	texts := r.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// buttons returns the callback data of every inline button sent.
func (r *recordingSender) buttons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	collect := func(markup *tgbotapi.InlineKeyboardMarkup) {
		if markup == nil {
			return
		}
		for _, row := range markup.InlineKeyboard {
			for _, btn := range row {
				if btn.CallbackData != nil {
					out = append(out, *btn.CallbackData)
				}
			}
		}
	}
	for _, c := range r.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			if markup, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
				collect(&markup)
			}
		case tgbotapi.EditMessageTextConfig:
			collect(m.ReplyMarkup)
		}
	}
	return out
}

func (r *recordingSender) documents() []tgbotapi.DocumentConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tgbotapi.DocumentConfig
	for _, c := range r.sent {
		if d, ok := c.(tgbotapi.DocumentConfig); ok {
			out = append(out, d)
		}
	}
	return out
}

type stubLimiter struct {
	allowed bool
}

func (s stubLimiter) CheckRateLimit(context.Context, string, int, time.Duration) (bool, error) {
	return s.allowed, nil
}

type stubExporter struct {
	from, to time.Time
}

func (s *stubExporter) ExportBookings(_ context.Context, from, to time.Time) ([]byte, error) {
	s.from, s.to = from, to
	return []byte("PK\x03\x04"), nil
}

type botFixture struct {
	clock    *domain.ManualClock
	db       *database.DB
	drafts   *service.DraftService
	backend  *service.ReservationService
	sender   *recordingSender
	exporter *stubExporter
	slot     *models.AvailabilitySlot
	logger   *zerolog.Logger
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := domain.NewManualClock(testNow)
	backend := service.NewReservationService(db, payment.StaticVerifier{}, events.NewEventBus(), service.ReservationOptions{
		HoldTTL:  models.HoldTTL,
		Location: time.UTC,
		Market:   service.MarketPL,
		Clock:    clock,
	}, &logger)

	ctx := context.Background()
	require.NoError(t, db.UpsertService(ctx, &models.Service{
		ID: browLamination, Name: "Brow Lamination", Type: models.ServiceBeauty,
		DurationMinutes: 60, Price: 15000, Currency: "PLN", IsActive: true,
	}))
	start := time.Date(2024, 12, 15, 10, 30, 0, 0, time.UTC)
	slot := &models.AvailabilitySlot{ServiceID: browLamination, StartTime: start, EndTime: start.Add(time.Hour), ResourceID: "room-1"}
	require.NoError(t, db.CreateSlot(ctx, slot))

	drafts := service.NewDraftService(repository.NewMemoryDraftRepository(time.Hour).WithClock(clock), clock, &logger)

	return &botFixture{
		clock:    clock,
		db:       db,
		drafts:   drafts,
		backend:  backend,
		sender:   &recordingSender{updates: make(chan tgbotapi.Update, 1)},
		exporter: &stubExporter{},
		slot:     slot,
		logger:   &logger,
	}
}

func (f *botFixture) newBot(limiter RateLimiter) *Bot {
	holds := service.NewHoldManager(f.backend, f.clock, models.HoldTTL, f.logger)
	return NewBot(Deps{
		Telegram: NewTelegramService(f.sender),
		Wizard: service.WizardDeps{
			Backend:      f.backend,
			Holds:        holds,
			Finalizer:    service.NewFinalizer(f.backend, holds, f.logger),
			Availability: service.NewAvailabilityClient(f.backend, time.UTC, f.logger),
			Drafts:       f.drafts,
			Details:      service.NewDetailsValidator(service.MarketPL),
			Clock:        f.clock,
			Logger:       f.logger,
		},
		Limiter:  limiter,
		Exporter: f.exporter,
		Config:   config.BotConfig{Managers: []int64{900}, RateLimitMessages: 20, RateLimitWindow: 60},
		Location: time.UTC,
		Metrics:  NewMetrics(prometheus.NewRegistry()),
		Logger:   f.logger,
	})
}

func message(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: chatID, UserName: "anna"},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}}
}

func callback(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: chatID},
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

// reachDetails drives a chat up to the client details step.
func (f *botFixture) reachDetails(t *testing.T, b *Bot, chatID int64) {
	t.Helper()
	ctx := context.Background()
	b.processUpdate(ctx, message(chatID, "/book"))
	b.processUpdate(ctx, callback(chatID, cbService+browLamination))
	b.processUpdate(ctx, callback(chatID, cbDay+"2024-12-15"))
	b.processUpdate(ctx, callback(chatID, cbSlot+f.slot.ID))
	require.Equal(t, models.StepClientDetails, b.session(ctx, chatID).wizard.Step())
}

func TestBot_BookingConversation(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(stubLimiter{allowed: true})
	ctx := context.Background()

	b.processUpdate(ctx, message(42, "/start"))
	assert.Contains(t, f.sender.texts()[0], "Welcome")
	assert.Contains(t, f.sender.buttons(), cbService+browLamination)

	f.sender.reset()
	b.processUpdate(ctx, callback(42, cbService+browLamination))
	assert.Contains(t, f.sender.lastText(), "Brow Lamination")
	assert.Contains(t, f.sender.buttons(), cbDay+"2024-12-15")

	f.sender.reset()
	b.processUpdate(ctx, callback(42, cbDay+"2024-12-15"))
	assert.Contains(t, f.sender.buttons(), cbSlot+f.slot.ID)

	f.sender.reset()
	b.processUpdate(ctx, callback(42, cbSlot+f.slot.ID))
	assert.Contains(t, f.sender.lastText(), "15.12.2024 10:30 is reserved for you for 5 more minutes")

	f.sender.reset()
	b.processUpdate(ctx, message(42, "Anna Kowalska\nanna@example.com\n600 700 800\nfirst visit"))
	assert.Contains(t, f.sender.lastText(), "Notes: first visit")
	assert.Contains(t, f.sender.buttons(), cbConsentTerms)

	f.sender.reset()
	b.processUpdate(ctx, callback(42, cbConsentAll))
	assert.Contains(t, f.sender.lastText(), "To pay: 150.00 PLN")

	f.clock.Advance(2 * time.Minute)
	f.sender.reset()
	b.processUpdate(ctx, message(42, "/paid pi_3Nabc"))
	assert.Contains(t, f.sender.lastText(), "Booking confirmed")

	bookings, err := f.db.ListBookings(ctx, testNow, testNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, SessionID(42), bookings[0].SessionID)
	assert.Equal(t, "+48600700800", bookings[0].Client.Phone)
	assert.True(t, bookings[0].Client.AcceptMarketing)
}

func TestBot_InvalidPhoneStaysOnDetails(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)
	ctx := context.Background()
	f.reachDetails(t, b, 42)

	b.processUpdate(ctx, message(42, "Anna Kowalska; anna@example.com; 12"))
	f.sender.reset()
	b.processUpdate(ctx, callback(42, cbConsentTerms))

	assert.Contains(t, f.sender.lastText(), "phone")
	assert.Equal(t, models.StepClientDetails, b.session(ctx, 42).wizard.Step())

	f.sender.reset()
	b.processUpdate(ctx, message(42, "just a name"))
	assert.Equal(t, msgDetailsFormat, f.sender.lastText())
}

func TestBot_SlotTakenByAnotherChat(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)
	ctx := context.Background()
	f.reachDetails(t, b, 1)

	b.processUpdate(ctx, message(2, "/book"))
	b.processUpdate(ctx, callback(2, cbService+browLamination))
	b.processUpdate(ctx, callback(2, cbDay+"2024-12-15"))
	f.sender.reset()
	b.processUpdate(ctx, callback(2, cbSlot+f.slot.ID))

	assert.Contains(t, f.sender.lastText(), "just taken")
	assert.Equal(t, models.StepSelectTime, b.session(ctx, 2).wizard.Step())
}

func TestBot_CancelReleasesHold(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)
	ctx := context.Background()
	f.reachDetails(t, b, 42)
	holdID := b.session(ctx, 42).wizard.Draft().HoldID

	f.sender.reset()
	b.processUpdate(ctx, callback(42, cbCancel))
	assert.Equal(t, msgCancelled, f.sender.lastText())
	assert.Equal(t, models.StepChooseService, b.session(ctx, 42).wizard.Step())

	assert.Eventually(t, func() bool {
		hold, err := f.db.GetHold(ctx, holdID)
		return err == nil && hold.Status == models.HoldReleased
	}, time.Second, 10*time.Millisecond)

	draft, err := f.drafts.Load(ctx, SessionID(42))
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func TestBot_BackReturnsToSelectTime(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)
	ctx := context.Background()
	f.reachDetails(t, b, 42)

	f.sender.reset()
	b.processUpdate(ctx, message(42, "/back"))
	assert.Equal(t, models.StepSelectTime, b.session(ctx, 42).wizard.Step())
	assert.Contains(t, f.sender.buttons(), cbSlot+f.slot.ID)
}

func TestBot_RateLimited(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(stubLimiter{allowed: false})

	b.processUpdate(context.Background(), message(42, "/start"))
	assert.Equal(t, []string{msgRateLimited}, f.sender.texts())
	assert.Empty(t, b.snapshot())
}

func TestBot_HoldReminder(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)
	f.reachDetails(t, b, 42)

	assert.Zero(t, b.sendHoldReminders(), "too early to warn")

	f.clock.Advance(4*time.Minute + 30*time.Second)
	f.sender.reset()
	assert.Equal(t, 1, b.sendHoldReminders())
	assert.Contains(t, f.sender.lastText(), "expires in about 30 seconds")
	assert.Zero(t, b.sendHoldReminders(), "warn once per hold")
}

func TestBot_ResumeAfterRestart(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	f.reachDetails(t, f.newBot(nil), 42)

	restarted := f.newBot(nil)
	f.sender.reset()
	restarted.processUpdate(ctx, message(42, "/start"))
	assert.Equal(t, models.StepClientDetails, restarted.session(ctx, 42).wizard.Step())
	assert.Contains(t, f.sender.lastText(), "is reserved for you")
}

func TestBot_FinishedSessionsAreDropped(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)
	ctx := context.Background()

	f.reachDetails(t, b, 42)
	b.processUpdate(ctx, message(42, "Anna Kowalska\nanna@example.com\n600 700 800"))
	b.processUpdate(ctx, callback(42, cbConsentTerms))
	b.processUpdate(ctx, message(42, "/paid pi_3Nabc"))
	require.Contains(t, f.sender.lastText(), "Booking confirmed")
	assert.Empty(t, b.snapshot())

	b.processUpdate(ctx, message(7, "/book"))
	b.processUpdate(ctx, callback(7, cbService+browLamination))
	require.Len(t, b.snapshot(), 1)
	b.processUpdate(ctx, message(7, "/cancel"))
	assert.Empty(t, b.snapshot())

	b.processUpdate(ctx, message(7, "/book"))
	assert.Contains(t, f.sender.buttons(), cbService+browLamination)
	assert.Equal(t, models.StepChooseService, b.session(ctx, 7).wizard.Step())
}

func TestBot_IdleSessionsEvicted(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)
	ctx := context.Background()

	b.processUpdate(ctx, message(1, "/start"))
	f.reachDetails(t, b, 2)
	require.Len(t, b.snapshot(), 2)

	f.clock.Advance(10 * time.Minute)
	assert.Zero(t, b.evictIdleSessions(f.clock.Now()))

	b.processUpdate(ctx, message(1, "/help"))
	f.clock.Advance(25 * time.Minute)
	assert.Equal(t, 1, b.evictIdleSessions(f.clock.Now()), "chat 1 spoke 25 minutes ago")
	require.Len(t, b.snapshot(), 1)
	assert.Equal(t, int64(1), b.snapshot()[0].chatID)

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, b.evictIdleSessions(f.clock.Now()))
	assert.Empty(t, b.snapshot())

	// progress survives in the draft store
	draft, err := f.drafts.Load(ctx, SessionID(2))
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, f.slot.ID, draft.SlotID)
}

func TestBot_ManagerExport(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)
	ctx := context.Background()

	b.processUpdate(ctx, message(42, "/export"))
	assert.Equal(t, msgUnknown, f.sender.lastText())
	assert.Empty(t, f.sender.documents())

	b.processUpdate(ctx, message(900, "/export 2024-12-01 2024-12-31"))
	docs := f.sender.documents()
	require.Len(t, docs, 1)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), f.exporter.from)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), f.exporter.to)
	assert.Contains(t, docs[0].Caption, "01.12.2024 - 31.12.2024")

	b.processUpdate(ctx, message(900, "/export 2024-12-31 2024-12-01"))
	assert.Contains(t, f.sender.lastText(), "end date is before start date")
}

func TestBotStart(t *testing.T) {
	f := newBotFixture(t)
	b := f.newBot(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()

	f.sender.updates <- message(42, "/start")
	assert.Eventually(t, func() bool {
		return len(f.sender.texts()) >= 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
}

func TestParseDetails(t *testing.T) {
	cases := []struct {
		name  string
		input string
		ok    bool
		want  models.ClientDetails
	}{
		{"Lines", "Anna\nanna@example.com\n600700800", true, models.ClientDetails{Name: "Anna", Email: "anna@example.com", Phone: "600700800"}},
		{"Semicolons", "Anna; anna@example.com; 600700800; window seat; please", true,
			models.ClientDetails{Name: "Anna", Email: "anna@example.com", Phone: "600700800", Notes: "window seat please"}},
		{"BlankLinesIgnored", "Anna\n\nanna@example.com\n600700800\n", true, models.ClientDetails{Name: "Anna", Email: "anna@example.com", Phone: "600700800"}},
		{"TooShort", "Anna\nanna@example.com", false, models.ClientDetails{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseDetails(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCommand(t *testing.T) {
	cmd, args := parseCommand("/Paid@slotbook_bot  pi_123 ")
	assert.Equal(t, "/paid", cmd)
	assert.Equal(t, "pi_123", args)

	cmd, args = parseCommand(" hello ")
	assert.Empty(t, cmd)
	assert.Equal(t, "hello", args)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "150.00 PLN", formatPrice(15000, "PLN"))
	assert.Equal(t, "0.05 EUR", formatPrice(5, "EUR"))
	assert.Equal(t, 5, minutesLeft(4*time.Minute+time.Second))
	assert.Equal(t, 0, minutesLeft(0))
	assert.True(t, strings.HasPrefix(formatReminderMessage("10:30", 45*time.Second), "⏳"))
}
