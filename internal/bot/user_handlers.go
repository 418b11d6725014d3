package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	cmd, args := parseCommand(message.Text)

	if b.metrics != nil {
		b.metrics.MessagesProcessed.Inc()
		if cmd != "" {
			b.metrics.CommandsProcessed.Inc()
		}
	}

	zerolog.Ctx(ctx).Debug().
		Int64("user_id", userID).
		Str("username", message.From.UserName).
		Str("command", cmd).
		Msg("Handling message")

	if cmd == "/export" {
		if b.isManager(userID) {
			b.handleExport(ctx, chatID, args)
			return
		}
		b.sendMessage(chatID, msgUnknown)
		return
	}

	s := b.session(ctx, chatID)

	switch cmd {
	case "/start", "/help":
		b.sendMessage(chatID, msgWelcome)
		b.promptStep(ctx, s)
	case "/book":
		if s.wizard.Step() != models.StepChooseService {
			b.cancel(ctx, s, false)
			s = b.session(ctx, chatID)
		}
		b.promptStep(ctx, s)
	case "/back":
		b.goBack(ctx, s)
	case "/cancel":
		b.cancel(ctx, s, true)
	case "/paid":
		b.handlePaid(ctx, s, args)
	case "":
		b.handleText(ctx, s, args)
	default:
		b.sendMessage(chatID, msgUnknown)
	}
}

func (b *Bot) handleText(ctx context.Context, s *session, text string) {
	switch s.wizard.Step() {
	case models.StepClientDetails:
		details, ok := parseDetails(text)
		if !ok {
			b.sendMessage(s.chatID, msgDetailsFormat)
			return
		}
		b.setPending(s, &details)
		summary := fmt.Sprintf("Name: %s\nEmail: %s\nPhone: %s", details.Name, details.Email, details.Phone)
		if details.Notes != "" {
			summary += "\nNotes: " + details.Notes
		}
		b.sendKeyboard(s.chatID, summary+"\n\n"+msgConsent, consentKeyboard())
	case models.StepPayment:
		if strings.HasPrefix(text, "pi_") {
			b.handlePaid(ctx, s, text)
			return
		}
		b.sendMessage(s.chatID, msgPaidUsage)
	default:
		b.sendMessage(s.chatID, msgUnknown)
	}
}

// promptStep tells the user what the current step expects.
func (b *Bot) promptStep(ctx context.Context, s *session) {
	draft := s.wizard.Draft()

	switch draft.Step {
	case models.StepChooseService:
		services, err := b.backend.ListServices(ctx)
		if err != nil {
			b.sendMessage(s.chatID, b.getErrorMessage(err))
			return
		}
		if len(services) == 0 {
			b.sendMessage(s.chatID, msgNoServices)
			return
		}
		b.sendKeyboard(s.chatID, msgChooseService, servicesKeyboard(services))

	case models.StepSelectTime:
		if slots := s.wizard.Slots(); draft.Date != "" && len(slots) > 0 {
			b.sendSlotsPage(s.chatID, 0, "Free times on "+draft.Date+":", slots, 0)
			return
		}
		b.sendKeyboard(s.chatID, b.serviceTitle(ctx, draft.ServiceID)+"Choose a day:", b.daysKeyboard(b.config.DaysToShow))

	case models.StepClientDetails:
		text := fmt.Sprintf("🕒 %s is reserved for you for %d more minutes.\n\n%s",
			b.formatDateTime(draft.SlotStart), minutesLeft(s.wizard.Remaining()), msgDetailsFormat)
		b.sendKeyboard(s.chatID, text, tgbotapi.NewInlineKeyboardMarkup(navRow()))

	case models.StepPayment:
		svc, err := b.backend.GetService(ctx, draft.ServiceID)
		if err != nil {
			b.sendMessage(s.chatID, b.getErrorMessage(err))
			return
		}
		text := fmt.Sprintf("💳 %s on %s\nTo pay: %s\n\nAfter paying, send /paid followed by your payment id.",
			svc.Name, b.formatDateTime(draft.SlotStart), formatPrice(svc.Price, svc.Currency))
		b.sendKeyboard(s.chatID, text, tgbotapi.NewInlineKeyboardMarkup(navRow()))

	case models.StepCompleted:
		b.sendMessage(s.chatID, "✅ Your booking is confirmed. Send /book to make another one.")
	}
}

func (b *Bot) serviceTitle(ctx context.Context, serviceID string) string {
	if serviceID == "" {
		return ""
	}
	svc, err := b.backend.GetService(ctx, serviceID)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s (%d min, %s)\n\n", svc.Name, svc.DurationMinutes, formatPrice(svc.Price, svc.Currency))
}

func (b *Bot) goBack(ctx context.Context, s *session) {
	if _, err := s.wizard.Back(ctx); err != nil {
		b.sendMessage(s.chatID, b.getErrorMessage(err))
		return
	}
	b.setPending(s, nil)
	b.promptStep(ctx, s)
}

func (b *Bot) cancel(ctx context.Context, s *session, notify bool) {
	if err := s.wizard.Abandon(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("chat_id", s.chatID).Msg("abandon failed")
	}
	b.setPending(s, nil)
	b.forget(s)
	if notify {
		b.sendMessage(s.chatID, msgCancelled)
	}
}

func (b *Bot) handlePaid(ctx context.Context, s *session, paymentID string) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		b.sendMessage(s.chatID, msgPaidUsage)
		return
	}
	draft := s.wizard.Draft()
	if draft.Step != models.StepPayment {
		b.sendMessage(s.chatID, b.getErrorMessage(domain.ErrInvalidTransition))
		return
	}

	svc, err := b.backend.GetService(ctx, draft.ServiceID)
	if err != nil {
		b.sendMessage(s.chatID, b.getErrorMessage(err))
		return
	}

	// The backend verifies the confirmation against the provider before
	// booking.
	booking, err := s.wizard.ConfirmPayment(ctx, models.PaymentConfirmation{
		PaymentID: paymentID,
		Provider:  models.ProviderStripe,
		Amount:    svc.Price,
		Currency:  svc.Currency,
		Status:    models.PaymentSucceeded,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("chat_id", s.chatID).Msg("confirm payment failed")
		b.sendMessage(s.chatID, b.getErrorMessage(err))
		if s.wizard.Step() == models.StepSelectTime {
			b.promptStep(ctx, s)
		}
		return
	}

	b.forget(s)
	if b.metrics != nil {
		b.metrics.BookingsCreated.WithLabelValues(svc.ID).Inc()
	}
	b.sendMessage(s.chatID, fmt.Sprintf("✅ Booking confirmed!\n\nService: %s\nWhen: %s\nPaid: %s\nBooking ID: %s",
		booking.ServiceName, b.formatDateTime(booking.StartTime), formatPrice(booking.Amount, booking.Currency), booking.ID))
}

func (b *Bot) submitDetails(ctx context.Context, s *session, marketing bool) {
	pending := b.takePending(s)
	if pending == nil {
		b.sendMessage(s.chatID, msgDetailsFormat)
		return
	}
	details := *pending
	details.AcceptTerms = true
	details.AcceptMarketing = marketing

	err := s.wizard.SubmitDetails(ctx, details)
	var verr *domain.ValidationError
	switch {
	case err == nil:
		b.promptStep(ctx, s)
	case errors.As(err, &verr):
		b.sendMessage(s.chatID, b.getErrorMessage(err)+"\n"+msgDetailsFormat)
	default:
		b.sendMessage(s.chatID, b.getErrorMessage(err))
		if s.wizard.Step() == models.StepSelectTime {
			b.promptStep(ctx, s)
		}
	}
}

func (b *Bot) setPending(s *session, details *models.ClientDetails) {
	b.mu.Lock()
	s.pending = details
	b.mu.Unlock()
}

func (b *Bot) takePending(s *session) *models.ClientDetails {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}
