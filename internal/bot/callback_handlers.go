package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"slotbook/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	// answer right away so the client stops showing the spinner
	if err := b.tg.AnswerCallback(callback.ID, ""); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("answer callback failed")
	}

	chatID := callback.Message.Chat.ID
	s := b.session(ctx, chatID)
	data := callback.Data

	switch {
	case strings.HasPrefix(data, cbService):
		b.selectService(ctx, s, strings.TrimPrefix(data, cbService))

	case strings.HasPrefix(data, cbDay):
		b.selectDay(ctx, s, strings.TrimPrefix(data, cbDay))

	case strings.HasPrefix(data, cbSlotsPage):
		page, _ := strconv.Atoi(strings.TrimPrefix(data, cbSlotsPage))
		draft := s.wizard.Draft()
		b.sendSlotsPage(chatID, callback.Message.MessageID, "Free times on "+draft.Date+":", s.wizard.Slots(), page)

	case strings.HasPrefix(data, cbSlot):
		b.selectSlot(ctx, s, strings.TrimPrefix(data, cbSlot))

	case data == cbConsentTerms:
		b.submitDetails(ctx, s, false)

	case data == cbConsentAll:
		b.submitDetails(ctx, s, true)

	case data == cbBack:
		b.goBack(ctx, s)

	case data == cbCancel:
		b.cancel(ctx, s, true)
	}
}

func (b *Bot) selectService(ctx context.Context, s *session, serviceID string) {
	svc, err := s.wizard.SelectService(ctx, serviceID)
	if err != nil {
		b.sendMessage(s.chatID, b.getErrorMessage(err))
		return
	}
	text := fmt.Sprintf("You chose %s (%d min, %s).\n\nChoose a day:",
		svc.Name, svc.DurationMinutes, formatPrice(svc.Price, svc.Currency))
	b.sendKeyboard(s.chatID, text, b.daysKeyboard(b.config.DaysToShow))
}

func (b *Bot) selectDay(ctx context.Context, s *session, date string) {
	slots, err := s.wizard.LoadSlots(ctx, date)
	if err != nil {
		b.sendMessage(s.chatID, b.getErrorMessage(err))
		return
	}
	if len(slots) == 0 {
		b.sendKeyboard(s.chatID, msgNoSlots, b.daysKeyboard(b.config.DaysToShow))
		return
	}
	b.sendSlotsPage(s.chatID, 0, "Free times on "+date+":", slots, 0)
}

func (b *Bot) selectSlot(ctx context.Context, s *session, slotID string) {
	_, err := s.wizard.SelectSlot(ctx, slotID)
	var unavailable *domain.SlotUnavailableError
	switch {
	case err == nil:
		b.setPending(s, nil)
		b.promptStep(ctx, s)
	case errors.As(err, &unavailable):
		if len(unavailable.Available) == 0 {
			b.sendKeyboard(s.chatID, b.getErrorMessage(err)+"\n\n"+msgNoSlots, b.daysKeyboard(b.config.DaysToShow))
			return
		}
		draft := s.wizard.Draft()
		b.sendSlotsPage(s.chatID, 0, b.getErrorMessage(err)+"\n\nFree times on "+draft.Date+":", unavailable.Available, 0)
	default:
		b.sendMessage(s.chatID, b.getErrorMessage(err))
	}
}
