package bot

import (
	"fmt"
	"strings"
	"time"

	"slotbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbService      = "svc:"
	cbDay          = "day:"
	cbSlot         = "slot:"
	cbSlotsPage    = "slots_page:"
	cbConsentTerms = "consent:terms"
	cbConsentAll   = "consent:all"
	cbBack         = "back"
	cbCancel       = "cancel"

	slotsPerPage = 12
	slotsPerRow  = 3
	daysPerRow   = 2

	dayLabelLayout  = "Mon 02.01"
	timeLabelLayout = "15:04"
)

const (
	msgWelcome = "👋 Welcome! Let's book a visit.\n\nCommands:\n" +
		"/book start a new booking\n/back go one step back\n/cancel drop the current booking\n" +
		"/paid <payment id> confirm your payment"
	msgRateLimited   = "⚠️ You are sending messages too often. Please wait a little."
	msgNoServices    = "There are no services available right now."
	msgChooseService = "Choose a service:"
	msgNoSlots       = "There are no free times on that day. Please choose another day."
	msgDetailsFormat = "Please send your details, one per line:\n\nFull name\nEmail\nPhone\nNotes (optional)"
	msgConsent       = "Please accept the terms of service to continue. You may also agree to receive news and offers."
	msgCancelled     = "Booking cancelled. Send /book to start again."
	msgPaidUsage     = "Send /paid followed by your payment id, for example: /paid pi_3Nabc"
	msgUnknown       = "I did not understand that. Send /book to start a booking."
)

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.tg.SendMessage(chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}

func (b *Bot) sendKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	if _, err := b.tg.SendWithInlineKeyboard(chatID, text, keyboard); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send keyboard failed")
	}
}

func formatPrice(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}

func (b *Bot) formatTime(t time.Time) string {
	return t.In(b.location).Format(timeLabelLayout)
}

func (b *Bot) formatDateTime(t time.Time) string {
	return t.In(b.location).Format("02.01.2006 15:04")
}

func navRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", cbBack),
		tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", cbCancel),
	)
}

func servicesKeyboard(services []*models.Service) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(services)+1)
	for _, svc := range services {
		label := fmt.Sprintf("%s · %d min · %s", svc.Name, svc.DurationMinutes, formatPrice(svc.Price, svc.Currency))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbService+svc.ID),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", cbCancel),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// daysKeyboard offers the next n calendar days starting today.
func (b *Bot) daysKeyboard(n int) tgbotapi.InlineKeyboardMarkup {
	now := b.clock.Now().In(b.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.location)

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i := 0; i < n; i++ {
		day := today.AddDate(0, 0, i)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(day.Format(dayLabelLayout), cbDay+day.Format(models.DateLayout)))
		if len(row) == daysPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, navRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func consentKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Accept terms", cbConsentTerms)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Accept terms and news", cbConsentAll)),
		navRow(),
	)
}

// parseDetails reads client details from a free-form message: name, email
// and phone on separate lines (or separated by ';'), then optional notes.
func parseDetails(text string) (models.ClientDetails, bool) {
	sep := "\n"
	if !strings.Contains(text, "\n") {
		sep = ";"
	}
	var parts []string
	for _, p := range strings.Split(text, sep) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 3 {
		return models.ClientDetails{}, false
	}
	details := models.ClientDetails{
		Name:  parts[0],
		Email: parts[1],
		Phone: parts[2],
	}
	if len(parts) > 3 {
		details.Notes = strings.Join(parts[3:], " ")
	}
	return details, true
}

func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, args, _ := strings.Cut(text, " ")
	// strip @botname suffix
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}
