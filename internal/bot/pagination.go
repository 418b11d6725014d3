package bot

import (
	"fmt"
	"strings"

	"slotbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type PaginationParams struct {
	ChatID     int64
	MessageID  int // 0 if new message
	Page       int
	Title      string
	PagePrefix string
}

// renderPaginatedList draws one page of a list with prev/next buttons and the
// wizard navigation row.
func (b *Bot) renderPaginatedList(params PaginationParams, totalCount int, itemsPerPage int, renderer func(startIdx, endIdx int) [][]tgbotapi.InlineKeyboardButton) {
	if itemsPerPage <= 0 {
		itemsPerPage = slotsPerPage
	}

	totalPages := (totalCount + itemsPerPage - 1) / itemsPerPage
	if params.Page >= totalPages && totalPages > 0 {
		params.Page = totalPages - 1
	}
	if params.Page < 0 {
		params.Page = 0
	}

	startIdx := params.Page * itemsPerPage
	endIdx := startIdx + itemsPerPage
	if endIdx > totalCount {
		endIdx = totalCount
	}

	keyboard := renderer(startIdx, endIdx)

	var message strings.Builder
	message.WriteString(params.Title)
	if totalPages > 1 {
		message.WriteString(fmt.Sprintf("\n\nPage %d of %d", params.Page+1, totalPages))
	}

	var navButtons []tgbotapi.InlineKeyboardButton
	if params.Page > 0 {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("◀️ Earlier", fmt.Sprintf("%s%d", params.PagePrefix, params.Page-1)))
	}
	if endIdx < totalCount {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("Later ▶️", fmt.Sprintf("%s%d", params.PagePrefix, params.Page+1)))
	}
	if len(navButtons) > 0 {
		keyboard = append(keyboard, navButtons)
	}
	keyboard = append(keyboard, navRow())

	markup := tgbotapi.NewInlineKeyboardMarkup(keyboard...)

	if params.MessageID != 0 {
		if _, err := b.tg.EditMessage(params.ChatID, params.MessageID, message.String(), &markup); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", params.ChatID).Msg("edit paginated list failed")
		}
		return
	}
	b.sendKeyboard(params.ChatID, message.String(), markup)
}

// sendSlotsPage shows the free times of the selected day.
func (b *Bot) sendSlotsPage(chatID int64, messageID int, title string, slots []*models.AvailabilitySlot, page int) {
	b.renderPaginatedList(PaginationParams{
		ChatID:     chatID,
		MessageID:  messageID,
		Page:       page,
		Title:      title,
		PagePrefix: cbSlotsPage,
	}, len(slots), slotsPerPage, func(startIdx, endIdx int) [][]tgbotapi.InlineKeyboardButton {
		var rows [][]tgbotapi.InlineKeyboardButton
		var row []tgbotapi.InlineKeyboardButton
		for _, slot := range slots[startIdx:endIdx] {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.formatTime(slot.StartTime), cbSlot+slot.ID))
			if len(row) == slotsPerRow {
				rows = append(rows, row)
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
		return rows
	})
}
