package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotbook/internal/models"
)

const defaultExportDays = 30

// handleExport sends managers the bookings spreadsheet. Usage:
// /export [from [to]] with dates as YYYY-MM-DD; defaults to the next 30 days.
func (b *Bot) handleExport(ctx context.Context, chatID int64, args string) {
	if b.exporter == nil {
		b.sendMessage(chatID, "Export is not configured.")
		return
	}

	startDate, endDate, err := b.exportRange(args)
	if err != nil {
		b.sendMessage(chatID, "⚠️ "+err.Error()+"\nUsage: /export 2024-12-01 2024-12-31")
		return
	}

	data, err := b.exporter.ExportBookings(ctx, startDate, endDate)
	if err != nil {
		b.logger.Error().Err(err).Time("from", startDate).Time("to", endDate).Msg("export bookings failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx",
		startDate.Format(models.DateLayout), endDate.Format(models.DateLayout))
	caption := fmt.Sprintf("Bookings %s - %s", startDate.Format("02.01.2006"), endDate.Format("02.01.2006"))
	if _, err := b.tg.SendDocument(chatID, fileName, data, caption); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send export failed")
	}
}

func (b *Bot) exportRange(args string) (time.Time, time.Time, error) {
	now := b.clock.Now().In(b.location)
	startDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.location)
	endDate := startDate.AddDate(0, 0, defaultExportDays)

	fields := strings.Fields(args)
	if len(fields) > 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("too many arguments")
	}
	if len(fields) >= 1 {
		d, err := time.ParseInLocation(models.DateLayout, fields[0], b.location)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", fields[0])
		}
		startDate = d
		endDate = startDate.AddDate(0, 0, defaultExportDays)
	}
	if len(fields) == 2 {
		d, err := time.ParseInLocation(models.DateLayout, fields[1], b.location)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", fields[1])
		}
		endDate = d
	}
	if endDate.Before(startDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date is before start date")
	}
	return startDate, endDate, nil
}
