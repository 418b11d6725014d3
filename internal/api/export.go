package api

import (
	"fmt"
	"io"
	"time"

	"slotbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	exportSheet       = "Bookings"
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportTimeLayout  = "02.01.2006 15:04"
	exportTitleLayout = "02.01.2006"
)

var exportHeaders = []interface{}{
	"Booking ID", "Service", "Start", "End", "Client", "Email", "Phone",
	"Status", "Amount", "Currency", "Payment", "Created",
}

// WriteBookingsXLSX renders bookings for the period [from, to] as a single
// sheet workbook. Times are shown in loc.
func WriteBookingsXLSX(w io.Writer, bookings []*models.Booking, from, to time.Time, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	_ = f.SetCellValue(exportSheet, "A1", fmt.Sprintf("Period: %s - %s",
		from.In(loc).Format(exportTitleLayout), to.In(loc).Format(exportTitleLayout)))
	_ = f.MergeCell(exportSheet, "A1", "L1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(exportSheet, "A1", "A1", titleStyle)

	if err := f.SetSheetRow(exportSheet, "A2", &exportHeaders); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	_ = f.SetCellStyle(exportSheet, "A2", "L2", headerStyle)

	for i, b := range bookings {
		row := []interface{}{
			b.ID,
			b.ServiceName,
			b.StartTime.In(loc).Format(exportTimeLayout),
			b.EndTime.In(loc).Format(exportTimeLayout),
			b.Client.Name,
			b.Client.Email,
			b.Client.Phone,
			string(b.Status),
			float64(b.Amount) / 100,
			b.Currency,
			b.PaymentRef,
			b.CreatedAt.In(loc).Format(exportTimeLayout),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("write booking %s: %w", b.ID, err)
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 38)
	_ = f.SetColWidth(exportSheet, "B", "L", 20)

	return f.Write(w)
}
