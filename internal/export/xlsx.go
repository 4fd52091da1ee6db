package export

import (
	"fmt"
	"io"
	"time"

	"shareit/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetName   = "Bookings"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	dateLayout = "02.01.2006 15:04"
)

var header = []interface{}{"ID", "Item", "Booker", "Start", "End", "Status"}

// statusFill colours the status cell by booking status.
var statusFill = map[models.Status]string{
	models.StatusWaiting:  "#FFF2CC",
	models.StatusApproved: "#E2EFDA",
	models.StatusRejected: "#F8CBAD",
	models.StatusCanceled: "#D9D9D9",
}

// FileName builds the download name for an owner export.
func FileName(ownerID int64, now time.Time) string {
	return fmt.Sprintf("bookings_owner_%d_%s.xlsx", ownerID, now.Format("2006-01-02"))
}

// WriteBookings renders bookings as a single-sheet workbook. Times are shown in loc.
func WriteBookings(w io.Writer, bookings []*models.Booking, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	_ = f.SetCellStyle(SheetName, "A1", "F1", headerStyle)

	styles := make(map[models.Status]int, len(statusFill))
	for status, color := range statusFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("error creating style: %w", err)
		}
		styles[status] = id
	}

	for i, b := range bookings {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		values := []interface{}{
			b.ID,
			itemLabel(b),
			b.BookerID,
			b.Start.In(loc).Format(dateLayout),
			b.End.In(loc).Format(dateLayout),
			b.Status.Label(),
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
		if style, ok := styles[b.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(6, row)
			_ = f.SetCellStyle(SheetName, statusCell, statusCell, style)
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 8)
	_ = f.SetColWidth(SheetName, "B", "B", 30)
	_ = f.SetColWidth(SheetName, "C", "C", 10)
	_ = f.SetColWidth(SheetName, "D", "E", 18)
	_ = f.SetColWidth(SheetName, "F", "F", 14)
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func itemLabel(b *models.Booking) string {
	if b.ItemName == "" {
		return fmt.Sprintf("#%d", b.ItemID)
	}
	return fmt.Sprintf("%s (#%d)", b.ItemName, b.ItemID)
}
