// Package report exports the admin booking views as an Excel workbook.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"studiobook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetOpen     = "Open"
	SheetFinished = "Finished"
)

var columns = []string{
	"Booking ID", "Date", "Time", "Duration (h)", "Customer", "Email",
	"Equipment", "CDJs", "Total", "Payment", "Status", "Decline reason", "Calendar event",
}

// Lister returns the bookings of a list scope.
type Lister interface {
	List(ctx context.Context, actor models.Identity, scope models.Scope) ([]models.BookingView, error)
}

// Exporter builds the bookings workbook.
type Exporter struct {
	lister Lister
}

func NewExporter(lister Lister) *Exporter {
	return &Exporter{lister: lister}
}

// Write renders one sheet per admin scope into w. The two scopes are read
// separately and may not reflect one instant.
func (e *Exporter) Write(ctx context.Context, actor models.Identity, w io.Writer) error {
	open, err := e.lister.List(ctx, actor, models.ScopeOpen)
	if err != nil {
		return err
	}
	finished, err := e.lister.List(ctx, actor, models.ScopeFinished)
	if err != nil {
		return err
	}

	sw := newSheetWriter()
	defer sw.Close()

	for _, sheet := range []struct {
		name  string
		views []models.BookingView
	}{
		{SheetOpen, open},
		{SheetFinished, finished},
	} {
		if err := sw.AddSheet(sheet.name); err != nil {
			return err
		}
		if err := sw.WriteHeader(columns); err != nil {
			return err
		}
		for _, v := range sheet.views {
			if err := sw.WriteRow(row(v)); err != nil {
				return fmt.Errorf("write booking %s: %w", v.ID, err)
			}
		}
	}

	return sw.file.Write(w)
}

func row(v models.BookingView) []any {
	name := v.OwnerDisplayName
	if name == "" {
		name = v.UserName
	}
	email := v.OwnerEmail
	if email == "" {
		email = v.UserEmail
	}
	equipment := make([]string, 0, len(v.Equipment))
	for _, eq := range v.Equipment {
		equipment = append(equipment, eq.Name)
	}
	return []any{
		v.ID, v.Date, v.Time, v.DurationHours, name, email,
		strings.Join(equipment, ", "), v.CDJCount, v.Total,
		string(v.PaymentStatus), string(v.Status), v.DeclineReason, v.CalendarEventID,
	}
}

type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) AddSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return err
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) WriteHeader(cols []string) error {
	values := make([]any, len(cols))
	for i, c := range cols {
		values[i] = c
	}
	if err := w.WriteRow(values); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		start, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		end, _ := excelize.CoordinatesToCellName(len(cols), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, start, end, style)
	}
	return w.file.SetPanes(w.currentSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
}

func (w *sheetWriter) WriteRow(values []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &values); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

func (w *sheetWriter) Close() error {
	return w.file.Close()
}
