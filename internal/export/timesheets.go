// Package export renders payroll workbooks from reconciled timesheets.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"rota/internal/models"

	"github.com/rs/zerolog"
)

const (
	SheetTimesheets = "Timesheets"
	SheetSummary    = "Summary"
)

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var timesheetColumns = []string{
	"Timesheet ID", "Shift ID", "Worker ID", "Worker", "Role", "Shift start (UTC)", "Shift end (UTC)",
	"Scheduled hours", "Actual hours", "Variance (min)", "Status", "Reviewed by", "Note", "Hourly rate", "Pay",
}

var summaryColumns = []string{"Worker ID", "Worker", "Approved shifts", "Approved hours", "Pay", "Pending review"}

// Store lists payroll lines.
type Store interface {
	ListTimesheetReports(ctx context.Context, businessID int64, from, to time.Time) ([]models.TimesheetReport, error)
}

type Service struct {
	store  Store
	logger *zerolog.Logger
}

func NewService(store Store, logger *zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ExportTimesheets writes the workbook for shifts starting in [from, to) and
// returns the number of timesheet rows.
func (s *Service) ExportTimesheets(ctx context.Context, businessID int64, from, to time.Time, out io.Writer) (int, error) {
	if businessID <= 0 {
		return 0, models.Invalid("business_id", "is required")
	}
	if err := (models.Interval{Start: from, End: to}).Validate(); err != nil {
		return 0, err
	}

	reports, err := s.store.ListTimesheetReports(ctx, businessID, from, to)
	if err != nil {
		return 0, fmt.Errorf("list timesheets: %w", err)
	}
	if err := WriteTimesheets(out, reports); err != nil {
		return 0, err
	}

	s.logger.Info().
		Int64("business_id", businessID).
		Time("from", from).
		Time("to", to).
		Int("rows", len(reports)).
		Msg("timesheets exported")
	return len(reports), nil
}

// WriteTimesheets renders one row per timesheet plus a per-worker summary
// of approved hours and pay.
func WriteTimesheets(out io.Writer, reports []models.TimesheetReport) error {
	w := newSheetWriter()
	defer func() { _ = w.close() }()

	if err := w.addSheet(SheetTimesheets); err != nil {
		return err
	}
	if err := w.writeHeader(timesheetColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	type totals struct {
		name    string
		shifts  int
		hours   float64
		pay     float64
		pending int
	}
	byWorker := make(map[int64]*totals)

	for i := range reports {
		r := &reports[i]
		pay := 0.0
		if r.Approved() {
			pay = r.Amount
		}
		row := []interface{}{
			r.ID, r.ShiftID, r.WorkerID, r.WorkerName, r.Role,
			r.ShiftStart.UTC().Format("2006-01-02 15:04"), r.ShiftEnd.UTC().Format("2006-01-02 15:04"),
			r.ScheduledHours, r.ActualHours, r.VarianceMinutes, string(r.Status),
			r.ReviewedBy, r.ReviewNote, r.HourlyRate, pay,
		}
		if err := w.writeRow(row); err != nil {
			return fmt.Errorf("write row %d: %w", r.ID, err)
		}

		t, ok := byWorker[r.WorkerID]
		if !ok {
			t = &totals{name: r.WorkerName}
			byWorker[r.WorkerID] = t
		}
		switch {
		case r.Approved():
			t.shifts++
			t.hours += r.ActualHours
			t.pay += r.Amount
		case r.Status == models.TimesheetRequiresReview:
			t.pending++
		}
	}

	if err := w.addSheet(SheetSummary); err != nil {
		return err
	}
	if err := w.writeHeader(summaryColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	ids := make([]int64, 0, len(byWorker))
	for id := range byWorker {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		t := byWorker[id]
		if err := w.writeRow([]interface{}{id, t.name, t.shifts, t.hours, models.BookingAmount(t.pay, 1), t.pending}); err != nil {
			return fmt.Errorf("write summary %d: %w", id, err)
		}
	}

	return w.save(out)
}
