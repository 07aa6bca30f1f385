package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rota/internal/models"
)

const timesheetColumns = `id, shift_id, worker_id, scheduled_hours, actual_hours, variance_minutes,
	status, auto_approved, submitted_at, reviewed_at, reviewed_by, review_note`

// CreateTimesheet stores a reconciled timesheet. An auto-approved sheet
// completes the booking and shift in the same transaction. A second sheet
// for the same shift and worker is an invalid transition.
func (db *DB) CreateTimesheet(ctx context.Context, ts *models.Timesheet) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO timesheets (shift_id, worker_id, scheduled_hours, actual_hours, variance_minutes,
			status, auto_approved, submitted_at, reviewed_at, reviewed_by, review_note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ShiftID, ts.WorkerID, ts.ScheduledHours, ts.ActualHours, ts.VarianceMinutes,
		string(ts.Status), ts.AutoApproved, formatTime(ts.SubmittedAt), nullTime(ts.ReviewedAt),
		ts.ReviewedBy, ts.ReviewNote,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("timesheet for shift %d worker %d already submitted: %w",
				ts.ShiftID, ts.WorkerID, models.ErrInvalidTransition)
		}
		return fmt.Errorf("insert timesheet: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}

	if ts.Approved() {
		if err := db.completeBooking(ctx, tx, ts.ShiftID, ts.WorkerID, ts.ActualHours); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	ts.ID = id
	return nil
}

// GetTimesheet loads one timesheet.
func (db *DB) GetTimesheet(ctx context.Context, id int64) (*models.Timesheet, error) {
	ts, err := scanTimesheet(db.QueryRowContext(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("timesheet %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// ReviewTimesheet records a manager decision while the stored status is
// still from. Approval completes the booking and shift.
func (db *DB) ReviewTimesheet(ctx context.Context, ts *models.Timesheet, from models.TimesheetStatus) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE timesheets SET status = ?, reviewed_at = ?, reviewed_by = ?, review_note = ?
		WHERE id = ? AND status = ?`,
		string(ts.Status), nullTime(ts.ReviewedAt), ts.ReviewedBy, ts.ReviewNote,
		ts.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update timesheet: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("timesheet %d is no longer %s: %w", ts.ID, from, models.ErrConcurrentModification)
	}

	switch {
	case ts.Approved():
		if err := db.completeBooking(ctx, tx, ts.ShiftID, ts.WorkerID, ts.ActualHours); err != nil {
			return err
		}
	case ts.Status == models.TimesheetRejected:
		if err := db.rejectBooking(ctx, tx, ts.ShiftID, ts.WorkerID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListTimesheetReports returns payroll lines for a business's shifts that
// start within [from, to).
func (db *DB) ListTimesheetReports(ctx context.Context, businessID int64, from, to time.Time) ([]models.TimesheetReport, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.id, t.shift_id, t.worker_id, t.scheduled_hours, t.actual_hours, t.variance_minutes,
			t.status, t.auto_approved, t.submitted_at, t.reviewed_at, t.reviewed_by, t.review_note,
			s.business_id, w.name, s.role, s.start_at, s.end_at, s.hourly_rate,
			COALESCE(b.amount, 0)
		FROM timesheets t
		JOIN shifts s ON s.id = t.shift_id
		JOIN workers w ON w.id = t.worker_id
		LEFT JOIN bookings b ON b.shift_id = t.shift_id AND b.worker_id = t.worker_id
			AND b.status IN ('booked', 'completed')
		WHERE s.business_id = ? AND s.start_at >= ? AND s.start_at < ?
		ORDER BY s.start_at, t.id`,
		businessID, formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list timesheet reports: %w", err)
	}
	defer rows.Close()

	var out []models.TimesheetReport
	for rows.Next() {
		var (
			r                     models.TimesheetReport
			status                string
			submitted, start, end string
			reviewed              sql.NullString
		)
		err := rows.Scan(
			&r.ID, &r.ShiftID, &r.WorkerID, &r.ScheduledHours, &r.ActualHours, &r.VarianceMinutes,
			&status, &r.AutoApproved, &submitted, &reviewed, &r.ReviewedBy, &r.ReviewNote,
			&r.BusinessID, &r.WorkerName, &r.Role, &start, &end, &r.HourlyRate, &r.Amount,
		)
		if err != nil {
			return nil, err
		}
		r.Status = models.TimesheetStatus(status)
		if r.SubmittedAt, err = parseTime(submitted); err != nil {
			return nil, err
		}
		if r.ReviewedAt, err = parseNullTime(reviewed); err != nil {
			return nil, err
		}
		if r.ShiftStart, err = parseTime(start); err != nil {
			return nil, err
		}
		if r.ShiftEnd, err = parseTime(end); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanTimesheet(sc scanner) (*models.Timesheet, error) {
	var (
		ts        models.Timesheet
		status    string
		submitted string
		reviewed  sql.NullString
	)
	err := sc.Scan(&ts.ID, &ts.ShiftID, &ts.WorkerID, &ts.ScheduledHours, &ts.ActualHours,
		&ts.VarianceMinutes, &status, &ts.AutoApproved, &submitted, &reviewed, &ts.ReviewedBy, &ts.ReviewNote)
	if err != nil {
		return nil, err
	}
	ts.Status = models.TimesheetStatus(status)
	if ts.SubmittedAt, err = parseTime(submitted); err != nil {
		return nil, err
	}
	if ts.ReviewedAt, err = parseNullTime(reviewed); err != nil {
		return nil, err
	}
	return &ts, nil
}
