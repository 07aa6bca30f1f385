package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rota/internal/models"
)

const bookingColumns = `id, shift_id, worker_id, start_at, end_at, amount, actual_hours, rating,
	status, created_at, updated_at`

// WorkerBookings returns the worker's live bookings and the version token
// that a later CommitBooking must match.
func (db *DB) WorkerBookings(ctx context.Context, workerID int64) (*models.BookingSet, error) {
	// Version first: a commit landing between the two reads can only make
	// the bookings newer than the token, which the commit precondition catches.
	var version int64
	err := db.QueryRowContext(ctx, `SELECT booking_version FROM workers WHERE id = ?`, workerID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker %d: %w", workerID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read booking version: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE worker_id = ? AND status IN ('booked', 'completed')
		ORDER BY start_at, id`,
		workerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	set := &models.BookingSet{Version: version, Bookings: []models.Booking{}}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		set.Bookings = append(set.Bookings, *b)
	}
	return set, rows.Err()
}

// CommitBooking inserts b and assigns its shift in one transaction, provided
// the worker's booking version is still expectedVersion and the shift is
// still open.
func (db *DB) CommitBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := bumpVersion(ctx, tx, b.WorkerID, expectedVersion); err != nil {
		return err
	}

	now := db.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE shifts
		SET worker_id = ?,
			status = CASE WHEN status = 'published' THEN 'filled' ELSE status END,
			updated_at = ?
		WHERE id = ? AND worker_id IS NULL AND status IN ('draft', 'published')
			AND start_at = ? AND end_at = ?`,
		b.WorkerID, formatTime(now), b.ShiftID, formatTime(b.Start), formatTime(b.End),
	)
	if err != nil {
		return fmt.Errorf("assign shift: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return unassignableShift(ctx, tx, b.ShiftID)
	}

	if b.Status == "" {
		b.Status = models.BookingBooked
	}
	res, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (shift_id, worker_id, start_at, end_at, amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ShiftID, b.WorkerID, formatTime(b.Start), formatTime(b.End), b.Amount, string(b.Status),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("shift %d: %w", b.ShiftID, models.ErrShiftUnavailable)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

// unassignableShift explains a failed assign: a shift that is still open
// but was re-timed since the booking was built is a concurrent edit.
func unassignableShift(ctx context.Context, q querier, shiftID int64) error {
	var (
		workerID sql.NullInt64
		status   string
	)
	err := q.QueryRowContext(ctx, `SELECT worker_id, status FROM shifts WHERE id = ?`, shiftID).
		Scan(&workerID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("shift %d: %w", shiftID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get shift %d: %w", shiftID, err)
	}
	open := models.ShiftStatus(status) == models.ShiftDraft || models.ShiftStatus(status) == models.ShiftPublished
	if !workerID.Valid && open {
		return fmt.Errorf("shift %d changed meanwhile: %w", shiftID, models.ErrConcurrentModification)
	}
	return fmt.Errorf("shift %d: %w", shiftID, models.ErrShiftUnavailable)
}

// CancelBooking cancels a booked (not yet completed) booking and reopens
// its shift.
func (db *DB) CancelBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b, err := getBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingBooked {
		return nil, fmt.Errorf("booking %d is %s: %w", bookingID, b.Status, models.ErrInvalidTransition)
	}

	now := db.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = 'cancelled', updated_at = ? WHERE id = ?`,
		formatTime(now), bookingID,
	); err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE shifts
		SET worker_id = NULL,
			status = CASE WHEN status = 'filled' THEN 'published' ELSE status END,
			updated_at = ?
		WHERE id = ? AND worker_id = ?`,
		formatTime(now), b.ShiftID, b.WorkerID,
	); err != nil {
		return nil, fmt.Errorf("reopen shift: %w", err)
	}
	if err := bumpVersion(ctx, tx, b.WorkerID, -1); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	b.Status = models.BookingCancelled
	b.UpdatedAt = now
	return b, nil
}

// GetBooking loads one booking.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db, id)
}

// GetActiveBooking returns the live booking binding worker to shift.
func (db *DB) GetActiveBooking(ctx context.Context, shiftID, workerID int64) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE shift_id = ? AND worker_id = ? AND status IN ('booked', 'completed')`,
		shiftID, workerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking for shift %d worker %d: %w", shiftID, workerID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RateBooking stores a rating on a completed booking and recomputes the
// worker's average in the same transaction.
func (db *DB) RateBooking(ctx context.Context, bookingID int64, rating int) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b, err := getBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingCompleted {
		return nil, fmt.Errorf("booking %d is %s: %w", bookingID, b.Status, models.ErrInvalidTransition)
	}

	now := db.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET rating = ?, updated_at = ? WHERE id = ?`,
		rating, formatTime(now), bookingID,
	); err != nil {
		return nil, fmt.Errorf("rate booking: %w", err)
	}
	if err := db.recomputeStats(ctx, tx, b.WorkerID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	b.Rating = &rating
	b.UpdatedAt = now
	return b, nil
}

// completeBooking marks the worker's booked booking on the shift completed
// with the hours worked, completes the shift, and refreshes worker stats.
func (db *DB) completeBooking(ctx context.Context, q querier, shiftID, workerID int64, actualHours float64) error {
	now := db.timestamp()
	if _, err := q.ExecContext(ctx, `
		UPDATE bookings SET status = 'completed', actual_hours = ?, updated_at = ?
		WHERE shift_id = ? AND worker_id = ? AND status = 'booked'`,
		actualHours, now, shiftID, workerID,
	); err != nil {
		return fmt.Errorf("complete booking: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE shifts SET status = 'completed', updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'cancelled')`,
		now, shiftID,
	); err != nil {
		return fmt.Errorf("complete shift: %w", err)
	}
	return db.recomputeStats(ctx, q, workerID)
}

// rejectBooking closes a shift whose hours were refused: the booking stops
// counting towards pay, stats and overlap checks, and the shift is completed.
func (db *DB) rejectBooking(ctx context.Context, q querier, shiftID, workerID int64) error {
	now := db.timestamp()
	if _, err := q.ExecContext(ctx, `
		UPDATE bookings SET status = 'rejected', updated_at = ?
		WHERE shift_id = ? AND worker_id = ? AND status = 'booked'`,
		now, shiftID, workerID,
	); err != nil {
		return fmt.Errorf("reject booking: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE shifts SET status = 'completed', updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'cancelled')`,
		now, shiftID,
	); err != nil {
		return fmt.Errorf("close shift: %w", err)
	}
	return bumpVersion(ctx, q, workerID, -1)
}

func getBooking(ctx context.Context, q querier, id int64) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanBooking(sc scanner) (*models.Booking, error) {
	var (
		b                    models.Booking
		start, end           string
		actual               sql.NullFloat64
		rating               sql.NullInt64
		status               string
		createdAt, updatedAt string
	)
	err := sc.Scan(&b.ID, &b.ShiftID, &b.WorkerID, &start, &end, &b.Amount, &actual, &rating,
		&status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	if actual.Valid {
		h := actual.Float64
		b.ActualHours = &h
	}
	if rating.Valid {
		r := int(rating.Int64)
		b.Rating = &r
	}
	if b.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if b.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
