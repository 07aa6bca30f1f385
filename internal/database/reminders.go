package database

import (
	"context"
	"fmt"
	"time"

	"rota/internal/models"
)

// DueReminders returns live bookings on published shifts starting in
// (from, until] whose worker has not been reminded yet, soonest first.
func (db *DB) DueReminders(ctx context.Context, from, until time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'booked' AND reminder_sent_at IS NULL
			AND start_at > ? AND start_at <= ?
			AND shift_id IN (SELECT id FROM shifts WHERE status = 'filled')
		ORDER BY start_at, id`,
		formatTime(from), formatTime(until),
	)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ClaimReminder marks a booking as reminded. It reports false when the
// booking was already claimed, so concurrent schedulers send at most once.
func (db *DB) ClaimReminder(ctx context.Context, bookingID int64) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET reminder_sent_at = ?
		WHERE id = ? AND status = 'booked' AND reminder_sent_at IS NULL`,
		db.timestamp(), bookingID,
	)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseReminder clears a claim after a failed send so the next pass retries.
func (db *DB) ReleaseReminder(ctx context.Context, bookingID int64) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE bookings SET reminder_sent_at = NULL WHERE id = ?`, bookingID,
	); err != nil {
		return fmt.Errorf("release reminder: %w", err)
	}
	return nil
}
