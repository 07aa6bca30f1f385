package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"rota/internal/models"
)

const workerColumns = `id, name, skills, availability, lat, lng, radius_miles, telegram_chat_id,
	completed_shifts, total_hours, total_earnings, average_rating, booking_version,
	created_at, updated_at`

// CreateWorker stores a new worker profile.
func (db *DB) CreateWorker(ctx context.Context, w *models.Worker) error {
	skills, err := encodeJSON(nonNilStrings(w.Skills))
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}
	availability := w.Availability
	if availability == nil {
		availability = models.Availability{}
	}
	avail, err := encodeJSON(availability)
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}
	lat, lng := geoArgs(w.Location)
	now := db.now().UTC()

	res, err := db.ExecContext(ctx, `
		INSERT INTO workers (name, skills, availability, lat, lng, radius_miles,
			telegram_chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Name, skills, avail, lat, lng, w.RadiusMiles, w.TelegramChatID,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}
	w.ID = id
	w.CreatedAt = now
	w.UpdatedAt = now
	return nil
}

// GetWorker loads a worker including its booking version.
func (db *DB) GetWorker(ctx context.Context, id int64) (*models.Worker, error) {
	w, err := scanWorker(db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListWorkers returns every worker ordered by id.
func (db *DB) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

func scanWorker(sc scanner) (*models.Worker, error) {
	var (
		w                   models.Worker
		skills, avail       string
		lat, lng            sql.NullFloat64
		createdAt, updateAt string
	)
	err := sc.Scan(
		&w.ID, &w.Name, &skills, &avail, &lat, &lng, &w.RadiusMiles, &w.TelegramChatID,
		&w.Stats.CompletedShifts, &w.Stats.TotalHours, &w.Stats.TotalEarnings, &w.Stats.AverageRating,
		&w.BookingVersion, &createdAt, &updateAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(skills), &w.Skills); err != nil {
		return nil, fmt.Errorf("decode skills of worker %d: %w", w.ID, err)
	}
	if err := json.Unmarshal([]byte(avail), &w.Availability); err != nil {
		return nil, fmt.Errorf("decode availability of worker %d: %w", w.ID, err)
	}
	w.Location = geoPoint(lat, lng)
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updateAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// recomputeStats rebuilds a worker's aggregates from booking history.
func (db *DB) recomputeStats(ctx context.Context, q querier, workerID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE workers SET
			completed_shifts = (SELECT COUNT(*) FROM bookings
				WHERE worker_id = ?1 AND status = 'completed'),
			total_hours = (SELECT COALESCE(SUM(actual_hours), 0) FROM bookings
				WHERE worker_id = ?1 AND status = 'completed'),
			total_earnings = (SELECT COALESCE(SUM(amount), 0) FROM bookings
				WHERE worker_id = ?1 AND status = 'completed'),
			average_rating = (SELECT COALESCE(AVG(rating), 0) FROM bookings
				WHERE worker_id = ?1 AND status = 'completed' AND rating IS NOT NULL),
			updated_at = ?2
		WHERE id = ?1`,
		workerID, db.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("recompute stats of worker %d: %w", workerID, err)
	}
	return nil
}

// bumpVersion advances the worker's booking version. With expected >= 0 the
// update only applies while the stored version still matches.
func bumpVersion(ctx context.Context, q querier, workerID, expected int64) error {
	var (
		res sql.Result
		err error
	)
	if expected < 0 {
		res, err = q.ExecContext(ctx,
			`UPDATE workers SET booking_version = booking_version + 1 WHERE id = ?`, workerID)
	} else {
		res, err = q.ExecContext(ctx,
			`UPDATE workers SET booking_version = booking_version + 1 WHERE id = ? AND booking_version = ?`,
			workerID, expected)
	}
	if err != nil {
		return fmt.Errorf("bump booking version of worker %d: %w", workerID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM workers WHERE id = ?`, workerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("worker %d: %w", workerID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check worker %d: %w", workerID, err)
	}
	return fmt.Errorf("worker %d booking set: %w", workerID, models.ErrConcurrentModification)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
