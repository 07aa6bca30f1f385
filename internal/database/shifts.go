package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rota/internal/models"
)

const shiftColumns = `id, business_id, worker_id, role, start_at, end_at, timezone, week_start,
	required_skills, status, lat, lng, hourly_rate, revision, published_at, published_by,
	created_at, updated_at`

// CreateShift inserts a shift and fills in its id and timestamps.
func (db *DB) CreateShift(ctx context.Context, s *models.Shift) error {
	skills, err := encodeJSON(nonNilStrings(s.RequiredSkills))
	if err != nil {
		return fmt.Errorf("encode required skills: %w", err)
	}
	lat, lng := geoArgs(s.Location)
	now := db.now().UTC()

	var workerID sql.NullInt64
	if s.WorkerID != nil {
		workerID = sql.NullInt64{Int64: *s.WorkerID, Valid: true}
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO shifts (business_id, worker_id, role, start_at, end_at, timezone, week_start,
			required_skills, status, lat, lng, hourly_rate, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.BusinessID, workerID, s.Role, formatTime(s.Start), formatTime(s.End), s.Timezone, s.WeekStart,
		skills, string(s.Status), lat, lng, s.HourlyRate, s.Revision, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert shift: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}
	s.ID = id
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// GetShift loads one shift.
func (db *DB) GetShift(ctx context.Context, id int64) (*models.Shift, error) {
	return getShift(ctx, db, id)
}

func getShift(ctx context.Context, q querier, id int64) (*models.Shift, error) {
	s, err := scanShift(q.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shift %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListOpenShifts returns published, unassigned shifts starting after the
// given instant, earliest first.
func (db *DB) ListOpenShifts(ctx context.Context, startsAfter time.Time) ([]models.Shift, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE status = 'published' AND worker_id IS NULL AND start_at > ?
		ORDER BY start_at, id`,
		formatTime(startsAfter),
	)
	if err != nil {
		return nil, fmt.Errorf("list open shifts: %w", err)
	}
	return collectShifts(rows)
}

// ListWeekShifts returns every shift of a business for one rota week.
func (db *DB) ListWeekShifts(ctx context.Context, businessID int64, weekStart string) ([]models.Shift, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE business_id = ? AND week_start = ?
		ORDER BY start_at, id`,
		businessID, weekStart,
	)
	if err != nil {
		return nil, fmt.Errorf("list week shifts: %w", err)
	}
	return collectShifts(rows)
}

// PublishDraftShifts flips draft rows of one business-week to published,
// or to filled when a worker was already assigned in the draft.
// The status predicate makes a replay a no-op, and the publication record is
// written in the same transaction only when something changed.
func (db *DB) PublishDraftShifts(ctx context.Context, pub *models.Publication) ([]models.Shift, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	publishedAt := formatTime(pub.PublishedAt)
	rows, err := tx.QueryContext(ctx, `
		UPDATE shifts
		SET status = CASE WHEN worker_id IS NULL THEN 'published' ELSE 'filled' END,
			published_at = ?, published_by = ?, updated_at = ?
		WHERE business_id = ? AND week_start = ? AND status = 'draft'
		RETURNING `+shiftColumns,
		publishedAt, pub.PublishedBy, publishedAt, pub.BusinessID, pub.WeekStart,
	)
	if err != nil {
		return nil, fmt.Errorf("publish shifts: %w", err)
	}
	shifts, err := collectShifts(rows)
	if err != nil {
		return nil, err
	}
	if len(shifts) == 0 {
		return nil, nil
	}

	pub.PublishedCount = len(shifts)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rota_publications (id, business_id, week_start, published_by, published_count, published_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		pub.ID, pub.BusinessID, pub.WeekStart, pub.PublishedBy, pub.PublishedCount, publishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert publication: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return shifts, nil
}

// ListPublications returns the publish history of a business-week.
func (db *DB) ListPublications(ctx context.Context, businessID int64, weekStart string) ([]models.Publication, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, business_id, week_start, published_by, published_count, published_at
		FROM rota_publications WHERE business_id = ? AND week_start = ?
		ORDER BY published_at`,
		businessID, weekStart,
	)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	var out []models.Publication
	for rows.Next() {
		var (
			p  models.Publication
			at string
		)
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.WeekStart, &p.PublishedBy, &p.PublishedCount, &at); err != nil {
			return nil, err
		}
		if p.PublishedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReviseShift writes an edited shift. The write only applies while the stored
// status, revision and assignee still equal prev's; rev, when present, is
// appended to the revision trail. For an assigned shift the live booking
// follows the new interval and the worker's booking version must still be
// bookingVersion.
func (db *DB) ReviseShift(ctx context.Context, s, prev *models.Shift, rev *models.ShiftRevision, bookingVersion int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE shifts
		SET role = ?, start_at = ?, end_at = ?, week_start = ?, revision = ?, updated_at = ?
		WHERE id = ? AND status = ? AND revision = ? AND worker_id IS ?`,
		s.Role, formatTime(s.Start), formatTime(s.End), s.WeekStart, s.Revision, formatTime(now),
		s.ID, string(prev.Status), prev.Revision, nullID(prev.WorkerID),
	)
	if err != nil {
		return fmt.Errorf("update shift: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("shift %d changed meanwhile: %w", s.ID, models.ErrConcurrentModification)
	}

	if rev != nil {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO shift_revisions (shift_id, revision, old_start, old_end, old_role,
				new_start, new_end, new_role, edited_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rev.ShiftID, rev.Revision, formatTime(rev.OldStart), formatTime(rev.OldEnd), rev.OldRole,
			formatTime(rev.NewStart), formatTime(rev.NewEnd), rev.NewRole, rev.EditedBy, formatTime(rev.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
		if rev.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("get last id: %w", err)
		}
	}

	if prev.WorkerID != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE bookings SET start_at = ?, end_at = ?, amount = ?, reminder_sent_at = NULL, updated_at = ?
			WHERE shift_id = ? AND status = 'booked'`,
			formatTime(s.Start), formatTime(s.End), models.BookingAmount(s.HourlyRate, s.ScheduledHours()),
			formatTime(now), s.ID,
		)
		if err != nil {
			return fmt.Errorf("move booking: %w", err)
		}
		if err := bumpVersion(ctx, tx, *prev.WorkerID, bookingVersion); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.UpdatedAt = now
	return nil
}

// ListRevisions returns a shift's revision trail, oldest first.
func (db *DB) ListRevisions(ctx context.Context, shiftID int64) ([]models.ShiftRevision, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, shift_id, revision, old_start, old_end, old_role,
			new_start, new_end, new_role, edited_by, created_at
		FROM shift_revisions WHERE shift_id = ? ORDER BY revision`,
		shiftID,
	)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []models.ShiftRevision
	for rows.Next() {
		var (
			r                                  models.ShiftRevision
			oldStart, oldEnd, newStart, newEnd string
			createdAt                          string
		)
		if err := rows.Scan(&r.ID, &r.ShiftID, &r.Revision, &oldStart, &oldEnd, &r.OldRole,
			&newStart, &newEnd, &r.NewRole, &r.EditedBy, &createdAt); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst *time.Time
			src string
		}{
			{&r.OldStart, oldStart}, {&r.OldEnd, oldEnd},
			{&r.NewStart, newStart}, {&r.NewEnd, newEnd},
			{&r.CreatedAt, createdAt},
		} {
			if *f.dst, err = parseTime(f.src); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CancelShift cancels a shift that is not yet completed, along with its live
// booking. The returned shift keeps the worker it had so callers can notify.
func (db *DB) CancelShift(ctx context.Context, id int64) (*models.Shift, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	s, err := getShift(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if s.IsTerminal() {
		return nil, fmt.Errorf("shift %d is %s: %w", id, s.Status, models.ErrInvalidTransition)
	}

	now := db.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE shifts SET status = 'cancelled', updated_at = ? WHERE id = ?`,
		formatTime(now), id,
	); err != nil {
		return nil, fmt.Errorf("cancel shift: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE bookings SET status = 'cancelled', updated_at = ?
		WHERE shift_id = ? AND status = 'booked'
		RETURNING worker_id`,
		formatTime(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel bookings: %w", err)
	}
	var workers []int64
	for rows.Next() {
		var w int64
		if err := rows.Scan(&w); err != nil {
			rows.Close()
			return nil, err
		}
		workers = append(workers, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, w := range workers {
		if err := bumpVersion(ctx, tx, w, -1); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.Status = models.ShiftCancelled
	s.UpdatedAt = now
	return s, nil
}

func collectShifts(rows *sql.Rows) ([]models.Shift, error) {
	defer rows.Close()
	var shifts []models.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *s)
	}
	return shifts, rows.Err()
}

func scanShift(sc scanner) (*models.Shift, error) {
	var (
		s                    models.Shift
		workerID             sql.NullInt64
		start, end           string
		skills, status       string
		lat, lng             sql.NullFloat64
		publishedAt          sql.NullString
		createdAt, updatedAt string
	)
	err := sc.Scan(
		&s.ID, &s.BusinessID, &workerID, &s.Role, &start, &end, &s.Timezone, &s.WeekStart,
		&skills, &status, &lat, &lng, &s.HourlyRate, &s.Revision, &publishedAt, &s.PublishedBy,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if workerID.Valid {
		id := workerID.Int64
		s.WorkerID = &id
	}
	s.Status = models.ShiftStatus(status)
	s.Location = geoPoint(lat, lng)
	if err := json.Unmarshal([]byte(skills), &s.RequiredSkills); err != nil {
		return nil, fmt.Errorf("decode skills of shift %d: %w", s.ID, err)
	}
	if s.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if s.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if s.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
