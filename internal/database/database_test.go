package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rota/internal/config"
	"rota/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "rota.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createWorker(t *testing.T, db *DB, name string) *models.Worker {
	t.Helper()
	w := &models.Worker{
		Name:         name,
		Skills:       []string{"barista"},
		Availability: models.Availability{"monday": true},
		Location:     &models.GeoPoint{Lat: 51.5, Lng: -0.12},
		RadiusMiles:  10,
	}
	require.NoError(t, db.CreateWorker(context.Background(), w))
	return w
}

func createShift(t *testing.T, db *DB, start time.Time, status models.ShiftStatus) *models.Shift {
	t.Helper()
	s := &models.Shift{
		BusinessID:     1,
		Role:           "barista",
		Start:          start,
		End:            start.Add(8 * time.Hour),
		Timezone:       "Europe/London",
		WeekStart:      models.WeekKey(start),
		RequiredSkills: []string{"barista"},
		Status:         status,
		HourlyRate:     12.5,
	}
	require.NoError(t, db.CreateShift(context.Background(), s))
	return s
}

func book(t *testing.T, db *DB, s *models.Shift, w *models.Worker) *models.Booking {
	t.Helper()
	set, err := db.WorkerBookings(context.Background(), w.ID)
	require.NoError(t, err)
	b := &models.Booking{
		ShiftID:  s.ID,
		WorkerID: w.ID,
		Start:    s.Start,
		End:      s.End,
		Amount:   models.BookingAmount(s.HourlyRate, s.ScheduledHours()),
	}
	require.NoError(t, db.CommitBooking(context.Background(), b, set.Version))
	return b
}

func TestWorkers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	w := createWorker(t, db, "Ann")
	assert.NotZero(t, w.ID)

	got, err := db.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, []string{"barista"}, got.Skills)
	assert.True(t, got.Availability.On(time.Monday))
	require.NotNil(t, got.Location)
	assert.Equal(t, 51.5, got.Location.Lat)
	assert.Equal(t, int64(0), got.BookingVersion)

	noLoc := &models.Worker{Name: "Bo"}
	require.NoError(t, db.CreateWorker(ctx, noLoc))
	got, err = db.GetWorker(ctx, noLoc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Location)
	assert.Empty(t, got.Skills)

	all, err := db.ListWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = db.GetWorker(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestShifts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := createShift(t, db, monday, models.ShiftPublished)
	got, err := db.GetShift(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, monday.Equal(got.Start))
	assert.Equal(t, "Europe/London", got.Timezone)
	assert.Equal(t, "2026-10-19", got.WeekStart)
	assert.Nil(t, got.WorkerID)
	assert.Nil(t, got.PublishedAt)

	createShift(t, db, monday.Add(-48*time.Hour), models.ShiftPublished)
	createShift(t, db, monday.Add(24*time.Hour), models.ShiftDraft)

	open, err := db.ListOpenShifts(ctx, monday.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, s.ID, open[0].ID)

	_, err = db.GetShift(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCommitBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := createWorker(t, db, "Ann")
	s := createShift(t, db, monday, models.ShiftPublished)

	b := book(t, db, s, w)
	assert.NotZero(t, b.ID)
	assert.Equal(t, 100.0, b.Amount)

	shift, err := db.GetShift(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftFilled, shift.Status)
	require.NotNil(t, shift.WorkerID)
	assert.Equal(t, w.ID, *shift.WorkerID)

	set, err := db.WorkerBookings(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), set.Version)
	require.Len(t, set.Bookings, 1)
	assert.Equal(t, s.ID, set.Bookings[0].ShiftID)

	t.Run("stale version", func(t *testing.T) {
		other := createShift(t, db, monday.Add(24*time.Hour), models.ShiftPublished)
		err := db.CommitBooking(ctx, &models.Booking{
			ShiftID: other.ID, WorkerID: w.ID, Start: other.Start, End: other.End,
		}, 0)
		assert.ErrorIs(t, err, models.ErrConcurrentModification)

		reloaded, _ := db.GetShift(ctx, other.ID)
		assert.Nil(t, reloaded.WorkerID)
	})

	t.Run("shift already taken", func(t *testing.T) {
		bo := createWorker(t, db, "Bo")
		err := db.CommitBooking(ctx, &models.Booking{
			ShiftID: s.ID, WorkerID: bo.ID, Start: s.Start, End: s.End,
		}, 0)
		assert.ErrorIs(t, err, models.ErrShiftUnavailable)

		// The version bump rolled back with the failed commit.
		got, err := db.GetWorker(ctx, bo.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.BookingVersion)
	})

	t.Run("shift re-timed since the booking was built", func(t *testing.T) {
		other := createShift(t, db, monday.Add(48*time.Hour), models.ShiftDraft)
		prev, err := db.GetShift(ctx, other.ID)
		require.NoError(t, err)
		next := *prev
		next.Start = prev.Start.Add(time.Hour)
		require.NoError(t, db.ReviseShift(ctx, &next, prev, nil, 0))

		set, err := db.WorkerBookings(ctx, w.ID)
		require.NoError(t, err)
		err = db.CommitBooking(ctx, &models.Booking{
			ShiftID: other.ID, WorkerID: w.ID, Start: prev.Start, End: prev.End,
		}, set.Version)
		assert.ErrorIs(t, err, models.ErrConcurrentModification)

		reloaded, err := db.GetShift(ctx, other.ID)
		require.NoError(t, err)
		assert.Nil(t, reloaded.WorkerID)
	})

	t.Run("unknown shift", func(t *testing.T) {
		set, err := db.WorkerBookings(ctx, w.ID)
		require.NoError(t, err)
		err = db.CommitBooking(ctx, &models.Booking{ShiftID: 999, WorkerID: w.ID}, set.Version)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("unknown worker", func(t *testing.T) {
		err := db.CommitBooking(ctx, &models.Booking{ShiftID: s.ID, WorkerID: 999}, 0)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestCancelBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := createWorker(t, db, "Ann")
	s := createShift(t, db, monday, models.ShiftPublished)
	b := book(t, db, s, w)

	cancelled, err := db.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)

	shift, err := db.GetShift(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftPublished, shift.Status)
	assert.Nil(t, shift.WorkerID)

	set, err := db.WorkerBookings(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, set.Bookings)
	assert.Equal(t, int64(2), set.Version)

	_, err = db.CancelBooking(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// The shift can be booked again.
	again := book(t, db, s, w)
	assert.NotEqual(t, b.ID, again.ID)
}

func TestPublishDraftShifts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := createWorker(t, db, "Ann")

	s1 := createShift(t, db, monday, models.ShiftDraft)
	createShift(t, db, monday.Add(24*time.Hour), models.ShiftDraft)
	createShift(t, db, monday.Add(7*24*time.Hour), models.ShiftDraft)
	book(t, db, s1, w)

	pub := &models.Publication{
		ID: "pub-1", BusinessID: 1, WeekStart: "2026-10-19", PublishedBy: 42, PublishedAt: monday.Add(-72 * time.Hour),
	}
	shifts, err := db.PublishDraftShifts(ctx, pub)
	require.NoError(t, err)
	require.Len(t, shifts, 2)
	assert.Equal(t, 2, pub.PublishedCount)
	for _, s := range shifts {
		require.NotNil(t, s.PublishedAt)
		assert.Equal(t, int64(42), s.PublishedBy)
		if s.ID == s1.ID {
			assert.Equal(t, models.ShiftFilled, s.Status, "booked draft is filled on publish")
			require.NotNil(t, s.WorkerID)
			assert.Equal(t, w.ID, *s.WorkerID)
		} else {
			assert.Equal(t, models.ShiftPublished, s.Status)
		}
	}

	open, err := db.ListOpenShifts(ctx, monday.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.NotEqual(t, s1.ID, open[0].ID)

	replay := &models.Publication{ID: "pub-2", BusinessID: 1, WeekStart: "2026-10-19", PublishedAt: monday}
	shifts, err = db.PublishDraftShifts(ctx, replay)
	require.NoError(t, err)
	assert.Empty(t, shifts)

	pubs, err := db.ListPublications(ctx, 1, "2026-10-19")
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "pub-1", pubs[0].ID)

	next, err := db.ListWeekShifts(ctx, 1, "2026-10-26")
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, models.ShiftDraft, next[0].Status)
}

func TestReviseShift(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := createWorker(t, db, "Ann")
	s := createShift(t, db, monday, models.ShiftPublished)
	book(t, db, s, w)

	prev, err := db.GetShift(ctx, s.ID)
	require.NoError(t, err)
	next := *prev
	next.Start = monday.Add(time.Hour)
	next.End = monday.Add(5 * time.Hour)
	next.Revision = 1
	rev := &models.ShiftRevision{
		ShiftID: s.ID, Revision: 1,
		OldStart: prev.Start, OldEnd: prev.End, OldRole: prev.Role,
		NewStart: next.Start, NewEnd: next.End, NewRole: next.Role,
		EditedBy: 3, CreatedAt: monday,
	}

	require.NoError(t, db.ReviseShift(ctx, &next, prev, rev, 1))
	assert.NotZero(t, rev.ID)

	got, err := db.GetShift(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Revision)
	assert.True(t, next.Start.Equal(got.Start))

	set, err := db.WorkerBookings(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, set.Bookings, 1)
	assert.True(t, next.End.Equal(set.Bookings[0].End))
	assert.Equal(t, 50.0, set.Bookings[0].Amount)
	assert.Equal(t, int64(2), set.Version)

	revs, err := db.ListRevisions(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.True(t, monday.Equal(revs[0].OldStart))

	// prev is now stale.
	err = db.ReviseShift(ctx, &next, prev, nil, 2)
	assert.ErrorIs(t, err, models.ErrConcurrentModification)

	t.Run("draft booked after it was read", func(t *testing.T) {
		d := createShift(t, db, monday.Add(72*time.Hour), models.ShiftDraft)
		prev, err := db.GetShift(ctx, d.ID)
		require.NoError(t, err)
		b := book(t, db, d, w)

		next := *prev
		next.Start = prev.Start.Add(2 * time.Hour)
		err = db.ReviseShift(ctx, &next, prev, nil, 0)
		assert.ErrorIs(t, err, models.ErrConcurrentModification)

		got, err := db.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, prev.Start.Equal(got.Start))
	})
}

func TestCancelShift(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := createWorker(t, db, "Ann")
	s := createShift(t, db, monday, models.ShiftPublished)
	b := book(t, db, s, w)

	cancelled, err := db.CancelShift(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftCancelled, cancelled.Status)
	require.NotNil(t, cancelled.WorkerID)
	assert.Equal(t, w.ID, *cancelled.WorkerID)

	gotBooking, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, gotBooking.Status)

	_, err = db.CancelShift(ctx, s.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func submit(t *testing.T, db *DB, s *models.Shift, w *models.Worker, actual float64, status models.TimesheetStatus) *models.Timesheet {
	t.Helper()
	ts := &models.Timesheet{
		ShiftID:        s.ID,
		WorkerID:       w.ID,
		ScheduledHours: s.ScheduledHours(),
		ActualHours:    actual,
		Status:         status,
		AutoApproved:   status == models.TimesheetAutoApproved,
		SubmittedAt:    s.End,
	}
	require.NoError(t, db.CreateTimesheet(context.Background(), ts))
	return ts
}

func TestTimesheets(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := createWorker(t, db, "Ann")

	t.Run("auto approved completes booking and shift", func(t *testing.T) {
		s := createShift(t, db, monday, models.ShiftPublished)
		book(t, db, s, w)

		ts := submit(t, db, s, w, 8.25, models.TimesheetAutoApproved)
		assert.NotZero(t, ts.ID)

		shift, _ := db.GetShift(ctx, s.ID)
		assert.Equal(t, models.ShiftCompleted, shift.Status)
		b, err := db.GetActiveBooking(ctx, s.ID, w.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingCompleted, b.Status)
		require.NotNil(t, b.ActualHours)
		assert.Equal(t, 8.25, *b.ActualHours)

		worker, _ := db.GetWorker(ctx, w.ID)
		assert.Equal(t, 1, worker.Stats.CompletedShifts)
		assert.Equal(t, 8.25, worker.Stats.TotalHours)
		assert.Equal(t, 100.0, worker.Stats.TotalEarnings)

		err = db.CreateTimesheet(ctx, &models.Timesheet{
			ShiftID: s.ID, WorkerID: w.ID, Status: models.TimesheetAutoApproved, SubmittedAt: monday,
		})
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("review approves held timesheet", func(t *testing.T) {
		s := createShift(t, db, monday.Add(24*time.Hour), models.ShiftPublished)
		book(t, db, s, w)

		ts := submit(t, db, s, w, 9, models.TimesheetRequiresReview)
		shift, _ := db.GetShift(ctx, s.ID)
		assert.Equal(t, models.ShiftFilled, shift.Status)

		stored, err := db.GetTimesheet(ctx, ts.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TimesheetRequiresReview, stored.Status)
		assert.Nil(t, stored.ReviewedAt)

		reviewedAt := monday.Add(48 * time.Hour)
		stored.Status = models.TimesheetApproved
		stored.ReviewedAt = &reviewedAt
		stored.ReviewedBy = 5
		stored.ReviewNote = "overtime agreed"
		require.NoError(t, db.ReviewTimesheet(ctx, stored, models.TimesheetRequiresReview))

		again, err := db.GetTimesheet(ctx, ts.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TimesheetApproved, again.Status)
		require.NotNil(t, again.ReviewedAt)
		assert.True(t, reviewedAt.Equal(*again.ReviewedAt))

		worker, _ := db.GetWorker(ctx, w.ID)
		assert.Equal(t, 2, worker.Stats.CompletedShifts)
		assert.Equal(t, 17.25, worker.Stats.TotalHours)

		err = db.ReviewTimesheet(ctx, stored, models.TimesheetRequiresReview)
		assert.ErrorIs(t, err, models.ErrConcurrentModification)
	})

	t.Run("reports", func(t *testing.T) {
		reports, err := db.ListTimesheetReports(ctx, 1, monday.Add(-time.Hour), monday.Add(7*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, reports, 2)
		assert.Equal(t, "Ann", reports[0].WorkerName)
		assert.Equal(t, 100.0, reports[0].Amount)
		assert.Equal(t, models.TimesheetApproved, reports[1].Status)

		none, err := db.ListTimesheetReports(ctx, 2, monday.Add(-time.Hour), monday.Add(7*24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestReviewTimesheet_Reject(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := createWorker(t, db, "Ann")
	s := createShift(t, db, monday, models.ShiftPublished)
	b := book(t, db, s, w)

	ts := submit(t, db, s, w, 3, models.TimesheetRequiresReview)
	reviewedAt := monday.Add(24 * time.Hour)
	ts.Status = models.TimesheetRejected
	ts.ReviewedAt = &reviewedAt
	ts.ReviewedBy = 5
	require.NoError(t, db.ReviewTimesheet(ctx, ts, models.TimesheetRequiresReview))

	shift, err := db.GetShift(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftCompleted, shift.Status)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingRejected, got.Status)
	_, err = db.GetActiveBooking(ctx, s.ID, w.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	set, err := db.WorkerBookings(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, set.Bookings, "rejected booking no longer blocks the slot")
	assert.Equal(t, int64(2), set.Version)

	worker, err := db.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, worker.Stats.CompletedShifts)
	assert.Zero(t, worker.Stats.TotalEarnings)

	_, err = db.RateBooking(ctx, b.ID, 4)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	reports, err := db.ListTimesheetReports(ctx, 1, monday.Add(-time.Hour), monday.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, models.TimesheetRejected, reports[0].Status)
	assert.Zero(t, reports[0].Amount)

	// The same hours can be booked again.
	overlapping := createShift(t, db, monday.Add(2*time.Hour), models.ShiftPublished)
	book(t, db, overlapping, w)
}

func TestRateBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := createWorker(t, db, "Ann")

	s1 := createShift(t, db, monday, models.ShiftPublished)
	b1 := book(t, db, s1, w)
	s2 := createShift(t, db, monday.Add(24*time.Hour), models.ShiftPublished)
	b2 := book(t, db, s2, w)

	_, err := db.RateBooking(ctx, b1.ID, 5)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	submit(t, db, s1, w, 8, models.TimesheetAutoApproved)
	submit(t, db, s2, w, 8, models.TimesheetAutoApproved)

	rated, err := db.RateBooking(ctx, b1.ID, 5)
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 5, *rated.Rating)
	_, err = db.RateBooking(ctx, b2.ID, 2)
	require.NoError(t, err)

	worker, _ := db.GetWorker(ctx, w.ID)
	assert.Equal(t, 3.5, worker.Stats.AverageRating)

	_, err = db.RateBooking(ctx, 999, 3)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBackupService(t *testing.T) {
	db := setupTestDB(t)
	createWorker(t, db, "Ann")
	dir := filepath.Join(t.TempDir(), "backups")

	logger := zerolog.New(io.Discard)
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, Path: dir, RetentionDays: 1}, &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	restored, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer restored.Close()
	workers, err := restored.ListWorkers(context.Background())
	require.NoError(t, err)
	assert.Len(t, workers, 1)

	old := filepath.Join(dir, "rota_20200101_000000.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	stale := time.Now().AddDate(0, 0, -3)
	require.NoError(t, os.Chtimes(old, stale, stale))

	svc.CleanupOldBackups()
	assert.NoFileExists(t, old)
	assert.FileExists(t, path)
}
