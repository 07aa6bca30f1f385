package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rota/internal/matching"
	"rota/internal/metrics"
	"rota/internal/models"

	"github.com/rs/zerolog"
)

const defaultMaxAttempts = 3

// Store reads and writes a worker's booking set.
type Store interface {
	GetShift(ctx context.Context, id int64) (*models.Shift, error)
	GetWorker(ctx context.Context, id int64) (*models.Worker, error)
	WorkerBookings(ctx context.Context, workerID int64) (*models.BookingSet, error)
	// CommitBooking inserts the booking and assigns the shift, failing with
	// ErrConcurrentModification when the worker's booking version is no
	// longer expectedVersion and with ErrShiftUnavailable when the shift
	// was taken meanwhile.
	CommitBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error
	CancelBooking(ctx context.Context, bookingID int64) (*models.Booking, error)
}

// Locker serializes access to one key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Outcome is the result of a booking attempt.
type Outcome struct {
	Accepted bool              `json:"accepted"`
	Decision *Decision         `json:"decision,omitempty"`
	Verdict  *matching.Verdict `json:"eligibility,omitempty"`
	Booking  *models.Booking   `json:"booking,omitempty"`
}

// Service exposes conflict checks and the guarded booking path.
type Service struct {
	store       Store
	locker      Locker
	matcher     *matching.Matcher
	logger      *zerolog.Logger
	maxAttempts int
}

// NewService creates a conflict service.
func NewService(store Store, locker Locker, matcher *matching.Matcher, logger *zerolog.Logger) *Service {
	return &Service{
		store:       store,
		locker:      locker,
		matcher:     matcher,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// CheckConflict reports whether the interval would double-book the worker.
// It never enforces anything. A failed read is returned as an error.
func (s *Service) CheckConflict(ctx context.Context, workerID int64, candidate models.Interval) (Decision, error) {
	if workerID <= 0 {
		return Decision{}, models.Invalid("worker_id", "is required")
	}
	if err := candidate.Validate(); err != nil {
		return Decision{}, err
	}

	set, err := s.store.WorkerBookings(ctx, workerID)
	if err != nil {
		return Decision{}, fmt.Errorf("read bookings for worker %d: %w", workerID, err)
	}
	d := Detect(candidate, set.Bookings)
	metrics.IncConflictDecision(d.Accepted)
	return d, nil
}

// Guard makes a conflict decision and a write one unit for the worker.
// It holds the worker lock, reads the active bookings (skipping those of
// excludeShiftID), and calls commit only when the candidate is accepted.
// commit receives the booking-set version it must match; a
// ErrConcurrentModification from commit restarts the read-decide cycle.
func (s *Service) Guard(
	ctx context.Context,
	workerID int64,
	candidate models.Interval,
	excludeShiftID int64,
	commit func(ctx context.Context, version int64) error,
) (Decision, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(workerID))
	if err != nil {
		return Decision{}, fmt.Errorf("lock worker %d: %w", workerID, err)
	}
	defer unlock()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		set, err := s.store.WorkerBookings(ctx, workerID)
		if err != nil {
			return Decision{}, fmt.Errorf("read bookings for worker %d: %w", workerID, err)
		}

		existing := make([]models.Booking, 0, len(set.Bookings))
		for _, b := range set.Bookings {
			if excludeShiftID > 0 && b.ShiftID == excludeShiftID {
				continue
			}
			existing = append(existing, b)
		}

		d := Detect(candidate, existing)
		metrics.IncConflictDecision(d.Accepted)
		if !d.Accepted {
			return d, nil
		}

		err = commit(ctx, set.Version)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, models.ErrConcurrentModification) {
			return Decision{}, err
		}

		metrics.IncBookingRetry()
		s.logger.Debug().
			Int64("worker_id", workerID).
			Int("attempt", attempt).
			Msg("booking set changed during decision, retrying")
	}

	return Decision{}, fmt.Errorf("worker %d: %w", workerID, models.ErrConcurrentModification)
}

// Book assigns the worker to the shift if they are eligible and free.
func (s *Service) Book(ctx context.Context, shiftID, workerID int64) (Outcome, error) {
	if shiftID <= 0 {
		return Outcome{}, models.Invalid("shift_id", "is required")
	}
	if workerID <= 0 {
		return Outcome{}, models.Invalid("worker_id", "is required")
	}

	started := time.Now()
	defer func() { metrics.ObserveBookingDuration(time.Since(started).Seconds()) }()

	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get shift: %w", err)
	}
	if shift.WorkerID != nil || (shift.Status != models.ShiftDraft && shift.Status != models.ShiftPublished) {
		return Outcome{}, fmt.Errorf("shift %d is %s: %w", shiftID, shift.Status, models.ErrShiftUnavailable)
	}

	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("get worker: %w", err)
	}
	if s.matcher != nil {
		v := s.matcher.Check(worker, shift)
		if !v.Eligible {
			return Outcome{Verdict: &v}, nil
		}
	}

	booking := &models.Booking{
		ShiftID:  shift.ID,
		WorkerID: worker.ID,
		Start:    shift.Start,
		End:      shift.End,
		Amount:   models.BookingAmount(shift.HourlyRate, shift.ScheduledHours()),
		Status:   models.BookingBooked,
	}

	d, err := s.Guard(ctx, workerID, shift.Interval(), 0, func(ctx context.Context, version int64) error {
		return s.store.CommitBooking(ctx, booking, version)
	})
	if err != nil {
		return Outcome{}, err
	}
	if !d.Accepted {
		s.logger.Info().
			Int64("shift_id", shiftID).
			Int64("worker_id", workerID).
			Ints64("conflicts", d.Conflicts).
			Msg("booking rejected: overlapping commitment")
		return Outcome{Decision: &d}, nil
	}

	s.logger.Info().
		Int64("shift_id", shiftID).
		Int64("worker_id", workerID).
		Int64("booking_id", booking.ID).
		Msg("booking created")
	return Outcome{Accepted: true, Decision: &d, Booking: booking}, nil
}

// CancelBooking releases a booked shift back to the pool.
func (s *Service) CancelBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	if bookingID <= 0 {
		return nil, models.Invalid("booking_id", "is required")
	}
	b, err := s.store.CancelBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	s.logger.Info().Int64("booking_id", bookingID).Int64("shift_id", b.ShiftID).Msg("booking cancelled")
	return b, nil
}

func lockKey(workerID int64) string {
	return fmt.Sprintf("worker:%d:bookings", workerID)
}
