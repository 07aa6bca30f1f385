package timesheet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"rota/internal/metrics"
	"rota/internal/models"

	"github.com/rs/zerolog"
)

// Decision is a manager's verdict on a timesheet that needs review.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Store persists timesheets. Writes that complete a booking also recompute
// the worker's aggregate stats from booking history in the same transaction.
type Store interface {
	GetShift(ctx context.Context, id int64) (*models.Shift, error)
	GetActiveBooking(ctx context.Context, shiftID, workerID int64) (*models.Booking, error)
	CreateTimesheet(ctx context.Context, ts *models.Timesheet) error
	GetTimesheet(ctx context.Context, id int64) (*models.Timesheet, error)
	// ReviewTimesheet applies ts.Status only while the stored status is still from.
	ReviewTimesheet(ctx context.Context, ts *models.Timesheet, from models.TimesheetStatus) error
	RateBooking(ctx context.Context, bookingID int64, rating int) (*models.Booking, error)
}

// EventPublisher emits domain events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Service handles timesheet submission and review.
type Service struct {
	store      Store
	reconciler *Reconciler
	events     EventPublisher
	logger     *zerolog.Logger
	now        func() time.Time
}

// NewService creates a timesheet service.
func NewService(store Store, reconciler *Reconciler, events EventPublisher, logger *zerolog.Logger) *Service {
	return &Service{
		store:      store,
		reconciler: reconciler,
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit records actual hours for a booked shift and classifies them.
func (s *Service) Submit(ctx context.Context, shiftID, workerID int64, actualHours float64) (*models.Timesheet, error) {
	if shiftID <= 0 {
		return nil, models.Invalid("shift_id", "is required")
	}
	if workerID <= 0 {
		return nil, models.Invalid("worker_id", "is required")
	}
	if math.IsNaN(actualHours) || math.IsInf(actualHours, 0) || actualHours < 0 {
		return nil, models.Invalid("actual_hours", "must be a non-negative number")
	}

	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, fmt.Errorf("get shift: %w", err)
	}
	if shift.IsTerminal() {
		return nil, fmt.Errorf("shift %d is %s: %w", shiftID, shift.Status, models.ErrInvalidTransition)
	}
	if _, err := s.store.GetActiveBooking(ctx, shiftID, workerID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Invalid("worker_id", "worker %d is not booked on shift %d", workerID, shiftID)
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}

	ts := &models.Timesheet{
		ShiftID:        shiftID,
		WorkerID:       workerID,
		ScheduledHours: shift.ScheduledHours(),
		ActualHours:    actualHours,
		Status:         models.TimesheetPending,
		SubmittedAt:    s.now(),
	}
	res := s.reconciler.Reconcile(ts.ScheduledHours, actualHours)
	ts.VarianceMinutes = res.VarianceMinutes
	ts.Status = res.Status
	ts.AutoApproved = res.Status == models.TimesheetAutoApproved

	if err := s.store.CreateTimesheet(ctx, ts); err != nil {
		return nil, fmt.Errorf("create timesheet: %w", err)
	}

	metrics.IncTimesheet(string(ts.Status))
	s.publish("timesheet.submitted", ts)
	s.logger.Info().
		Int64("timesheet_id", ts.ID).
		Int64("shift_id", shiftID).
		Int64("worker_id", workerID).
		Int("variance_minutes", ts.VarianceMinutes).
		Str("status", string(ts.Status)).
		Msg("timesheet submitted")
	return ts, nil
}

// Review moves a requires_review timesheet to approved or rejected.
func (s *Service) Review(ctx context.Context, timesheetID int64, decision Decision, reviewerID int64, note string) (*models.Timesheet, error) {
	if timesheetID <= 0 {
		return nil, models.Invalid("timesheet_id", "is required")
	}
	if reviewerID <= 0 {
		return nil, models.Invalid("reviewer_id", "is required")
	}

	var to models.TimesheetStatus
	switch decision {
	case DecisionApprove:
		to = models.TimesheetApproved
	case DecisionReject:
		to = models.TimesheetRejected
	default:
		return nil, models.Invalid("decision", "expected approve or reject, got %q", decision)
	}

	ts, err := s.store.GetTimesheet(ctx, timesheetID)
	if err != nil {
		return nil, fmt.Errorf("get timesheet: %w", err)
	}
	from := ts.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("timesheet %d %s -> %s: %w", timesheetID, from, to, models.ErrInvalidTransition)
	}

	reviewedAt := s.now()
	ts.Status = to
	ts.ReviewedAt = &reviewedAt
	ts.ReviewedBy = reviewerID
	ts.ReviewNote = note

	if err := s.store.ReviewTimesheet(ctx, ts, from); err != nil {
		return nil, fmt.Errorf("review timesheet: %w", err)
	}

	metrics.IncTimesheet(string(ts.Status))
	s.publish("timesheet.reviewed", ts)
	s.logger.Info().
		Int64("timesheet_id", ts.ID).
		Int64("reviewer_id", reviewerID).
		Str("status", string(ts.Status)).
		Msg("timesheet reviewed")
	return ts, nil
}

// RateBooking stores a 1..5 rating on a completed booking.
func (s *Service) RateBooking(ctx context.Context, bookingID int64, rating int) (*models.Booking, error) {
	if bookingID <= 0 {
		return nil, models.Invalid("booking_id", "is required")
	}
	if rating < 1 || rating > 5 {
		return nil, models.Invalid("rating", "must be between 1 and 5")
	}
	b, err := s.store.RateBooking(ctx, bookingID, rating)
	if err != nil {
		return nil, fmt.Errorf("rate booking: %w", err)
	}
	return b, nil
}

func (s *Service) publish(eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event failed")
	}
}
