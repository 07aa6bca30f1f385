// Package rota owns the shift lifecycle: drafting, weekly publication,
// revision of published shifts, and cancellation.
package rota

import (
	"context"
	"time"

	"rota/internal/conflict"
	"rota/internal/models"

	"github.com/rs/zerolog"
)

// Store persists shifts and publication records.
type Store interface {
	CreateShift(ctx context.Context, s *models.Shift) error
	GetShift(ctx context.Context, id int64) (*models.Shift, error)
	GetWorker(ctx context.Context, id int64) (*models.Worker, error)
	// PublishDraftShifts moves every draft shift of pub's business and week
	// to published with a status = 'draft' predicate, records pub when at
	// least one row changed, and returns the rows it changed.
	PublishDraftShifts(ctx context.Context, pub *models.Publication) ([]models.Shift, error)
	// ReviseShift writes s if its stored status and revision are unchanged,
	// appending rev to the audit trail when rev is not nil. For an assigned
	// shift the worker's booking version must still equal bookingVersion.
	ReviseShift(ctx context.Context, s *models.Shift, prev *models.Shift, rev *models.ShiftRevision, bookingVersion int64) error
	CancelShift(ctx context.Context, id int64) (*models.Shift, error)
	ListRevisions(ctx context.Context, shiftID int64) ([]models.ShiftRevision, error)
}

// Notifier tells workers about rota changes. Delivery is best effort.
type Notifier interface {
	NotifyRotaPublished(ctx context.Context, worker *models.Worker, pub *models.Publication, shifts []models.Shift) error
	NotifyShiftRevised(ctx context.Context, worker *models.Worker, shift *models.Shift, rev *models.ShiftRevision) error
	NotifyShiftCancelled(ctx context.Context, worker *models.Worker, shift *models.Shift) error
}

// EventPublisher emits domain events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// BookingGuard serializes decisions over a worker's booking set.
type BookingGuard interface {
	Guard(ctx context.Context, workerID int64, candidate models.Interval, excludeShiftID int64,
		commit func(ctx context.Context, version int64) error) (conflict.Decision, error)
}

// Service implements rota operations.
type Service struct {
	store    Store
	guard    BookingGuard
	notifier Notifier
	events   EventPublisher
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewService creates a rota service.
func NewService(store Store, guard BookingGuard, notifier Notifier, events EventPublisher, logger *zerolog.Logger) *Service {
	return &Service{
		store:    store,
		guard:    guard,
		notifier: notifier,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) publish(eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event failed")
	}
}

func (s *Service) worker(ctx context.Context, id *int64) *models.Worker {
	if id == nil || s.notifier == nil {
		return nil
	}
	w, err := s.store.GetWorker(ctx, *id)
	if err != nil {
		s.logger.Warn().Err(err).Int64("worker_id", *id).Msg("load worker for notification")
		return nil
	}
	return w
}
