package matching

import (
	"context"
	"fmt"
	"time"

	"rota/internal/models"

	"github.com/rs/zerolog"
)

// Store supplies coarse-filtered candidates; the matcher does the rest.
type Store interface {
	GetWorker(ctx context.Context, id int64) (*models.Worker, error)
	GetShift(ctx context.Context, id int64) (*models.Shift, error)
	ListOpenShifts(ctx context.Context, startsAfter time.Time) ([]models.Shift, error)
	ListWorkers(ctx context.Context) ([]models.Worker, error)
}

// Service answers "which shifts can this worker see" and the reverse.
type Service struct {
	store   Store
	matcher *Matcher
	logger  *zerolog.Logger
	now     func() time.Time
}

// NewService creates a matching service.
func NewService(store Store, matcher *Matcher, logger *zerolog.Logger) *Service {
	return &Service{
		store:   store,
		matcher: matcher,
		logger:  logger,
		now:     time.Now,
	}
}

// FindEligibleShifts returns the open shifts the worker qualifies for.
func (s *Service) FindEligibleShifts(ctx context.Context, workerID int64) ([]models.Shift, error) {
	if workerID <= 0 {
		return nil, models.Invalid("worker_id", "is required")
	}
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}

	candidates, err := s.store.ListOpenShifts(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list open shifts: %w", err)
	}

	eligible := make([]models.Shift, 0, len(candidates))
	for i := range candidates {
		if s.matcher.Eligible(worker, &candidates[i]) {
			eligible = append(eligible, candidates[i])
		}
	}

	s.logger.Debug().
		Int64("worker_id", workerID).
		Int("candidates", len(candidates)).
		Int("eligible", len(eligible)).
		Msg("eligible shifts computed")
	return eligible, nil
}

// FindEligibleWorkers returns the workers who qualify for the shift.
func (s *Service) FindEligibleWorkers(ctx context.Context, shiftID int64) ([]models.Worker, error) {
	if shiftID <= 0 {
		return nil, models.Invalid("shift_id", "is required")
	}
	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, fmt.Errorf("get shift: %w", err)
	}
	if shift.IsTerminal() {
		return []models.Worker{}, nil
	}

	candidates, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	eligible := make([]models.Worker, 0, len(candidates))
	for i := range candidates {
		if s.matcher.Eligible(&candidates[i], shift) {
			eligible = append(eligible, candidates[i])
		}
	}

	s.logger.Debug().
		Int64("shift_id", shiftID).
		Int("candidates", len(candidates)).
		Int("eligible", len(eligible)).
		Msg("eligible workers computed")
	return eligible, nil
}

// Check exposes a single verdict, used when explaining a match to a user.
func (s *Service) Check(ctx context.Context, workerID, shiftID int64) (Verdict, error) {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return Verdict{}, fmt.Errorf("get worker: %w", err)
	}
	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return Verdict{}, fmt.Errorf("get shift: %w", err)
	}
	return s.matcher.Check(worker, shift), nil
}
