package rota

import (
	"context"
	"fmt"

	"rota/internal/metrics"
	"rota/internal/models"

	"github.com/google/uuid"
)

// PublishResult reports what a publish call changed.
type PublishResult struct {
	PublishedCount  int    `json:"published_count"`
	PublicationID   string `json:"publication_id,omitempty"`
	NotifiedWorkers int    `json:"notified_workers"`
}

// PublishRota moves the business's draft shifts for the week to published.
// Only rows still in draft are touched, so a retry after a partial failure
// completes the remainder and a replay publishes nothing and notifies no one.
func (s *Service) PublishRota(ctx context.Context, businessID int64, weekStart string, publishedBy int64) (PublishResult, error) {
	if businessID <= 0 {
		return PublishResult{}, models.Invalid("business_id", "is required")
	}
	if _, err := models.ParseWeekKey(weekStart); err != nil {
		return PublishResult{}, err
	}

	pub := &models.Publication{
		ID:          uuid.NewString(),
		BusinessID:  businessID,
		WeekStart:   weekStart,
		PublishedBy: publishedBy,
		PublishedAt: s.now().UTC(),
	}

	shifts, err := s.store.PublishDraftShifts(ctx, pub)
	if err != nil {
		return PublishResult{}, fmt.Errorf("publish business %d week %s: %w", businessID, weekStart, err)
	}
	if len(shifts) == 0 {
		s.logger.Info().Int64("business_id", businessID).Str("week_start", weekStart).Msg("rota already published")
		return PublishResult{}, nil
	}

	metrics.AddShiftsPublished(len(shifts))
	s.publish("rota.published", pub)

	notified := s.notifyPublished(ctx, pub, shifts)
	s.logger.Info().
		Int64("business_id", businessID).
		Str("week_start", weekStart).
		Str("publication_id", pub.ID).
		Int("published", len(shifts)).
		Int("notified_workers", notified).
		Msg("rota published")

	return PublishResult{
		PublishedCount:  len(shifts),
		PublicationID:   pub.ID,
		NotifiedWorkers: notified,
	}, nil
}

// notifyPublished sends one message per assigned worker.
func (s *Service) notifyPublished(ctx context.Context, pub *models.Publication, shifts []models.Shift) int {
	if s.notifier == nil {
		return 0
	}

	byWorker := make(map[int64][]models.Shift)
	var order []int64
	for _, sh := range shifts {
		if sh.WorkerID == nil {
			continue
		}
		id := *sh.WorkerID
		if _, seen := byWorker[id]; !seen {
			order = append(order, id)
		}
		byWorker[id] = append(byWorker[id], sh)
	}

	notified := 0
	for _, id := range order {
		workerID := id
		w := s.worker(ctx, &workerID)
		if w == nil {
			continue
		}
		if err := s.notifier.NotifyRotaPublished(ctx, w, pub, byWorker[id]); err != nil {
			s.logger.Warn().Err(err).Int64("worker_id", id).Msg("rota notification failed")
			continue
		}
		notified++
	}
	return notified
}
