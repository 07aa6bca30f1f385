package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rota/internal/metrics"
	"rota/internal/models"
	"rota/internal/notify"

	"github.com/rs/zerolog"
)

// Store finds bookings that are due a reminder and records which were sent.
type Store interface {
	DueReminders(ctx context.Context, from, until time.Time) ([]models.Booking, error)
	// ClaimReminder reports false when another pass already took the booking.
	ClaimReminder(ctx context.Context, bookingID int64) (bool, error)
	ReleaseReminder(ctx context.Context, bookingID int64) error
	GetShift(ctx context.Context, id int64) (*models.Shift, error)
	GetWorker(ctx context.Context, id int64) (*models.Worker, error)
}

// Notifier delivers the reminder to the worker.
type Notifier interface {
	NotifyShiftReminder(ctx context.Context, w *models.Worker, shift *models.Shift) error
}

// Config holds configuration for the reminder service.
type Config struct {
	// Lead is how long before a shift starts the worker is reminded.
	Lead time.Duration
	// CheckInterval is how often due bookings are polled.
	CheckInterval time.Duration
	// MaxConcurrent limits parallel sends.
	MaxConcurrent int
}

// Stats summarise one pass.
type Stats struct {
	Due     int
	Sent    int
	Skipped int
	Failed  int
}

// Service reminds booked workers ahead of their shift.
type Service struct {
	store    Store
	notifier Notifier
	config   Config
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewService creates a reminder service, filling unset config with defaults.
func NewService(store Store, notifier Notifier, cfg Config, logger *zerolog.Logger) *Service {
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 15 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Service{
		store:    store,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Start checks immediately and then every CheckInterval until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().
		Dur("lead", s.config.Lead).
		Dur("check_interval", s.config.CheckInterval).
		Msg("Reminder service started")

	s.CheckNow(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Reminder service stopped")
			return
		case <-ticker.C:
			s.CheckNow(ctx)
		}
	}
}

// CheckNow runs a single pass over bookings starting within the lead time.
func (s *Service) CheckNow(ctx context.Context) Stats {
	var stats Stats
	now := s.now()
	due, err := s.store.DueReminders(ctx, now, now.Add(s.config.Lead))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get due reminders")
		return stats
	}
	stats.Due = len(due)
	if len(due) == 0 {
		return stats
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.config.MaxConcurrent)
	)
	for _, b := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(b models.Booking) {
			defer wg.Done()
			defer func() { <-sem }()

			result := s.sendReminder(ctx, b)
			metrics.IncReminder(result)

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case "sent":
				stats.Sent++
			case "failed":
				stats.Failed++
			default:
				stats.Skipped++
			}
		}(b)
	}
	wg.Wait()

	s.logger.Info().
		Int("due", stats.Due).
		Int("sent", stats.Sent).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("reminders processed")
	return stats
}

// sendReminder claims the booking first so replicas never double-send;
// a transient failure releases the claim for the next pass.
func (s *Service) sendReminder(ctx context.Context, b models.Booking) string {
	log := s.logger.With().Int64("booking_id", b.ID).Int64("worker_id", b.WorkerID).Logger()

	claimed, err := s.store.ClaimReminder(ctx, b.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim reminder")
		return "failed"
	}
	if !claimed {
		return "claimed"
	}

	err = s.deliver(ctx, b)
	switch {
	case err == nil:
		log.Info().Int64("shift_id", b.ShiftID).Msg("Reminder sent")
		return "sent"
	case errors.Is(err, notify.ErrNoChannel), errors.Is(err, models.ErrNotFound):
		log.Debug().Err(err).Msg("Reminder skipped")
		return "skipped"
	default:
		log.Error().Err(err).Msg("Failed to send reminder")
		if err := s.store.ReleaseReminder(ctx, b.ID); err != nil {
			log.Error().Err(err).Msg("Failed to release reminder")
		}
		return "failed"
	}
}

func (s *Service) deliver(ctx context.Context, b models.Booking) error {
	shift, err := s.store.GetShift(ctx, b.ShiftID)
	if err != nil {
		return fmt.Errorf("get shift: %w", err)
	}
	worker, err := s.store.GetWorker(ctx, b.WorkerID)
	if err != nil {
		return fmt.Errorf("get worker: %w", err)
	}
	return s.notifier.NotifyShiftReminder(ctx, worker, shift)
}
