// Package notify delivers rota messages to workers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rota/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrNoChannel means the worker has no chat to deliver to.
var ErrNoChannel = errors.New("worker has no notification channel")

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends notifications through a bot, throttled to the bot's
// flood limits.
type Telegram struct {
	bot         Sender
	limiter     *rate.Limiter
	logger      *zerolog.Logger
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewTelegram creates a notifier allowing perSecond messages with the given burst.
func NewTelegram(bot Sender, perSecond float64, burst int, logger *zerolog.Logger) *Telegram {
	return &Telegram{
		bot:         bot,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:      logger,
		maxAttempts: 3,
		sleep:       sleepCtx,
	}
}

func (t *Telegram) NotifyRotaPublished(ctx context.Context, w *models.Worker, pub *models.Publication, shifts []models.Shift) error {
	return t.send(ctx, w, RotaPublishedText(w, pub, shifts))
}

func (t *Telegram) NotifyShiftRevised(ctx context.Context, w *models.Worker, shift *models.Shift, rev *models.ShiftRevision) error {
	return t.send(ctx, w, ShiftRevisedText(shift, rev))
}

func (t *Telegram) NotifyShiftCancelled(ctx context.Context, w *models.Worker, shift *models.Shift) error {
	return t.send(ctx, w, ShiftCancelledText(shift))
}

func (t *Telegram) NotifyShiftReminder(ctx context.Context, w *models.Worker, shift *models.Shift) error {
	return t.send(ctx, w, ShiftReminderText(shift))
}

// send delivers text, honouring Telegram's retry_after on 429 responses.
func (t *Telegram) send(ctx context.Context, w *models.Worker, text string) error {
	if w.TelegramChatID == 0 {
		return ErrNoChannel
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		_, err := t.bot.Send(tgbotapi.NewMessage(w.TelegramChatID, text))
		if err == nil {
			return nil
		}
		lastErr = err

		var tgErr *tgbotapi.Error
		if !errors.As(err, &tgErr) || tgErr.Code != 429 {
			break
		}
		wait := time.Duration(tgErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		t.logger.Info().Int64("worker_id", w.ID).Dur("retry_after", wait).Int("attempt", attempt).
			Msg("rate limited by Telegram, waiting")
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("send to worker %d: %w", w.ID, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Log writes notifications to the logger instead of sending them. It stands
// in when no bot token is configured.
type Log struct {
	logger *zerolog.Logger
}

func NewLog(logger *zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) NotifyRotaPublished(_ context.Context, w *models.Worker, pub *models.Publication, shifts []models.Shift) error {
	l.logger.Info().Int64("worker_id", w.ID).Str("publication_id", pub.ID).Int("shifts", len(shifts)).
		Msg(RotaPublishedText(w, pub, shifts))
	return nil
}

func (l *Log) NotifyShiftRevised(_ context.Context, w *models.Worker, shift *models.Shift, rev *models.ShiftRevision) error {
	l.logger.Info().Int64("worker_id", w.ID).Int64("shift_id", shift.ID).Msg(ShiftRevisedText(shift, rev))
	return nil
}

func (l *Log) NotifyShiftCancelled(_ context.Context, w *models.Worker, shift *models.Shift) error {
	l.logger.Info().Int64("worker_id", w.ID).Int64("shift_id", shift.ID).Msg(ShiftCancelledText(shift))
	return nil
}

func (l *Log) NotifyShiftReminder(_ context.Context, w *models.Worker, shift *models.Shift) error {
	l.logger.Info().Int64("worker_id", w.ID).Int64("shift_id", shift.ID).Msg(ShiftReminderText(shift))
	return nil
}

// RotaPublishedText lists the worker's shifts in their local times.
func RotaPublishedText(w *models.Worker, pub *models.Publication, shifts []models.Shift) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, the rota for the week of %s is out.\n", w.Name, pub.WeekStart)
	for i := range shifts {
		fmt.Fprintf(&b, "• %s %s\n", formatSpan(shifts[i].Start, shifts[i].End, shifts[i].Timezone), shifts[i].Role)
	}
	return strings.TrimRight(b.String(), "\n")
}

func ShiftRevisedText(shift *models.Shift, rev *models.ShiftRevision) string {
	return fmt.Sprintf("Shift changed: %s %s is now %s %s.",
		formatSpan(rev.OldStart, rev.OldEnd, shift.Timezone), rev.OldRole,
		formatSpan(rev.NewStart, rev.NewEnd, shift.Timezone), rev.NewRole)
}

func ShiftCancelledText(shift *models.Shift) string {
	return fmt.Sprintf("Shift cancelled: %s %s.", formatSpan(shift.Start, shift.End, shift.Timezone), shift.Role)
}

func ShiftReminderText(shift *models.Shift) string {
	return fmt.Sprintf("Reminder: you are on %s %s.", formatSpan(shift.Start, shift.End, shift.Timezone), shift.Role)
}

func formatSpan(start, end time.Time, tz string) string {
	loc, err := models.LoadTimezone(tz)
	if err != nil {
		loc = time.UTC
	}
	start, end = start.In(loc), end.In(loc)
	return fmt.Sprintf("%s %s-%s", start.Format("Mon 2 Jan"), start.Format("15:04"), end.Format("15:04"))
}
