package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"rota/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func newTestTelegram(bot Sender) (*Telegram, *[]time.Duration) {
	logger := zerolog.New(io.Discard)
	tg := NewTelegram(bot, 1000, 10, &logger)
	var slept []time.Duration
	tg.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return tg, &slept
}

var (
	start = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	shift = models.Shift{
		ID: 1, Role: "barista", Start: start, End: start.Add(8 * time.Hour), Timezone: "Europe/London",
	}
	pub = &models.Publication{ID: "p1", WeekStart: "2026-10-19"}
)

func TestTelegram_NotifyRotaPublished(t *testing.T) {
	bot := &mockSender{}
	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 555 && msg.Text != ""
	})).Return(nil).Once()

	tg, _ := newTestTelegram(bot)
	w := &models.Worker{ID: 7, Name: "Ann", TelegramChatID: 555}
	require.NoError(t, tg.NotifyRotaPublished(context.Background(), w, pub, []models.Shift{shift}))
	bot.AssertExpectations(t)
}

func TestTelegram_NoChannel(t *testing.T) {
	bot := &mockSender{}
	tg, _ := newTestTelegram(bot)

	err := tg.NotifyShiftCancelled(context.Background(), &models.Worker{ID: 7}, &shift)
	assert.ErrorIs(t, err, ErrNoChannel)
	bot.AssertNotCalled(t, "Send", mock.Anything)
}

func TestTelegram_RetryAfter(t *testing.T) {
	bot := &mockSender{}
	flood := &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}
	bot.On("Send", mock.Anything).Return(flood).Once()
	bot.On("Send", mock.Anything).Return(nil).Once()

	tg, slept := newTestTelegram(bot)
	w := &models.Worker{ID: 7, TelegramChatID: 555}
	require.NoError(t, tg.NotifyShiftCancelled(context.Background(), w, &shift))
	assert.Equal(t, []time.Duration{3 * time.Second}, *slept)
	bot.AssertNumberOfCalls(t, "Send", 2)
}

func TestTelegram_PermanentError(t *testing.T) {
	bot := &mockSender{}
	bot.On("Send", mock.Anything).Return(&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"})

	tg, slept := newTestTelegram(bot)
	w := &models.Worker{ID: 7, TelegramChatID: 555}
	err := tg.NotifyShiftCancelled(context.Background(), w, &shift)
	assert.ErrorContains(t, err, "blocked")
	assert.Empty(t, *slept)
	bot.AssertNumberOfCalls(t, "Send", 1)

	other := &mockSender{}
	other.On("Send", mock.Anything).Return(errors.New("connection reset"))
	tg, _ = newTestTelegram(other)
	assert.Error(t, tg.NotifyShiftCancelled(context.Background(), w, &shift))
}

func TestMessageText(t *testing.T) {
	w := &models.Worker{Name: "Ann"}
	text := RotaPublishedText(w, pub, []models.Shift{shift})
	assert.Contains(t, text, "Hi Ann")
	assert.Contains(t, text, "2026-10-19")
	// 09:00 UTC is 10:00 in London during BST.
	assert.Contains(t, text, "Mon 19 Oct 10:00-18:00 barista")

	rev := &models.ShiftRevision{
		OldStart: start, OldEnd: start.Add(8 * time.Hour), OldRole: "barista",
		NewStart: start.Add(time.Hour), NewEnd: start.Add(9 * time.Hour), NewRole: "supervisor",
	}
	assert.Equal(t, "Shift changed: Mon 19 Oct 10:00-18:00 barista is now Mon 19 Oct 11:00-19:00 supervisor.",
		ShiftRevisedText(&shift, rev))
	assert.Equal(t, "Shift cancelled: Mon 19 Oct 10:00-18:00 barista.", ShiftCancelledText(&shift))
	assert.Equal(t, "Reminder: you are on Mon 19 Oct 10:00-18:00 barista.", ShiftReminderText(&shift))
}
