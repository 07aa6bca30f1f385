package database_test

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rota/internal/conflict"
	"rota/internal/database"
	"rota/internal/lock"
	"rota/internal/matching"
	"rota/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two services with separate in-process locks stand in for two replicas
// sharing one database; only the booking-version precondition separates them.
func TestConcurrentOverlappingBookings_SeparateProcesses(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "rota.db"), &logger)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	matcher := matching.NewMatcher(matching.Policy{})
	replicas := []*conflict.Service{
		conflict.NewService(db, lock.NewLocal(), matcher, &logger),
		conflict.NewService(db, lock.NewLocal(), matcher, &logger),
	}

	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	for round := 0; round < 5; round++ {
		w := &models.Worker{
			Name:         "Ann",
			Skills:       []string{"barista"},
			Availability: models.Availability{"monday": true},
		}
		require.NoError(t, db.CreateWorker(ctx, w))

		var shifts []*models.Shift
		for _, offset := range []time.Duration{0, 4 * time.Hour} {
			s := &models.Shift{
				BusinessID:     1,
				Role:           "barista",
				Start:          start.Add(offset),
				End:            start.Add(offset + 8*time.Hour),
				Timezone:       "Europe/London",
				WeekStart:      "2026-10-19",
				RequiredSkills: []string{"barista"},
				Status:         models.ShiftPublished,
				HourlyRate:     12,
			}
			require.NoError(t, db.CreateShift(ctx, s))
			shifts = append(shifts, s)
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i, s := range shifts {
			wg.Add(1)
			go func(svc *conflict.Service, shiftID int64) {
				defer wg.Done()
				out, err := svc.Book(ctx, shiftID, w.ID)
				if err != nil {
					return
				}
				if out.Accepted {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}(replicas[i], s.ID)
		}
		wg.Wait()

		assert.Equal(t, 1, accepted, "round %d", round)
		set, err := db.WorkerBookings(ctx, w.ID)
		require.NoError(t, err)
		assert.Len(t, set.Bookings, 1, "round %d", round)
	}
}
