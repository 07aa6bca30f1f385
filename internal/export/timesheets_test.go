package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"rota/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListTimesheetReports(ctx context.Context, businessID int64, from, to time.Time) ([]models.TimesheetReport, error) {
	args := m.Called(ctx, businessID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TimesheetReport), args.Error(1)
}

var monday = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func report(id, workerID int64, name string, actual float64, status models.TimesheetStatus) models.TimesheetReport {
	return models.TimesheetReport{
		Timesheet: models.Timesheet{
			ID: id, ShiftID: id, WorkerID: workerID, ScheduledHours: 8, ActualHours: actual, Status: status,
		},
		BusinessID: 1,
		WorkerName: name,
		Role:       "barista",
		ShiftStart: monday.AddDate(0, 0, int(id)),
		ShiftEnd:   monday.AddDate(0, 0, int(id)).Add(8 * time.Hour),
		HourlyRate: 12,
		Amount:     96,
	}
}

func TestWriteTimesheets(t *testing.T) {
	reports := []models.TimesheetReport{
		report(1, 7, "Ann", 8, models.TimesheetAutoApproved),
		report(2, 7, "Ann", 9, models.TimesheetRequiresReview),
		report(3, 8, "Bo", 8.5, models.TimesheetApproved),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTimesheets(&buf, reports))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetTimesheets, SheetSummary}, f.GetSheetList())

	rows, err := f.GetRows(SheetTimesheets)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, timesheetColumns, rows[0])
	assert.Equal(t, "Ann", rows[1][3])
	assert.Equal(t, "2026-10-20 09:00", rows[1][5])
	assert.Equal(t, "requires_review", rows[2][10])

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, []string{"7", "Ann", "1", "8", "96", "1"}, summary[1])
	assert.Equal(t, []string{"8", "Bo", "1", "8.5", "96", "0"}, summary[2])
}

func TestService_ExportTimesheets(t *testing.T) {
	logger := zerolog.New(io.Discard)
	store := &mockStore{}
	svc := NewService(store, &logger)
	from, to := monday, monday.AddDate(0, 0, 7)

	store.On("ListTimesheetReports", mock.Anything, int64(1), from, to).
		Return([]models.TimesheetReport{report(1, 7, "Ann", 8, models.TimesheetAutoApproved)}, nil).Once()

	var buf bytes.Buffer
	n, err := svc.ExportTimesheets(context.Background(), 1, from, to, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, buf.Len())

	_, err = svc.ExportTimesheets(context.Background(), 0, from, to, &buf)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.ExportTimesheets(context.Background(), 1, to, from, &buf)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	store.On("ListTimesheetReports", mock.Anything, int64(2), from, to).Return(nil, errors.New("disk I/O error")).Once()
	_, err = svc.ExportTimesheets(context.Background(), 2, from, to, &buf)
	assert.ErrorContains(t, err, "disk I/O error")

	store.AssertExpectations(t)
}
