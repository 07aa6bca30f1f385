package models

import "time"

// TimesheetStatus is the reconciliation state of a timesheet.
type TimesheetStatus string

const (
	TimesheetPending        TimesheetStatus = "pending"
	TimesheetAutoApproved   TimesheetStatus = "auto_approved"
	TimesheetRequiresReview TimesheetStatus = "requires_review"
	TimesheetApproved       TimesheetStatus = "approved"
	TimesheetRejected       TimesheetStatus = "rejected"
)

// Timesheet is a submitted record of hours worked against a shift.
type Timesheet struct {
	ID              int64           `json:"id"`
	ShiftID         int64           `json:"shift_id"`
	WorkerID        int64           `json:"worker_id"`
	ScheduledHours  float64         `json:"scheduled_hours"`
	ActualHours     float64         `json:"actual_hours"`
	VarianceMinutes int             `json:"variance_minutes"`
	Status          TimesheetStatus `json:"status"`
	AutoApproved    bool            `json:"auto_approved"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	ReviewedBy      int64           `json:"reviewed_by,omitempty"`
	ReviewNote      string          `json:"review_note,omitempty"`
}

// Approved reports whether the hours count towards pay.
func (t *Timesheet) Approved() bool {
	return t.Status == TimesheetAutoApproved || t.Status == TimesheetApproved
}

// TimesheetReport is one payroll line: a timesheet joined with its shift,
// worker, and booking.
type TimesheetReport struct {
	Timesheet
	BusinessID int64     `json:"business_id"`
	WorkerName string    `json:"worker_name"`
	Role       string    `json:"role"`
	ShiftStart time.Time `json:"shift_start"`
	ShiftEnd   time.Time `json:"shift_end"`
	HourlyRate float64   `json:"hourly_rate"`
	Amount     float64   `json:"amount"`
}
