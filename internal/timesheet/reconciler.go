// Package timesheet reconciles worked hours against scheduled hours.
package timesheet

import (
	"math"
	"sync/atomic"

	"rota/internal/models"
)

// DefaultToleranceMinutes is the auto-approval window when none is configured.
const DefaultToleranceMinutes = 15

// Result is the reconciler's classification of a submission.
type Result struct {
	VarianceMinutes int
	Status          models.TimesheetStatus
}

// Reconciler classifies timesheets by their variance from the schedule.
type Reconciler struct {
	tolerance atomic.Int64
}

// NewReconciler creates a reconciler; a negative tolerance falls back to the default.
func NewReconciler(toleranceMinutes int) *Reconciler {
	r := &Reconciler{}
	r.SetTolerance(toleranceMinutes)
	return r
}

// SetTolerance replaces the auto-approval window.
func (r *Reconciler) SetTolerance(minutes int) {
	if minutes < 0 {
		minutes = DefaultToleranceMinutes
	}
	r.tolerance.Store(int64(minutes))
}

// Tolerance returns the active auto-approval window in minutes.
func (r *Reconciler) Tolerance() int {
	return int(r.tolerance.Load())
}

// VarianceMinutes is actual minus scheduled, in whole minutes, signed.
// It is a difference, so zero scheduled hours are fine.
func VarianceMinutes(scheduledHours, actualHours float64) int {
	return int(math.Round((actualHours - scheduledHours) * 60))
}

// Reconcile returns auto_approved within tolerance (inclusive) and
// requires_review otherwise.
func (r *Reconciler) Reconcile(scheduledHours, actualHours float64) Result {
	v := VarianceMinutes(scheduledHours, actualHours)
	abs := v
	if abs < 0 {
		abs = -abs
	}
	if abs <= r.Tolerance() {
		return Result{VarianceMinutes: v, Status: models.TimesheetAutoApproved}
	}
	return Result{VarianceMinutes: v, Status: models.TimesheetRequiresReview}
}

var transitions = map[models.TimesheetStatus][]models.TimesheetStatus{
	models.TimesheetPending:        {models.TimesheetAutoApproved, models.TimesheetRequiresReview},
	models.TimesheetRequiresReview: {models.TimesheetApproved, models.TimesheetRejected},
}

// CanTransition checks the timesheet state machine.
func CanTransition(from, to models.TimesheetStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
