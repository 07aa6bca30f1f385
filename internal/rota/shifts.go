package rota

import (
	"context"
	"fmt"
	"time"

	"rota/internal/conflict"
	"rota/internal/models"
)

// ShiftChanges are the editable fields of a shift. Nil means unchanged.
type ShiftChanges struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	Role  *string    `json:"role,omitempty"`
}

// RevisionOutcome is the result of an edit.
type RevisionOutcome struct {
	Applied  bool                  `json:"applied"`
	Shift    *models.Shift         `json:"shift"`
	Revision *models.ShiftRevision `json:"revision,omitempty"`
	Decision *conflict.Decision    `json:"decision,omitempty"`
}

// CreateShift stores a new draft shift.
func (s *Service) CreateShift(ctx context.Context, shift *models.Shift) error {
	shift.Status = models.ShiftDraft
	shift.WorkerID = nil
	shift.Revision = 0
	if err := shift.Validate(); err != nil {
		return err
	}
	local, _ := shift.LocalStart()
	shift.WeekStart = models.WeekKey(local)
	shift.Start = shift.Start.UTC()
	shift.End = shift.End.UTC()

	if err := s.store.CreateShift(ctx, shift); err != nil {
		return fmt.Errorf("create shift: %w", err)
	}
	s.logger.Info().
		Int64("shift_id", shift.ID).
		Int64("business_id", shift.BusinessID).
		Str("week_start", shift.WeekStart).
		Msg("shift drafted")
	return nil
}

// GetShift returns a shift with its revision history.
func (s *Service) GetShift(ctx context.Context, id int64) (*models.Shift, []models.ShiftRevision, error) {
	shift, err := s.store.GetShift(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get shift: %w", err)
	}
	revs, err := s.store.ListRevisions(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list revisions: %w", err)
	}
	return shift, revs, nil
}

// ReviseShift edits a shift. Drafts change in place; published and filled
// shifts gain a revision record so the assigned worker can see what moved.
// An assigned worker's other bookings are re-checked for overlap.
func (s *Service) ReviseShift(ctx context.Context, shiftID int64, changes ShiftChanges, editedBy int64) (RevisionOutcome, error) {
	if shiftID <= 0 {
		return RevisionOutcome{}, models.Invalid("shift_id", "is required")
	}

	prev, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return RevisionOutcome{}, fmt.Errorf("get shift: %w", err)
	}
	if prev.IsTerminal() {
		return RevisionOutcome{}, fmt.Errorf("shift %d is %s: %w", shiftID, prev.Status, models.ErrInvalidTransition)
	}

	next := *prev
	if changes.Start != nil {
		next.Start = changes.Start.UTC()
	}
	if changes.End != nil {
		next.End = changes.End.UTC()
	}
	if changes.Role != nil {
		next.Role = *changes.Role
	}
	if err := next.Validate(); err != nil {
		return RevisionOutcome{}, err
	}
	local, _ := next.LocalStart()
	next.WeekStart = models.WeekKey(local)

	if next.Start.Equal(prev.Start) && next.End.Equal(prev.End) && next.Role == prev.Role {
		return RevisionOutcome{Applied: true, Shift: prev}, nil
	}

	var rev *models.ShiftRevision
	if prev.Status != models.ShiftDraft {
		next.Revision = prev.Revision + 1
		rev = &models.ShiftRevision{
			ShiftID:   prev.ID,
			Revision:  next.Revision,
			OldStart:  prev.Start,
			OldEnd:    prev.End,
			OldRole:   prev.Role,
			NewStart:  next.Start,
			NewEnd:    next.End,
			NewRole:   next.Role,
			EditedBy:  editedBy,
			CreatedAt: s.now().UTC(),
		}
	}

	if prev.WorkerID == nil {
		if err := s.store.ReviseShift(ctx, &next, prev, rev, 0); err != nil {
			return RevisionOutcome{}, fmt.Errorf("revise shift: %w", err)
		}
	} else {
		d, err := s.guard.Guard(ctx, *prev.WorkerID, next.Interval(), prev.ID, func(ctx context.Context, version int64) error {
			return s.store.ReviseShift(ctx, &next, prev, rev, version)
		})
		if err != nil {
			return RevisionOutcome{}, fmt.Errorf("revise shift: %w", err)
		}
		if !d.Accepted {
			return RevisionOutcome{Shift: prev, Decision: &d}, nil
		}
	}

	if rev != nil {
		s.publish("shift.revised", rev)
		if w := s.worker(ctx, prev.WorkerID); w != nil {
			if err := s.notifier.NotifyShiftRevised(ctx, w, &next, rev); err != nil {
				s.logger.Warn().Err(err).Int64("shift_id", shiftID).Msg("revision notification failed")
			}
		}
	}

	s.logger.Info().
		Int64("shift_id", shiftID).
		Int("revision", next.Revision).
		Str("status", string(next.Status)).
		Msg("shift revised")
	return RevisionOutcome{Applied: true, Shift: &next, Revision: rev}, nil
}

// CancelShift cancels any shift that has not been completed.
func (s *Service) CancelShift(ctx context.Context, shiftID int64) (*models.Shift, error) {
	if shiftID <= 0 {
		return nil, models.Invalid("shift_id", "is required")
	}

	shift, err := s.store.CancelShift(ctx, shiftID)
	if err != nil {
		return nil, fmt.Errorf("cancel shift %d: %w", shiftID, err)
	}

	s.publish("shift.cancelled", shift)
	if w := s.worker(ctx, shift.WorkerID); w != nil {
		if err := s.notifier.NotifyShiftCancelled(ctx, w, shift); err != nil {
			s.logger.Warn().Err(err).Int64("shift_id", shiftID).Msg("cancellation notification failed")
		}
	}
	s.logger.Info().Int64("shift_id", shiftID).Msg("shift cancelled")
	return shift, nil
}
