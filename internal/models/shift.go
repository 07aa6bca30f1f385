package models

import (
	"fmt"
	"time"
)

// ShiftStatus is the lifecycle state of a shift.
type ShiftStatus string

const (
	ShiftDraft     ShiftStatus = "draft"
	ShiftPublished ShiftStatus = "published"
	ShiftFilled    ShiftStatus = "filled"
	ShiftCompleted ShiftStatus = "completed"
	ShiftCancelled ShiftStatus = "cancelled"
)

// WeekKeyLayout is the format of a rota week key (the local Monday).
const WeekKeyLayout = "2006-01-02"

// Shift is a scheduled block of work owned by a business.
type Shift struct {
	ID             int64       `json:"id"`
	BusinessID     int64       `json:"business_id"`
	WorkerID       *int64      `json:"worker_id,omitempty"`
	Role           string      `json:"role"`
	Start          time.Time   `json:"start"`
	End            time.Time   `json:"end"`
	Timezone       string      `json:"timezone"`
	WeekStart      string      `json:"week_start"`
	RequiredSkills []string    `json:"required_skills"`
	Status         ShiftStatus `json:"status"`
	Location       *GeoPoint   `json:"location,omitempty"`
	HourlyRate     float64     `json:"hourly_rate"`
	Revision       int         `json:"revision"`
	PublishedAt    *time.Time  `json:"published_at,omitempty"`
	PublishedBy    int64       `json:"published_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Interval returns the half-open [Start, End) interval of the shift.
func (s *Shift) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// ScheduledHours is the shift length as a decimal number of hours.
func (s *Shift) ScheduledHours() float64 {
	return s.End.Sub(s.Start).Hours()
}

// LocalStart returns the shift start in the shift's own calendar.
func (s *Shift) LocalStart() (time.Time, error) {
	loc, err := LoadTimezone(s.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	return s.Start.In(loc), nil
}

// IsTerminal reports whether no further transitions are allowed.
func (s *Shift) IsTerminal() bool {
	return s.Status == ShiftCompleted || s.Status == ShiftCancelled
}

// Validate checks the fields a new or revised shift must carry.
func (s *Shift) Validate() error {
	if s.BusinessID <= 0 {
		return Invalid("business_id", "is required")
	}
	if s.Role == "" {
		return Invalid("role", "is required")
	}
	if err := s.Interval().Validate(); err != nil {
		return err
	}
	if _, err := LoadTimezone(s.Timezone); err != nil {
		return Invalid("timezone", "unknown timezone %q", s.Timezone)
	}
	if s.Location != nil && !s.Location.Valid() {
		return Invalid("location", "coordinates out of range")
	}
	if s.HourlyRate < 0 {
		return Invalid("hourly_rate", "must not be negative")
	}
	return nil
}

// LoadTimezone resolves an IANA zone name; empty means UTC.
func LoadTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// WeekKey returns the ISO date of the Monday of the week containing t,
// evaluated in t's location.
func WeekKey(t time.Time) string {
	offset := (int(t.Weekday()) + 6) % 7
	monday := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, t.Location())
	return monday.Format(WeekKeyLayout)
}

// ParseWeekKey validates a week key: a YYYY-MM-DD date falling on a Monday.
func ParseWeekKey(key string) (time.Time, error) {
	d, err := time.Parse(WeekKeyLayout, key)
	if err != nil {
		return time.Time{}, Invalid("week_start", "expected YYYY-MM-DD, got %q", key)
	}
	if d.Weekday() != time.Monday {
		return time.Time{}, Invalid("week_start", "%s is a %s, not a Monday", key, d.Weekday())
	}
	return d, nil
}

// ShiftRevision records a change to a shift that workers may already have seen.
type ShiftRevision struct {
	ID        int64     `json:"id"`
	ShiftID   int64     `json:"shift_id"`
	Revision  int       `json:"revision"`
	OldStart  time.Time `json:"old_start"`
	OldEnd    time.Time `json:"old_end"`
	OldRole   string    `json:"old_role"`
	NewStart  time.Time `json:"new_start"`
	NewEnd    time.Time `json:"new_end"`
	NewRole   string    `json:"new_role"`
	EditedBy  int64     `json:"edited_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Publication is the record kept for every rota publish call.
type Publication struct {
	ID             string    `json:"id"`
	BusinessID     int64     `json:"business_id"`
	WeekStart      string    `json:"week_start"`
	PublishedBy    int64     `json:"published_by"`
	PublishedCount int       `json:"published_count"`
	PublishedAt    time.Time `json:"published_at"`
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate requires both ends and End strictly after Start.
func (i Interval) Validate() error {
	if i.Start.IsZero() || i.End.IsZero() {
		return Invalid("interval", "start and end are required")
	}
	if !i.End.After(i.Start) {
		return Invalid("interval", "end %s must be after start %s",
			i.End.Format(time.RFC3339), i.Start.Format(time.RFC3339))
	}
	return nil
}

func (i Interval) String() string {
	return fmt.Sprintf("%s/%s", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}
