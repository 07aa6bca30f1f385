// Package conflict keeps a worker from holding two overlapping bookings.
package conflict

import "rota/internal/models"

// Decision is the detector's verdict. A rejection is a normal outcome,
// not an error.
type Decision struct {
	Accepted  bool             `json:"accepted"`
	Conflicts []int64          `json:"conflicts"`
	Bookings  []models.Booking `json:"conflicting_bookings,omitempty"`
}

// Overlaps is the half-open interval test: touching endpoints do not overlap.
func Overlaps(a, b models.Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Detect accepts candidate only if it overlaps none of the active bookings.
func Detect(candidate models.Interval, existing []models.Booking) Decision {
	d := Decision{Accepted: true, Conflicts: []int64{}}
	for _, b := range existing {
		if !b.IsActive() {
			continue
		}
		if Overlaps(candidate, b.Interval()) {
			d.Accepted = false
			d.Conflicts = append(d.Conflicts, b.ID)
			d.Bookings = append(d.Bookings, b)
		}
	}
	return d
}
