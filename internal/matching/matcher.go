// Package matching decides which workers may be offered which shifts.
package matching

import (
	"sync/atomic"

	"rota/internal/geo"
	"rota/internal/metrics"
	"rota/internal/models"
)

// Reason names a failed eligibility test.
type Reason string

const (
	ReasonSkills       Reason = "skills"
	ReasonAvailability Reason = "availability"
	ReasonDistance     Reason = "distance"
	ReasonNoLocation   Reason = "no_location"
)

// Policy holds the tunable parts of the matcher.
type Policy struct {
	// DefaultRadiusMiles applies to workers without a radius of their own.
	DefaultRadiusMiles float64
	// RequireCoordinates turns missing coordinates into a failed geography
	// test instead of a skipped one.
	RequireCoordinates bool
}

// Verdict is the outcome of an eligibility check.
type Verdict struct {
	Eligible      bool     `json:"eligible"`
	Reasons       []Reason `json:"reasons,omitempty"`
	DistanceMiles *float64 `json:"distance_miles,omitempty"`
}

// Matcher applies the skill, availability and geography tests.
// It is safe for concurrent use; the policy can be swapped at runtime.
type Matcher struct {
	policy atomic.Pointer[Policy]
}

// NewMatcher creates a matcher with the given policy.
func NewMatcher(p Policy) *Matcher {
	m := &Matcher{}
	m.SetPolicy(p)
	return m
}

// SetPolicy replaces the active policy.
func (m *Matcher) SetPolicy(p Policy) {
	m.policy.Store(&p)
}

// Policy returns the active policy.
func (m *Matcher) Policy() Policy {
	return *m.policy.Load()
}

// Eligible reports whether w may be offered s.
func (m *Matcher) Eligible(w *models.Worker, s *models.Shift) bool {
	return m.Check(w, s).Eligible
}

// Check runs all three tests and reports every one that failed.
func (m *Matcher) Check(w *models.Worker, s *models.Shift) Verdict {
	p := m.Policy()
	var v Verdict

	if !skillsMatch(w.Skills, s.RequiredSkills) {
		v.Reasons = append(v.Reasons, ReasonSkills)
	}
	if !availableFor(w, s) {
		v.Reasons = append(v.Reasons, ReasonAvailability)
	}

	switch {
	case w.Location != nil && s.Location != nil:
		d := geo.Distance(*w.Location, *s.Location)
		v.DistanceMiles = &d
		radius := w.RadiusMiles
		if radius <= 0 {
			radius = p.DefaultRadiusMiles
		}
		// NaN compares false and fails the test.
		if !(d <= radius) {
			v.Reasons = append(v.Reasons, ReasonDistance)
		}
	case p.RequireCoordinates:
		v.Reasons = append(v.Reasons, ReasonNoLocation)
	}

	v.Eligible = len(v.Reasons) == 0
	metrics.IncEligibility(v.Eligible)
	return v
}

// skillsMatch passes when nothing is required or at least one skill is shared.
func skillsMatch(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// availableFor evaluates the weekday in the shift's own calendar and fails
// closed when that calendar cannot be resolved.
func availableFor(w *models.Worker, s *models.Shift) bool {
	local, err := s.LocalStart()
	if err != nil {
		return false
	}
	return w.Availability.On(local.Weekday())
}
