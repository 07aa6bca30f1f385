package matching

import (
	"testing"
	"time"

	"rota/internal/models"

	"github.com/stretchr/testify/assert"
)

var (
	shop      = models.GeoPoint{Lat: 51.5074, Lng: -0.1278} // central London
	nearby    = models.GeoPoint{Lat: 51.5560, Lng: -0.2796} // ~7 miles away
	faraway   = models.GeoPoint{Lat: 53.4808, Lng: -2.2426} // Manchester
	mondayUTC = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
)

func newShift() *models.Shift {
	return &models.Shift{
		ID:             1,
		Start:          mondayUTC,
		End:            mondayUTC.Add(4 * time.Hour),
		Timezone:       "UTC",
		RequiredSkills: []string{"barista", "till"},
		Location:       &shop,
	}
}

func newWorker() *models.Worker {
	return &models.Worker{
		ID:           7,
		Skills:       []string{"till"},
		Availability: models.Availability{"monday": true},
		Location:     &nearby,
		RadiusMiles:  10,
	}
}

func TestMatcher_AllTestsPass(t *testing.T) {
	m := NewMatcher(Policy{})
	v := m.Check(newWorker(), newShift())

	assert.True(t, v.Eligible)
	assert.Empty(t, v.Reasons)
	if assert.NotNil(t, v.DistanceMiles) {
		assert.Less(t, *v.DistanceMiles, 10.0)
	}
}

func TestMatcher_Skills(t *testing.T) {
	m := NewMatcher(Policy{})

	w := newWorker()
	w.Skills = []string{"kitchen"}
	assert.Equal(t, []Reason{ReasonSkills}, m.Check(w, newShift()).Reasons)

	s := newShift()
	s.RequiredSkills = nil
	assert.True(t, m.Eligible(w, s), "empty required skills means any")

	w.Skills = nil
	assert.True(t, m.Eligible(w, s))
}

func TestMatcher_Availability(t *testing.T) {
	m := NewMatcher(Policy{})

	w := newWorker()
	w.Availability = models.Availability{}
	assert.Equal(t, []Reason{ReasonAvailability}, m.Check(w, newShift()).Reasons)

	w.Availability = models.Availability{"monday": false, "tuesday": true}
	assert.False(t, m.Eligible(w, newShift()))
}

func TestMatcher_AvailabilityUsesShiftCalendar(t *testing.T) {
	m := NewMatcher(Policy{})

	// 23:30 UTC on Monday is already Tuesday in Auckland.
	s := newShift()
	s.Start = time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC)
	s.End = s.Start.Add(2 * time.Hour)
	s.Timezone = "Pacific/Auckland"

	w := newWorker()
	w.Availability = models.Availability{"monday": true}
	assert.False(t, m.Eligible(w, s))

	w.Availability = models.Availability{"tuesday": true}
	assert.True(t, m.Eligible(w, s))
}

func TestMatcher_UnknownTimezoneFailsClosed(t *testing.T) {
	m := NewMatcher(Policy{})

	s := newShift()
	s.Timezone = "Nowhere/Special"
	w := newWorker()
	w.Availability = models.Availability{
		"sunday": true, "monday": true, "tuesday": true, "wednesday": true,
		"thursday": true, "friday": true, "saturday": true,
	}

	v := m.Check(w, s)
	assert.False(t, v.Eligible)
	assert.Contains(t, v.Reasons, ReasonAvailability)
}

func TestMatcher_Geography(t *testing.T) {
	m := NewMatcher(Policy{})

	w := newWorker()
	w.Location = &faraway
	assert.Equal(t, []Reason{ReasonDistance}, m.Check(w, newShift()).Reasons)

	w.Location = nil
	assert.True(t, m.Eligible(w, newShift()), "missing worker coordinates skip the test")

	w = newWorker()
	s := newShift()
	s.Location = nil
	assert.True(t, m.Eligible(w, s), "missing shift coordinates skip the test")
}

func TestMatcher_RadiusBoundaryInclusive(t *testing.T) {
	m := NewMatcher(Policy{})
	w := newWorker()
	w.Location = &shop
	w.RadiusMiles = 0
	// Same point: distance 0 <= radius 0.
	assert.True(t, m.Eligible(w, newShift()))
}

func TestMatcher_DefaultRadius(t *testing.T) {
	w := newWorker()
	w.RadiusMiles = 0

	assert.False(t, NewMatcher(Policy{}).Eligible(w, newShift()))
	assert.True(t, NewMatcher(Policy{DefaultRadiusMiles: 25}).Eligible(w, newShift()))
}

func TestMatcher_RequireCoordinates(t *testing.T) {
	m := NewMatcher(Policy{RequireCoordinates: true})
	w := newWorker()
	w.Location = nil

	assert.Equal(t, []Reason{ReasonNoLocation}, m.Check(w, newShift()).Reasons)

	m.SetPolicy(Policy{})
	assert.True(t, m.Eligible(w, newShift()))
}

func TestMatcher_EligibleIffAllTests(t *testing.T) {
	m := NewMatcher(Policy{})
	skills := [][]string{{"till"}, {"kitchen"}}
	avail := []models.Availability{{"monday": true}, {}}
	locs := []*models.GeoPoint{&nearby, &faraway, nil}

	for _, sk := range skills {
		for _, av := range avail {
			for _, loc := range locs {
				w := newWorker()
				w.Skills, w.Availability, w.Location = sk, av, loc
				s := newShift()

				want := sk[0] == "till" && av.On(time.Monday) && loc != &faraway
				assert.Equal(t, want, m.Eligible(w, s), "skills=%v avail=%v loc=%v", sk, av, loc)
			}
		}
	}
}
