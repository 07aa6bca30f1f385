package models

import (
	"strings"
	"time"
)

// Availability maps a lowercase English weekday name ("monday") to whether
// the worker accepts shifts on that day.
type Availability map[string]bool

// On reports availability for a weekday. Unknown days are unavailable.
func (a Availability) On(day time.Weekday) bool {
	if day < time.Sunday || day > time.Saturday {
		return false
	}
	return a[strings.ToLower(day.String())]
}

// WorkerStats are aggregates derived from a worker's booking history.
type WorkerStats struct {
	CompletedShifts int     `json:"completed_shifts"`
	TotalHours      float64 `json:"total_hours"`
	TotalEarnings   float64 `json:"total_earnings"`
	AverageRating   float64 `json:"average_rating"`
}

// Worker is a person who can be booked onto shifts.
type Worker struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	Skills         []string     `json:"skills"`
	Availability   Availability `json:"availability"`
	Location       *GeoPoint    `json:"location,omitempty"`
	RadiusMiles    float64      `json:"radius_miles"`
	TelegramChatID int64        `json:"telegram_chat_id,omitempty"`
	Stats          WorkerStats  `json:"stats"`
	BookingVersion int64        `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

var weekdayNames = map[string]bool{
	"sunday": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true,
}

// Validate checks a worker profile before it is stored.
func (w *Worker) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return Invalid("name", "is required")
	}
	if w.RadiusMiles < 0 {
		return Invalid("radius_miles", "must not be negative")
	}
	if w.Location != nil && !w.Location.Valid() {
		return Invalid("location", "coordinates out of range")
	}
	for day := range w.Availability {
		if !weekdayNames[day] {
			return Invalid("availability", "unknown day %q", day)
		}
	}
	return nil
}
