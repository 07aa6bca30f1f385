package models

import (
	"math"
	"time"
)

// BookingStatus is the worker-side state of a booking.
type BookingStatus string

const (
	BookingBooked    BookingStatus = "booked"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingRejected  BookingStatus = "rejected"
)

// Booking binds one worker to one shift.
type Booking struct {
	ID          int64         `json:"id"`
	ShiftID     int64         `json:"shift_id"`
	WorkerID    int64         `json:"worker_id"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Amount      float64       `json:"amount"`
	ActualHours *float64      `json:"actual_hours,omitempty"`
	Rating      *int          `json:"rating,omitempty"`
	Status      BookingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// IsActive reports whether the booking still holds the worker's time.
func (b *Booking) IsActive() bool {
	return b.Status != BookingCancelled && b.Status != BookingRejected
}

// Interval returns the booked [Start, End) range.
func (b *Booking) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// BookingSet is a worker's active bookings together with the version token
// that any write to the set must match.
type BookingSet struct {
	Version  int64
	Bookings []Booking
}

// BookingAmount is the pay for hours at rate, rounded to cents.
func BookingAmount(rate, hours float64) float64 {
	return math.Round(rate*hours*100) / 100
}
