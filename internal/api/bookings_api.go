package api

import (
	"net/http"

	"rota/internal/metrics"
	"rota/internal/timesheet"
)

// BookRequest is the body of POST /api/bookings.
type BookRequest struct {
	ShiftID  int64 `json:"shift_id"`
	WorkerID int64 `json:"worker_id"`
}

// handleBook assigns a worker to a shift. Rejections (ineligible or
// overlapping) are returned as a 200 outcome with accepted=false.
// POST /api/bookings
func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("book")
	var req BookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.svc.Conflicts.Book(r.Context(), req.ShiftID, req.WorkerID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if out.Accepted {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// handleCancelBooking releases a booked shift.
// POST /api/bookings/{id}/cancel
func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel_booking")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Conflicts.CancelBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// RatingRequest is the body of POST /api/bookings/{id}/rating.
type RatingRequest struct {
	Rating int `json:"rating"`
}

// handleRateBooking rates a completed booking.
// POST /api/bookings/{id}/rating
func (s *HTTPServer) handleRateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("rate_booking")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := s.svc.Timesheets.RateBooking(r.Context(), id, req.Rating)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// SubmitTimesheetRequest is the body of POST /api/timesheets.
type SubmitTimesheetRequest struct {
	ShiftID     int64    `json:"shift_id"`
	WorkerID    int64    `json:"worker_id"`
	ActualHours *float64 `json:"actual_hours"`
}

// handleSubmitTimesheet reconciles reported hours against the shift.
// POST /api/timesheets
func (s *HTTPServer) handleSubmitTimesheet(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("submit_timesheet")
	var req SubmitTimesheetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ActualHours == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actual_hours is required", "field": "actual_hours"})
		return
	}
	ts, err := s.svc.Timesheets.Submit(r.Context(), req.ShiftID, req.WorkerID, *req.ActualHours)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ts)
}

// ReviewRequest is the body of POST /api/timesheets/{id}/review.
type ReviewRequest struct {
	Decision   timesheet.Decision `json:"decision"`
	ReviewerID int64              `json:"reviewer_id"`
	Note       string             `json:"note,omitempty"`
}

// handleReviewTimesheet records a manager decision on a held timesheet.
// POST /api/timesheets/{id}/review
func (s *HTTPServer) handleReviewTimesheet(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("review_timesheet")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ts, err := s.svc.Timesheets.Review(r.Context(), id, req.Decision, req.ReviewerID, req.Note)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}
