package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rota/internal/export"
	"rota/internal/metrics"
	"rota/internal/models"
	"rota/internal/rota"
)

// PublishRequest is the body of POST /api/rota/publish.
type PublishRequest struct {
	BusinessID  int64  `json:"business_id"`
	WeekStart   string `json:"week_start"`
	PublishedBy int64  `json:"published_by"`
}

// handlePublishRota publishes a business's draft shifts for one week.
// POST /api/rota/publish
func (s *HTTPServer) handlePublishRota(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("publish_rota")
	var req PublishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.svc.Rota.PublishRota(r.Context(), req.BusinessID, req.WeekStart, req.PublishedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateShiftRequest is the body of POST /api/shifts.
type CreateShiftRequest struct {
	BusinessID     int64            `json:"business_id"`
	Role           string           `json:"role"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	Timezone       string           `json:"timezone"`
	RequiredSkills []string         `json:"required_skills"`
	Location       *models.GeoPoint `json:"location,omitempty"`
	HourlyRate     float64          `json:"hourly_rate"`
}

// handleCreateShift drafts a shift.
// POST /api/shifts
func (s *HTTPServer) handleCreateShift(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_shift")
	var req CreateShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	shift := &models.Shift{
		BusinessID:     req.BusinessID,
		Role:           req.Role,
		Start:          req.Start,
		End:            req.End,
		Timezone:       req.Timezone,
		RequiredSkills: req.RequiredSkills,
		Location:       req.Location,
		HourlyRate:     req.HourlyRate,
	}
	if err := s.svc.Rota.CreateShift(r.Context(), shift); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

// handleGetShift returns a shift and its revision trail.
// GET /api/shifts/{id}
func (s *HTTPServer) handleGetShift(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_shift")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shift, revs, err := s.svc.Rota.GetShift(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if revs == nil {
		revs = []models.ShiftRevision{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"shift": shift, "revisions": revs})
}

// ReviseShiftRequest is the body of PATCH /api/shifts/{id}.
type ReviseShiftRequest struct {
	rota.ShiftChanges
	EditedBy int64 `json:"edited_by"`
}

// handleReviseShift edits a shift; published ones keep a revision trail.
// PATCH /api/shifts/{id}
func (s *HTTPServer) handleReviseShift(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("revise_shift")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ReviseShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.svc.Rota.ReviseShift(r.Context(), id, req.ShiftChanges, req.EditedBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCancelShift cancels a shift and its live booking.
// POST /api/shifts/{id}/cancel
func (s *HTTPServer) handleCancelShift(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel_shift")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shift, err := s.svc.Rota.CancelShift(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// handleExportTimesheets streams the payroll workbook for shifts starting
// between from and to inclusive (UTC dates).
// GET /api/timesheets/export?business_id=N&from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleExportTimesheets(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export_timesheets")
	q := r.URL.Query()

	businessID, err := strconv.ParseInt(q.Get("business_id"), 10, 64)
	if err != nil || businessID <= 0 {
		writeError(w, http.StatusBadRequest, "business_id is required")
		return
	}
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
		return
	}

	var buf bytes.Buffer
	if _, err := s.svc.Export.ExportTimesheets(r.Context(), businessID, from, to.AddDate(0, 0, 1), &buf); err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="timesheets_%d_%s_%s.xlsx"`, businessID, q.Get("from"), q.Get("to")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
