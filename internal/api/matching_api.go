package api

import (
	"net/http"
	"strconv"
	"time"

	"rota/internal/metrics"
	"rota/internal/models"
)

// handleEligibleShifts lists open shifts the worker qualifies for.
// GET /api/workers/{id}/eligible-shifts
func (s *HTTPServer) handleEligibleShifts(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("eligible_shifts")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shifts, err := s.svc.Matching.FindEligibleShifts(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"shifts": shifts})
}

// handleEligibleWorkers lists workers who qualify for the shift.
// GET /api/shifts/{id}/eligible-workers
func (s *HTTPServer) handleEligibleWorkers(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("eligible_workers")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	workers, err := s.svc.Matching.FindEligibleWorkers(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workers": workers})
}

// handleEligibility explains one worker/shift pairing.
// GET /api/workers/{id}/eligibility?shift_id=N
func (s *HTTPServer) handleEligibility(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("eligibility")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shiftID, err := strconv.ParseInt(r.URL.Query().Get("shift_id"), 10, 64)
	if err != nil || shiftID <= 0 {
		writeError(w, http.StatusBadRequest, "shift_id is required")
		return
	}
	verdict, err := s.svc.Matching.Check(r.Context(), id, shiftID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// ConflictCheckRequest is the body of POST /api/conflicts/check.
type ConflictCheckRequest struct {
	WorkerID int64     `json:"worker_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// handleCheckConflict reports whether an interval would double-book a worker.
// POST /api/conflicts/check
func (s *HTTPServer) handleCheckConflict(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("conflict_check")
	var req ConflictCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.svc.Conflicts.CheckConflict(r.Context(), req.WorkerID, models.Interval{Start: req.Start, End: req.End})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accepted": d.Accepted, "conflicts": d.Conflicts})
}

// CreateWorkerRequest is the body of POST /api/workers.
type CreateWorkerRequest struct {
	Name           string              `json:"name"`
	Skills         []string            `json:"skills"`
	Availability   models.Availability `json:"availability"`
	Location       *models.GeoPoint    `json:"location,omitempty"`
	RadiusMiles    float64             `json:"radius_miles"`
	TelegramChatID int64               `json:"telegram_chat_id,omitempty"`
}

// handleCreateWorker registers a worker profile.
// POST /api/workers
func (s *HTTPServer) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_worker")
	var req CreateWorkerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	worker := &models.Worker{
		Name:           req.Name,
		Skills:         req.Skills,
		Availability:   req.Availability,
		Location:       req.Location,
		RadiusMiles:    req.RadiusMiles,
		TelegramChatID: req.TelegramChatID,
	}
	if err := worker.Validate(); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.svc.Workers.CreateWorker(r.Context(), worker); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

// handleGetWorker returns a worker with aggregate stats.
// GET /api/workers/{id}
func (s *HTTPServer) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_worker")
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	worker, err := s.svc.Workers.GetWorker(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}
