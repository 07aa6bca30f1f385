// Package api exposes the scheduling services over HTTP/JSON.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rota/internal/conflict"
	"rota/internal/export"
	"rota/internal/matching"
	"rota/internal/models"
	"rota/internal/rota"
	"rota/internal/timesheet"

	"github.com/rs/zerolog"
)

// WorkerStore manages worker profiles.
type WorkerStore interface {
	CreateWorker(ctx context.Context, w *models.Worker) error
	GetWorker(ctx context.Context, id int64) (*models.Worker, error)
}

// Services are the domain services behind the routes.
type Services struct {
	Matching   *matching.Service
	Conflicts  *conflict.Service
	Timesheets *timesheet.Service
	Rota       *rota.Service
	Export     *export.Service
	Workers    WorkerStore
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	server *http.Server
	svc    Services
	apiKey string
	logger *zerolog.Logger
}

// NewHTTPServer builds the server. An empty apiKey disables authentication.
func NewHTTPServer(port int, apiKey string, svc Services, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{svc: svc, apiKey: apiKey, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/workers/{id}/eligible-shifts", s.handleEligibleShifts)
	mux.HandleFunc("GET /api/shifts/{id}/eligible-workers", s.handleEligibleWorkers)
	mux.HandleFunc("POST /api/conflicts/check", s.handleCheckConflict)

	mux.HandleFunc("POST /api/bookings", s.handleBook)
	mux.HandleFunc("POST /api/bookings/{id}/cancel", s.handleCancelBooking)
	mux.HandleFunc("POST /api/bookings/{id}/rating", s.handleRateBooking)

	mux.HandleFunc("POST /api/timesheets", s.handleSubmitTimesheet)
	mux.HandleFunc("POST /api/timesheets/{id}/review", s.handleReviewTimesheet)
	mux.HandleFunc("GET /api/timesheets/export", s.handleExportTimesheets)

	mux.HandleFunc("POST /api/rota/publish", s.handlePublishRota)
	mux.HandleFunc("POST /api/shifts", s.handleCreateShift)
	mux.HandleFunc("GET /api/shifts/{id}", s.handleGetShift)
	mux.HandleFunc("PATCH /api/shifts/{id}", s.handleReviseShift)
	mux.HandleFunc("POST /api/shifts/{id}/cancel", s.handleCancelShift)

	mux.HandleFunc("POST /api/workers", s.handleCreateWorker)
	mux.HandleFunc("GET /api/workers/{id}", s.handleGetWorker)
	mux.HandleFunc("GET /api/workers/{id}/eligibility", s.handleEligibility)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.withLogging(s.withAPIKey(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the routed handler, middleware included.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) withAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			got := r.Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(started)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors to status codes. Anything unknown is
// treated as a transient dependency failure the client may retry.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": err.Error(), "retriable": true})
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrShiftUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":     "temporarily unavailable",
			"retriable": true,
		})
	}
}

// decodeJSON reads a strict JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
