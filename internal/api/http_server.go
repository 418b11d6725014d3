package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes    = 1 << 20
	requestIDHeader = "X-Request-ID"
	maxExportDays   = 366
)

// Backend is the reservation service as seen by the HTTP layer.
type Backend interface {
	domain.BookingBackend
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
	CancelBooking(ctx context.Context, id string, version int64) (*models.Booking, error)
}

// HTTPServer exposes the reservation backend and server-side drafts.
type HTTPServer struct {
	cfg      config.APIConfig
	backend  Backend
	drafts   domain.DraftStore
	location *time.Location
	logger   *zerolog.Logger
	server   *http.Server
	auth     *HTTPAuth
}

func NewHTTPServer(cfg config.APIConfig, backend Backend, drafts domain.DraftStore, location *time.Location, logger *zerolog.Logger) *HTTPServer {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, backend: backend, drafts: drafts, location: location, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /api/v1/services", srv.handleListServices)
	mux.HandleFunc("GET /api/v1/services/{id}", srv.handleGetService)
	mux.HandleFunc("GET /api/v1/services/{id}/availability", srv.handleAvailability)
	mux.HandleFunc("POST /api/v1/holds", srv.handleAcquireHold)
	mux.HandleFunc("DELETE /api/v1/holds/{id}", srv.handleReleaseHold)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleFinalize)
	mux.HandleFunc("GET /api/v1/bookings/export", srv.handleExport)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancelBooking)
	mux.HandleFunc("GET /api/v1/drafts/{session}", srv.handleLoadDraft)
	mux.HandleFunc("PUT /api/v1/drafts/{session}", srv.handleSaveDraft)
	mux.HandleFunc("DELETE /api/v1/drafts/{session}", srv.handleClearDraft)

	handler := loggingMiddleware(logger, srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.backend.ListServices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *HTTPServer) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.backend.GetService(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	date, err := s.parseDate("date", dateStr)
	if err != nil {
		writeError(w, err)
		return
	}

	serviceID := r.PathValue("id")
	slots, err := s.backend.ListAvailability(r.Context(), serviceID, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service_id": serviceID,
		"date":       dateStr,
		"slots":      slots,
	})
}

type acquireHoldRequest struct {
	SlotID    string `json:"slot_id"`
	SessionID string `json:"session_id"`
}

func (s *HTTPServer) handleAcquireHold(w http.ResponseWriter, r *http.Request) {
	var body acquireHoldRequest
	if !decodeBody(w, r, &body) {
		return
	}
	hold, err := s.backend.AcquireHold(r.Context(), body.SlotID, body.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

func (s *HTTPServer) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ReleaseHold(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var body models.FinalizeRequest
	if !decodeBody(w, r, &body) {
		return
	}
	booking, err := s.backend.FinalizeBooking(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.backend.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type cancelBookingRequest struct {
	Version int64 `json:"version"`
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var body cancelBookingRequest
	if !decodeBody(w, r, &body) {
		return
	}
	booking, err := s.backend.CancelBooking(r.Context(), r.PathValue("id"), body.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// handleExport streams bookings starting within [from, to] as XLSX. Both
// dates are inclusive calendar days in the booking timezone.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	verr := &domain.ValidationError{}
	from, err := s.parseDate("from", q.Get("from"))
	if err != nil {
		verr.Add("from", "must be a date in YYYY-MM-DD format")
	}
	to, err := s.parseDate("to", q.Get("to"))
	if err != nil {
		verr.Add("to", "must be a date in YYYY-MM-DD format")
	}
	if !verr.Has("from") && !verr.Has("to") {
		if to.Before(from) {
			verr.Add("to", "must not be before from")
		} else if to.Sub(from) > maxExportDays*24*time.Hour {
			verr.Add("to", fmt.Sprintf("period must not exceed %d days", maxExportDays))
		}
	}
	if err := verr.OrNil(); err != nil {
		writeError(w, err)
		return
	}

	bookings, err := s.backend.ListBookings(r.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format(models.DateLayout), to.Format(models.DateLayout))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := WriteBookingsXLSX(w, bookings, from, to, s.location); err != nil {
		s.logger.Error().Err(err).Msg("export bookings")
	}
}

func (s *HTTPServer) handleLoadDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.drafts.Load(r.Context(), r.PathValue("session"))
	if err != nil {
		writeError(w, err)
		return
	}
	if draft == nil {
		writeMessage(w, http.StatusNotFound, "draft not found")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *HTTPServer) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var draft models.BookingDraft
	if !decodeBody(w, r, &draft) {
		return
	}
	session := r.PathValue("session")
	if draft.SessionID == "" {
		draft.SessionID = session
	}
	if draft.SessionID != session {
		verr := &domain.ValidationError{}
		verr.Add("session_id", "must match the URL")
		writeError(w, verr)
		return
	}
	if err := s.drafts.Save(r.Context(), &draft); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.drafts.Clear(r.Context(), r.PathValue("session")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	verr := &domain.ValidationError{}
	if raw == "" {
		verr.Add(field, "is required")
		return time.Time{}, verr
	}
	date, err := time.ParseInLocation(models.DateLayout, raw, s.location)
	if err != nil {
		verr.Add(field, "must be a date in YYYY-MM-DD format")
		return time.Time{}, verr
	}
	return date, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	base := logger.With().Str("component", "http").Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint, strconv.Itoa(recorder.status))

		base.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
