package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
	"github.com/couchcryptid/disaster-alert-service/internal/monitor"
)

const (
	defaultLocation = "Mumbai"
	maxBodyBytes    = 1 << 16
)

type errorResponse struct {
	Detail string `json:"detail"`
}

type refreshResponse struct {
	Message         string   `json:"message"`
	MonitoredPlaces []string `json:"monitored_places"`
}

type registerRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Email        string `json:"email" validate:"required,email,max=254"`
	HomeLocation string `json:"home_location" validate:"required,max=100"`
}

// handleWeather serves GET /weather?location=<name>&simulation=<scenario>.
// A missing location defaults to Mumbai; a blank one is rejected.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location := defaultLocation
	if q.Has("location") {
		location = q.Get("location")
	}

	report, err := s.monitor.Assess(r.Context(), location, q.Get("simulation"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.monitor.TriggerRefresh()
	sharedobs.WriteJSON(w, http.StatusOK, refreshResponse{
		Message:         "Global weather refresh started in background",
		MonitoredPlaces: s.monitor.MonitoredPlaces(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.HomeLocation = strings.TrimSpace(req.HomeLocation)
	if err := s.validate.Struct(req); err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, errorResponse{Detail: validationMessage(err)})
		return
	}

	sub, err := s.subscribers.Register(r.Context(), domain.Subscriber{
		Name:         req.Name,
		Email:        req.Email,
		HomeLocation: req.HomeLocation,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("subscriber registered", "subscriber_id", sub.ID, "home_location", sub.HomeLocation)
	sharedobs.WriteJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.subscribers.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors to status codes. Unexpected errors are logged
// and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		detail = "internal error"
	}
	sharedobs.WriteJSON(w, status, errorResponse{Detail: detail})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrEmptyLocation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLocationNotFound),
		errors.Is(err, domain.ErrScenarioNotFound),
		errors.Is(err, domain.ErrSubscriberNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSubscriberExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrWeatherUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}
