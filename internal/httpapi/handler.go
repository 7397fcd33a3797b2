package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/HMasataka/beacon/internal/logging"
	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error codes returned by the operator API.
const (
	CodeInvalidBody     = "INVALID_BODY"
	CodeInvalidCriteria = "INVALID_CRITERIA"
)

const maxBodyBytes = 1 << 20

// Hub is the programmatic surface the operator API drives
type Hub interface {
	domain.Broadcaster

	// NotifyTargeted is SendTargetedNotifications with the full report
	NotifyTargeted(ctx context.Context, criteria domain.TargetCriteria, req domain.UrgentRequest) (domain.DeliveryReport, error)
}

// TargetedRequest is the body of POST /api/notify/targeted
type TargetedRequest struct {
	Criteria domain.TargetCriteria `json:"criteria"`
	Payload  domain.UrgentRequest  `json:"payload"`
}

// TargetedResponse is the reply to POST /api/notify/targeted
type TargetedResponse struct {
	Matched int                   `json:"matched"`
	Report  domain.DeliveryReport `json:"report"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Handler routes operator requests to the hub
type Handler struct {
	hub      Hub
	gatherer prometheus.Gatherer
	errs     errors.Handler
}

// NewHandler creates a Handler. A nil gatherer leaves /metrics unmounted.
func NewHandler(hub Hub, gatherer prometheus.Gatherer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}

	return &Handler{
		hub:      hub,
		gatherer: gatherer,
		errs:     errors.NewDefaultHandler(logger.Logger),
	}
}

// Mount registers the operator routes on r
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.healthz)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/clients", h.clients)
		r.Post("/broadcast/emergency", h.broadcastEmergency)
		r.Post("/broadcast/weather", h.broadcastWeather)
		r.Post("/notify/targeted", h.notifyTargeted)
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	status := h.hub.Status()
	if !status.IsRunning {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Status())
}

func (h *Handler) clients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.ClientInfo())
}

func (h *Handler) broadcastEmergency(w http.ResponseWriter, r *http.Request) {
	var alert domain.EmergencyAlert
	if !h.decode(w, r, &alert) {
		return
	}

	report, err := h.hub.BroadcastEmergency(r.Context(), alert)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (h *Handler) broadcastWeather(w http.ResponseWriter, r *http.Request) {
	var warning domain.WeatherWarning
	if !h.decode(w, r, &warning) {
		return
	}

	report, err := h.hub.BroadcastWeatherWarning(r.Context(), warning)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (h *Handler) notifyTargeted(w http.ResponseWriter, r *http.Request) {
	var req TargetedRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := validateCriteria(req.Criteria); err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.hub.NotifyTargeted(r.Context(), req.Criteria, req.Payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TargetedResponse{Matched: report.Matched, Report: report})
}

func validateCriteria(c domain.TargetCriteria) error {
	if c.RadiusKm < 0 {
		return errors.New(errors.ErrorTypeValidation, CodeInvalidCriteria, "radiusKm cannot be negative")
	}
	if c.UserType != "" && !c.UserType.Valid() {
		return errors.New(errors.ErrorTypeValidation, CodeInvalidCriteria, "unknown user type").
			WithDetails(string(c.UserType))
	}
	if c.Location != nil && (c.Location.Lat < -90 || c.Location.Lat > 90 || c.Location.Lng < -180 || c.Location.Lng > 180) {
		return errors.New(errors.ErrorTypeValidation, CodeInvalidCriteria, "location out of range")
	}
	return nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		h.writeError(w, r, errors.Wrap(err, errors.ErrorTypeValidation, CodeInvalidBody, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.errs.Handle(r.Context(), err)

	e, ok := errors.As(err)
	if !ok {
		e = errors.Wrap(err, errors.ErrorTypeInternal, "INTERNAL_ERROR", "internal error")
	}

	writeJSON(w, e.HTTPStatus(), ErrorResponse{
		Code:    e.Code,
		Error:   e.Message,
		Details: e.Details,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
