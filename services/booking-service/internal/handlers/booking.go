package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pawtrack/vetbook/libs/httpx"
	"github.com/pawtrack/vetbook/services/booking-service/internal/availability"
	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
	"github.com/pawtrack/vetbook/services/booking-service/internal/publicindex"
)

// PublicSchedule reads the cached per-day booking index.
type PublicSchedule interface {
	Schedule(ctx context.Context, practitionerID string, date model.Date) ([]publicindex.Entry, error)
}

type BookingHandler struct {
	engine *availability.Engine
	public PublicSchedule
	logger *slog.Logger
}

// NewBookingHandler wires the HTTP surface. public may be nil, in which case
// the public schedule endpoint answers 503.
func NewBookingHandler(engine *availability.Engine, public PublicSchedule, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, public: public, logger: logger}
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/slots", httpx.Only(http.MethodGet, h.Slots))
	mux.HandleFunc("/api/v1/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/appointments/confirm", httpx.Only(http.MethodPost, h.Confirm))
	mux.HandleFunc("/api/v1/appointments/cancel", httpx.Only(http.MethodPost, h.Cancel))
	mux.HandleFunc("/api/v1/practitioners/schedule", h.Schedule)
	mux.HandleFunc("/api/v1/public/schedule", httpx.Only(http.MethodGet, h.PublicSchedule))
}

type createAppointmentRequest struct {
	PractitionerID string `json:"practitioner_id"`
	PetID          string `json:"pet_id"`
	OwnerID        string `json:"owner_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Reason         string `json:"reason"`
	Notes          string `json:"notes"`
}

type statusChangeRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type appointmentItem struct {
	AppointmentID  string `json:"appointment_id"`
	PractitionerID string `json:"practitioner_id"`
	PetID          string `json:"pet_id"`
	OwnerID        string `json:"owner_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Reason         string `json:"reason,omitempty"`
	Notes          string `json:"notes,omitempty"`
	Status         string `json:"status"`
	CancelledAt    string `json:"cancelled_at,omitempty"`
	CancelReason   string `json:"cancellation_reason,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:  appt.ID,
		PractitionerID: appt.PractitionerID,
		PetID:          appt.PetID,
		OwnerID:        appt.OwnerID,
		Date:           appt.Date.String(),
		Time:           appt.Time.String(),
		Reason:         appt.Reason,
		Notes:          appt.Notes,
		Status:         string(appt.Status),
		CancelReason:   appt.CancelReason,
		CreatedAt:      appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	practitionerID := strings.TrimSpace(r.URL.Query().Get("practitioner_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if practitionerID == "" || dateStr == "" {
		httpx.WriteError(w, http.StatusBadRequest, "practitioner_id and date are required")
		return
	}
	date, err := model.ParseDate(dateStr)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid date")
		return
	}

	slots, err := h.engine.Slots(r.Context(), practitionerID, date)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slots)
}

func (h *BookingHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodDelete:
		h.Delete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

const idempotencyKeyHeader = "Idempotency-Key"

// Create books a slot. With an Idempotency-Key header a retried request gets
// the appointment its first attempt created, with the same 201.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	// Blank date or time stays nil and is reported as an incomplete selection.
	booking := availability.BookingRequest{
		PractitionerID: req.PractitionerID,
		PetID:          req.PetID,
		OwnerID:        req.OwnerID,
		Reason:         req.Reason,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	}
	if strings.TrimSpace(req.Date) != "" {
		date, err := model.ParseDate(req.Date)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid date")
			return
		}
		booking.Date = &date
	}
	if strings.TrimSpace(req.Time) != "" {
		tod, err := model.ParseTimeOfDay(req.Time)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid time")
			return
		}
		booking.Time = &tod
	}

	appt, err := h.engine.Book(r.Context(), booking)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toItem(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.Header.Get("X-Owner-Id"))
	if ownerID == "" {
		ownerID = strings.TrimSpace(r.URL.Query().Get("owner_id"))
	}
	if ownerID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "owner_id required")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.engine.AppointmentsByOwner(r.Context(), ownerID, limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toItem(appt))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	appt, err := h.engine.Confirm(r.Context(), strings.TrimSpace(req.AppointmentID))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	appt, err := h.engine.Cancel(r.Context(), strings.TrimSpace(req.AppointmentID), req.Reason)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}

func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if err := h.engine.Remove(r.Context(), id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		practitionerID := strings.TrimSpace(r.URL.Query().Get("practitioner_id"))
		if practitionerID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "practitioner_id required")
			return
		}
		s, err := h.engine.Schedule(r.Context(), practitionerID)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, calendar.DocumentOf(s))
	case http.MethodPut:
		var doc calendar.Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		s, err := doc.WorkSchedule()
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.engine.SaveSchedule(r.Context(), s); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, calendar.DocumentOf(s))
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BookingHandler) PublicSchedule(w http.ResponseWriter, r *http.Request) {
	if h.public == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "public schedule not configured")
		return
	}
	practitionerID := strings.TrimSpace(r.URL.Query().Get("practitioner_id"))
	date, err := model.ParseDate(r.URL.Query().Get("date"))
	if practitionerID == "" || err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "practitioner_id and a valid date are required")
		return
	}
	entries, err := h.public.Schedule(r.Context(), practitionerID, date)
	if err != nil {
		httpx.Logger(r.Context(), h.logger).Error("public schedule read failed", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "public schedule unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

// writeEngineError maps engine errors to statuses. Persistence failures are
// reported as 503 so clients retry after refreshing.
func (h *BookingHandler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *calendar.InvalidScheduleError
	var perr *availability.PersistenceError
	switch {
	case errors.Is(err, availability.ErrIncompleteSelection):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, availability.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, availability.ErrBookingConflict):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, availability.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, availability.ErrIdempotencyKey):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, availability.ErrSlotNotOffered):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &invalid):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &perr):
		httpx.Logger(r.Context(), h.logger).Error("persistence failure", "op", perr.Op, "err", perr.Err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "storage unavailable, try again")
	default:
		httpx.Logger(r.Context(), h.logger).Error("unexpected engine error", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
