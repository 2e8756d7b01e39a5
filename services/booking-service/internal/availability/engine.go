package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

// Directory supplies practitioners' work schedules.
type Directory interface {
	WorkSchedule(ctx context.Context, practitionerID string) (calendar.WorkSchedule, error)
	SaveWorkSchedule(ctx context.Context, schedule calendar.WorkSchedule) error
}

// Store persists appointments. Insert must fail with model.ErrSlotTaken when a
// non-cancelled appointment already holds the same (practitioner, date, time).
type Store interface {
	ListActive(ctx context.Context, practitionerID string) ([]model.AppointmentRecord, error)
	// Insert stores appt. A non-empty idempotencyKey is bound to it atomically;
	// a key the owner already used fails with model.ErrKeyInUse.
	Insert(ctx context.Context, appt model.Appointment, idempotencyKey string) error
	FindByIdempotencyKey(ctx context.Context, ownerID, idempotencyKey string) (model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, from, to model.Status, reason string, at time.Time) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.Appointment, error)
}

// ScheduleIndex mirrors bookings into the practitioner's public schedule.
type ScheduleIndex interface {
	Record(ctx context.Context, appt model.Appointment) error
	Forget(ctx context.Context, appt model.Appointment) error
}

type Config struct {
	// CommitTimeout bounds each write. Zero means 5s.
	CommitTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

type Engine struct {
	directory     Directory
	store         Store
	index         ScheduleIndex
	logger        *slog.Logger
	tracer        trace.Tracer
	commitTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

// NewEngine wires the engine. index may be nil.
func NewEngine(directory Directory, store Store, index ScheduleIndex, logger *slog.Logger, cfg Config) *Engine {
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		directory:     directory,
		store:         store,
		index:         index,
		logger:        logger,
		tracer:        otel.Tracer("availability"),
		commitTimeout: cfg.CommitTimeout,
		now:           cfg.Now,
		newID:         cfg.NewID,
	}
}

// Slots loads the practitioner's schedule and current appointments and lists
// the slots for date.
func (e *Engine) Slots(ctx context.Context, practitionerID string, date model.Date) ([]TimeSlot, error) {
	practitionerID = strings.TrimSpace(practitionerID)
	ctx, span := e.tracer.Start(ctx, "availability.Slots", trace.WithAttributes(
		attribute.String("practitioner.id", practitionerID),
		attribute.String("date", date.String()),
	))
	defer span.End()

	if practitionerID == "" || date.IsZero() {
		return nil, fmt.Errorf("%w: practitioner and date are required", ErrIncompleteSelection)
	}
	slots, err := e.currentSlots(ctx, practitionerID, date)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return slots, nil
}

type BookingRequest struct {
	PractitionerID string
	PetID          string
	OwnerID        string
	Date           *model.Date
	Time           *model.TimeOfDay
	Reason         string
	Notes          string
	// IdempotencyKey makes retries safe: a repeat of the same booking with the
	// same key returns the appointment the first attempt created.
	IdempotencyKey string
}

const maxIdempotencyKeyLen = 255

// sameBooking reports whether appt is what r would have created.
func (r BookingRequest) sameBooking(appt model.Appointment) bool {
	return appt.PractitionerID == r.PractitionerID &&
		appt.PetID == r.PetID &&
		appt.Date == *r.Date &&
		appt.Time == *r.Time
}

func (r BookingRequest) trimmed() BookingRequest {
	r.PractitionerID = strings.TrimSpace(r.PractitionerID)
	r.PetID = strings.TrimSpace(r.PetID)
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	r.Reason = strings.TrimSpace(r.Reason)
	r.Notes = strings.TrimSpace(r.Notes)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	return r
}

func (r BookingRequest) missing() []string {
	var missing []string
	if r.PractitionerID == "" {
		missing = append(missing, "practitioner")
	}
	if r.PetID == "" {
		missing = append(missing, "pet")
	}
	if r.OwnerID == "" {
		missing = append(missing, "owner")
	}
	if r.Date == nil || r.Date.IsZero() {
		missing = append(missing, "date")
	}
	if r.Time == nil || !r.Time.Valid() {
		missing = append(missing, "time")
	}
	return missing
}

// Book reserves the requested slot and returns the new pending appointment.
//
// Availability is checked against the latest appointments, then the insert is
// left to the store's conditional write; a rejected write surfaces as
// ErrBookingConflict. Infrastructure failures and timeouts surface as
// *PersistenceError.
func (e *Engine) Book(ctx context.Context, req BookingRequest) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "availability.Book")
	defer span.End()

	req = req.trimmed()
	if missing := req.missing(); len(missing) > 0 {
		return model.Appointment{}, fmt.Errorf("%w: missing %s", ErrIncompleteSelection, strings.Join(missing, ", "))
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return model.Appointment{}, fmt.Errorf("%w: longer than %d bytes", ErrIdempotencyKey, maxIdempotencyKeyLen)
	}
	date, tod := *req.Date, *req.Time
	if req.IdempotencyKey != "" {
		appt, found, err := e.replay(ctx, req)
		if err != nil || found {
			if err != nil {
				recordError(span, err)
			}
			return appt, err
		}
	}
	span.SetAttributes(
		attribute.String("practitioner.id", req.PractitionerID),
		attribute.String("date", date.String()),
		attribute.String("time", tod.String()),
	)

	slots, err := e.currentSlots(ctx, req.PractitionerID, date)
	if err != nil {
		recordError(span, err)
		return model.Appointment{}, err
	}
	slot, ok := findSlot(slots, tod)
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: %s %s", ErrSlotNotOffered, date, tod)
	}
	if slot.Status == SlotBooked {
		if req.IdempotencyKey != "" {
			if prior, found, err := e.replay(ctx, req); err != nil || found {
				return prior, err
			}
		}
		return model.Appointment{}, ErrBookingConflict
	}

	appt := model.Appointment{
		ID:             e.newID(),
		PractitionerID: req.PractitionerID,
		PetID:          req.PetID,
		OwnerID:        req.OwnerID,
		Date:           date,
		Time:           tod,
		Reason:         req.Reason,
		Notes:          req.Notes,
		Status:         model.StatusPending,
		CreatedAt:      e.now().UTC(),
	}

	commitCtx, cancel := context.WithTimeout(ctx, e.commitTimeout)
	err = e.store.Insert(commitCtx, appt, req.IdempotencyKey)
	cancel()
	if err != nil {
		if req.IdempotencyKey != "" && (errors.Is(err, model.ErrSlotTaken) || errors.Is(err, model.ErrKeyInUse)) {
			// A concurrent attempt with the same key may have won.
			if prior, found, rerr := e.replay(ctx, req); rerr != nil || found {
				return prior, rerr
			}
		}
		if errors.Is(err, model.ErrSlotTaken) {
			e.logger.Info("booking lost race", "practitioner_id", appt.PractitionerID, "date", date.String(), "time", tod.String())
			return model.Appointment{}, ErrBookingConflict
		}
		if errors.Is(err, model.ErrKeyInUse) {
			return model.Appointment{}, ErrIdempotencyKey
		}
		perr := &PersistenceError{Op: "insert appointment", Err: err}
		recordError(span, perr)
		return model.Appointment{}, perr
	}

	if e.index != nil {
		if err := e.index.Record(ctx, appt); err != nil {
			e.logger.Warn("public schedule index write failed", "err", err, "appointment_id", appt.ID)
		}
	}
	e.logger.Info("appointment booked", "appointment_id", appt.ID, "practitioner_id", appt.PractitionerID,
		"date", date.String(), "time", tod.String())
	return appt, nil
}

// replay looks up the appointment an earlier attempt with the same key
// created. A key bound to a different booking is ErrIdempotencyKey.
func (e *Engine) replay(ctx context.Context, req BookingRequest) (model.Appointment, bool, error) {
	prior, err := e.store.FindByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return model.Appointment{}, false, nil
	case err != nil:
		return model.Appointment{}, false, &PersistenceError{Op: "load idempotency key", Err: err}
	case !req.sameBooking(prior):
		return model.Appointment{}, false, fmt.Errorf("%w: key was used for appointment %s", ErrIdempotencyKey, prior.ID)
	}
	e.logger.Info("booking replayed", "appointment_id", prior.ID, "owner_id", req.OwnerID)
	return prior, true, nil
}

// Confirm moves a pending appointment to confirmed.
func (e *Engine) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	return e.transition(ctx, id, model.StatusConfirmed, "")
}

// Cancel frees the appointment's slot. Cancelling an already cancelled
// appointment returns it unchanged.
func (e *Engine) Cancel(ctx context.Context, id, reason string) (model.Appointment, error) {
	return e.transition(ctx, id, model.StatusCancelled, reason)
}

func (e *Engine) transition(ctx context.Context, id string, to model.Status, reason string) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "availability.Transition", trace.WithAttributes(
		attribute.String("appointment.id", id),
		attribute.String("status", string(to)),
	))
	defer span.End()

	reason = strings.TrimSpace(reason)
	appt, err := e.get(ctx, id)
	if err != nil {
		recordError(span, err)
		return model.Appointment{}, err
	}
	if appt.Status == to && to == model.StatusCancelled {
		return appt, nil
	}
	if !appt.Status.CanTransition(to) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	at := e.now().UTC()
	commitCtx, cancel := context.WithTimeout(ctx, e.commitTimeout)
	err = e.store.UpdateStatus(commitCtx, id, appt.Status, to, reason, at)
	cancel()
	switch {
	case errors.Is(err, model.ErrStatusChanged):
		return model.Appointment{}, fmt.Errorf("%w: appointment %s changed concurrently", ErrInvalidTransition, id)
	case errors.Is(err, model.ErrNotFound):
		return model.Appointment{}, ErrNotFound
	case err != nil:
		perr := &PersistenceError{Op: "update status", Err: err}
		recordError(span, perr)
		return model.Appointment{}, perr
	}

	appt.Status = to
	if to == model.StatusCancelled {
		appt.CancelledAt = &at
		appt.CancelReason = reason
		e.forget(ctx, appt)
	}
	e.logger.Info("appointment status changed", "appointment_id", id, "status", string(to))
	return appt, nil
}

// Remove hard-deletes an appointment. Cancel is preferred since it keeps the
// audit trail; this exists for administrative cleanup.
func (e *Engine) Remove(ctx context.Context, id string) error {
	appt, err := e.get(ctx, id)
	if err != nil {
		return err
	}
	commitCtx, cancel := context.WithTimeout(ctx, e.commitTimeout)
	err = e.store.Delete(commitCtx, id)
	cancel()
	if errors.Is(err, model.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return &PersistenceError{Op: "delete appointment", Err: err}
	}
	if appt.Status != model.StatusCancelled {
		e.forget(ctx, appt)
	}
	e.logger.Info("appointment removed", "appointment_id", id)
	return nil
}

func (e *Engine) Appointment(ctx context.Context, id string) (model.Appointment, error) {
	return e.get(ctx, id)
}

// AppointmentsByOwner lists an owner's appointments, newest first.
func (e *Engine) AppointmentsByOwner(ctx context.Context, ownerID string, limit int) ([]model.Appointment, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrIncompleteSelection)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	appts, err := e.store.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list appointments", Err: err}
	}
	return appts, nil
}

// Schedule returns a practitioner's work schedule.
func (e *Engine) Schedule(ctx context.Context, practitionerID string) (calendar.WorkSchedule, error) {
	practitionerID = strings.TrimSpace(practitionerID)
	s, err := e.directory.WorkSchedule(ctx, practitionerID)
	if errors.Is(err, model.ErrNotFound) {
		return calendar.WorkSchedule{}, fmt.Errorf("%w: no schedule for practitioner %s", ErrNotFound, practitionerID)
	}
	if err != nil {
		return calendar.WorkSchedule{}, &PersistenceError{Op: "load schedule", Err: err}
	}
	return s, nil
}

// SaveSchedule validates and stores a work schedule.
func (e *Engine) SaveSchedule(ctx context.Context, s calendar.WorkSchedule) error {
	s.PractitionerID = strings.TrimSpace(s.PractitionerID)
	if s.PractitionerID == "" {
		return fmt.Errorf("%w: practitioner is required", ErrIncompleteSelection)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := e.directory.SaveWorkSchedule(ctx, s); err != nil {
		return &PersistenceError{Op: "save schedule", Err: err}
	}
	return nil
}

func (e *Engine) currentSlots(ctx context.Context, practitionerID string, date model.Date) ([]TimeSlot, error) {
	schedule, err := e.Schedule(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	records, err := e.store.ListActive(ctx, practitionerID)
	if err != nil {
		return nil, &PersistenceError{Op: "list appointments", Err: err}
	}
	return ListSlots(schedule, records, date)
}

func (e *Engine) get(ctx context.Context, id string) (model.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return model.Appointment{}, fmt.Errorf("%w: appointment id is required", ErrIncompleteSelection)
	}
	appt, err := e.store.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, &PersistenceError{Op: "load appointment", Err: err}
	}
	return appt, nil
}

func (e *Engine) forget(ctx context.Context, appt model.Appointment) {
	if e.index == nil {
		return
	}
	if err := e.index.Forget(ctx, appt); err != nil {
		e.logger.Warn("public schedule index removal failed", "err", err, "appointment_id", appt.ID)
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
