package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pawtrack/vetbook/libs/db"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
	"github.com/pawtrack/vetbook/services/booking-service/internal/outbox"
)

// activeSlotIndex is the partial unique index over (practitioner_id,
// appointment_date, appointment_time) for rows whose status is not cancelled.
const activeSlotIndex = "appointments_active_slot_key"

// requestKeyConstraint is the primary key of booking_requests, (owner_id,
// idempotency_key).
const requestKeyConstraint = "booking_requests_pkey"

// normalizedStatus reads legacy statuses the way model.ParseStatus does.
const normalizedStatus = `COALESCE(NULLIF(lower(btrim(status)), ''), 'pending')`

const appointmentColumns = `id::text, practitioner_id, pet_id, owner_id, appointment_date, appointment_time,
	reason, notes, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at`

const qualifiedColumns = `a.id::text, a.practitioner_id, a.pet_id, a.owner_id, a.appointment_date, a.appointment_time,
	a.reason, a.notes, a.status, a.cancelled_at, COALESCE(a.cancellation_reason, ''), a.created_at`

// AppointmentRepository stores appointments in Postgres. Every state change
// writes its outbox event in the same transaction.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

func (r *AppointmentRepository) ListActive(ctx context.Context, practitionerID string) ([]model.AppointmentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
			AND `+normalizedStatus+` <> 'cancelled'
		ORDER BY appointment_date ASC, appointment_time ASC
	`, practitionerID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// Insert relies on the active slot index: a concurrent booking of the same slot
// fails with a unique violation, reported as model.ErrSlotTaken. A non-empty
// idempotencyKey is recorded in the same transaction; a key the owner already
// used fails with model.ErrKeyInUse.
func (r *AppointmentRepository) Insert(ctx context.Context, appt model.Appointment, idempotencyKey string) error {
	rec := appt.Record()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, practitioner_id, pet_id, owner_id, appointment_date, appointment_time, reason, notes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.PractitionerID, rec.PetID, rec.OwnerID, rec.Date, rec.Time, rec.Reason, rec.Notes, rec.Status, rec.CreatedAt)
	if err != nil {
		if IsSlotConflict(err) {
			return model.ErrSlotTaken
		}
		return err
	}

	if idempotencyKey != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO booking_requests (owner_id, idempotency_key, appointment_id)
			VALUES ($1, $2, $3)
		`, rec.OwnerID, idempotencyKey, rec.ID)
		if err != nil {
			if isUniqueViolation(err, requestKeyConstraint) {
				return model.ErrKeyInUse
			}
			return err
		}
	}

	if err := r.writeEvent(ctx, tx, outbox.EventAppointmentBooked, appt, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindByIdempotencyKey returns the appointment the owner created with key.
func (r *AppointmentRepository) FindByIdempotencyKey(ctx context.Context, ownerID, idempotencyKey string) (model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+qualifiedColumns+`
		FROM booking_requests br
		JOIN appointments a ON a.id = br.appointment_id
		WHERE br.owner_id = $1 AND br.idempotency_key = $2
	`, ownerID, idempotencyKey)
	if err != nil {
		return model.Appointment{}, err
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return model.Appointment{}, err
	}
	if len(recs) == 0 {
		return model.Appointment{}, model.ErrNotFound
	}
	return parseStored(recs[0])
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1
	`, id)
	if err != nil {
		return model.Appointment{}, err
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return model.Appointment{}, err
	}
	if len(recs) == 0 {
		return model.Appointment{}, model.ErrNotFound
	}
	return parseStored(recs[0])
}

// UpdateStatus applies the change only if the row still has status from.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, from, to model.Status, reason string, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cancelledAt *time.Time
	var cancelReason *string
	if to == model.StatusCancelled {
		cancelledAt = &at
		cancelReason = &reason
	}
	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = $3,
			cancelled_at = COALESCE($4, cancelled_at),
			cancellation_reason = COALESCE($5, cancellation_reason)
		WHERE id::text = $1 AND `+normalizedStatus+` = $2
		RETURNING `+appointmentColumns, id, string(from), string(to), cancelledAt, cancelReason)
	if err != nil {
		return err
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id::text = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return model.ErrNotFound
		}
		return model.ErrStatusChanged
	}

	appt, err := parseStored(recs[0])
	if err != nil {
		return err
	}
	eventType := outbox.EventAppointmentConfirmed
	extra := map[string]any{}
	if to == model.StatusCancelled {
		eventType = outbox.EventAppointmentCancelled
		extra["cancelled_at"] = at.UTC().Format(time.RFC3339)
		extra["reason"] = reason
	}
	if err := r.writeEvent(ctx, tx, eventType, appt, extra); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		DELETE FROM appointments
		WHERE id::text = $1
		RETURNING `+appointmentColumns, id)
	if err != nil {
		return err
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return model.ErrNotFound
	}
	// Legacy rows may not parse; the event then carries only the raw record.
	appt, ok := model.TryParseAppointment(recs[0])
	if !ok {
		appt = model.Appointment{ID: recs[0].ID, PractitionerID: recs[0].PractitionerID}
	}
	if err := r.writeEvent(ctx, tx, outbox.EventAppointmentDeleted, appt, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	out := make([]model.Appointment, 0, len(recs))
	for _, rec := range recs {
		if appt, ok := model.TryParseAppointment(rec); ok {
			out = append(out, appt)
		}
	}
	return out, nil
}

func (r *AppointmentRepository) writeEvent(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment, extra map[string]any) error {
	payload := map[string]any{
		"appointment_id":  appt.ID,
		"practitioner_id": appt.PractitionerID,
		"pet_id":          appt.PetID,
		"owner_id":        appt.OwnerID,
		"date":            appt.Date.String(),
		"time":            appt.Time.String(),
		"status":          string(appt.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("build %s payload: %w", eventType, err)
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       body,
	})
}

func collectRecords(rows pgx.Rows) ([]model.AppointmentRecord, error) {
	defer rows.Close()

	var out []model.AppointmentRecord
	for rows.Next() {
		var rec model.AppointmentRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.PractitionerID,
			&rec.PetID,
			&rec.OwnerID,
			&rec.Date,
			&rec.Time,
			&rec.Reason,
			&rec.Notes,
			&rec.Status,
			&rec.CancelledAt,
			&rec.CancelReason,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func parseStored(rec model.AppointmentRecord) (model.Appointment, error) {
	appt, ok := model.TryParseAppointment(rec)
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s has malformed date %q or time %q", rec.ID, rec.Date, rec.Time)
	}
	return appt, nil
}

// IsSlotConflict reports a unique violation on the active slot index.
func IsSlotConflict(err error) bool {
	return isUniqueViolation(err, activeSlotIndex)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
