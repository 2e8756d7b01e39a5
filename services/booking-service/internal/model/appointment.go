package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next. Cancelled is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCancelled
	}
	return false
}

// Appointment is one booked consultation for a pet with a practitioner.
type Appointment struct {
	ID             string
	PractitionerID string
	PetID          string
	OwnerID        string
	Date           Date
	Time           TimeOfDay
	Reason         string
	Notes          string
	Status         Status
	CancelledAt    *time.Time
	CancelReason   string
	CreatedAt      time.Time
}

// AppointmentRecord is an appointment as persisted: date and time are kept as
// the strings the client wrote, and older rows are not guaranteed to parse.
type AppointmentRecord struct {
	ID             string
	PractitionerID string
	PetID          string
	OwnerID        string
	Date           string
	Time           string
	Reason         string
	Notes          string
	Status         string
	CancelledAt    *time.Time
	CancelReason   string
	CreatedAt      time.Time
}

// Record renders the canonical persisted form.
func (a Appointment) Record() AppointmentRecord {
	return AppointmentRecord{
		ID:             a.ID,
		PractitionerID: a.PractitionerID,
		PetID:          a.PetID,
		OwnerID:        a.OwnerID,
		Date:           a.Date.String(),
		Time:           a.Time.String(),
		Reason:         a.Reason,
		Notes:          a.Notes,
		Status:         string(a.Status),
		CancelledAt:    a.CancelledAt,
		CancelReason:   a.CancelReason,
		CreatedAt:      a.CreatedAt,
	}
}

// ParseStatus normalises a persisted status: case and surrounding space are
// ignored and an empty status reads as pending. Unknown values are kept
// lowercased so they still count as not cancelled.
func ParseStatus(raw string) Status {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if status == "" {
		return StatusPending
	}
	return status
}

// TryParseAppointment converts a persisted record, reporting false when the
// date or time does not parse. A missing status is read as pending; unknown
// statuses are kept verbatim so they still count as not cancelled.
func TryParseAppointment(rec AppointmentRecord) (Appointment, bool) {
	date, err := ParseDate(rec.Date)
	if err != nil {
		return Appointment{}, false
	}
	tod, err := ParseTimeOfDay(rec.Time)
	if err != nil {
		return Appointment{}, false
	}
	status := ParseStatus(rec.Status)
	return Appointment{
		ID:             rec.ID,
		PractitionerID: rec.PractitionerID,
		PetID:          rec.PetID,
		OwnerID:        rec.OwnerID,
		Date:           date,
		Time:           tod,
		Reason:         rec.Reason,
		Notes:          rec.Notes,
		Status:         status,
		CancelledAt:    rec.CancelledAt,
		CancelReason:   rec.CancelReason,
		CreatedAt:      rec.CreatedAt,
	}, true
}
