package availability

import "github.com/pawtrack/vetbook/services/booking-service/internal/model"

// BookedTimes returns the start times on date already held by practitionerID.
// Records for other practitioners or dates, cancelled records, and records
// whose date or time does not parse are skipped rather than reported.
func BookedTimes(records []model.AppointmentRecord, practitionerID string, date model.Date) map[model.TimeOfDay]struct{} {
	booked := make(map[model.TimeOfDay]struct{})
	for _, rec := range records {
		if rec.PractitionerID != practitionerID {
			continue
		}
		appt, ok := model.TryParseAppointment(rec)
		if !ok {
			continue
		}
		if appt.Status == model.StatusCancelled || appt.Date != date {
			continue
		}
		booked[appt.Time] = struct{}{}
	}
	return booked
}
