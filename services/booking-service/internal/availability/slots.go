package availability

import (
	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
)

type TimeSlot struct {
	Time   model.TimeOfDay `json:"time"`
	Status SlotStatus      `json:"status"`
}

// ListSlots marks each candidate slot of schedule on date as booked or
// available, in ascending start order. Records at times outside the candidate
// set are ignored.
func ListSlots(schedule calendar.WorkSchedule, records []model.AppointmentRecord, date model.Date) ([]TimeSlot, error) {
	candidates, err := calendar.Sequence(schedule, date)
	if err != nil {
		return nil, err
	}
	booked := BookedTimes(records, schedule.PractitionerID, date)

	slots := []TimeSlot{}
	for t := range candidates {
		status := SlotAvailable
		if _, ok := booked[t]; ok {
			status = SlotBooked
		}
		slots = append(slots, TimeSlot{Time: t, Status: status})
	}
	return slots, nil
}

func findSlot(slots []TimeSlot, t model.TimeOfDay) (TimeSlot, bool) {
	for _, s := range slots {
		if s.Time == t {
			return s, true
		}
	}
	return TimeSlot{}, false
}
