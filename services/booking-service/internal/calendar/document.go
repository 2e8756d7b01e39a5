package calendar

import (
	"strings"

	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

// Document is the wire form of a WorkSchedule, shared by the HTTP API and the
// practitioner.schedule.updated.v1 event. Working days may be names ("mon") or
// numbers ("1"), Monday first.
type Document struct {
	PractitionerID      string   `json:"practitioner_id"`
	WorkingDays         []string `json:"working_days"`
	StartTime           string   `json:"start_time"`
	EndTime             string   `json:"end_time"`
	SlotDurationMinutes int      `json:"slot_duration_minutes"`
}

func DocumentOf(s WorkSchedule) Document {
	days := make([]string, 0, len(s.WorkingDays))
	for _, w := range s.WorkingDays {
		days = append(days, w.String())
	}
	return Document{
		PractitionerID:      s.PractitionerID,
		WorkingDays:         days,
		StartTime:           s.StartTime.String(),
		EndTime:             s.EndTime.String(),
		SlotDurationMinutes: s.SlotDurationMinutes,
	}
}

// WorkSchedule parses the document. The result still needs Validate.
func (d Document) WorkSchedule() (WorkSchedule, error) {
	days, err := ParseWeekdays(strings.Join(d.WorkingDays, ","))
	if err != nil {
		return WorkSchedule{}, err
	}
	start, err := model.ParseTimeOfDay(d.StartTime)
	if err != nil {
		return WorkSchedule{}, err
	}
	end, err := model.ParseTimeOfDay(d.EndTime)
	if err != nil {
		return WorkSchedule{}, err
	}
	return WorkSchedule{
		PractitionerID:      strings.TrimSpace(d.PractitionerID),
		WorkingDays:         days,
		StartTime:           start,
		EndTime:             end,
		SlotDurationMinutes: d.SlotDurationMinutes,
	}, nil
}
