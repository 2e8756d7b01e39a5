// Package calendar turns a practitioner's recurring weekly availability into
// the slot start times offered on a given date.
package calendar

import (
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

// Weekday numbers days Monday=1 through Sunday=7 regardless of locale.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"", "mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

func (w Weekday) String() string {
	if !w.Valid() {
		return "Weekday(" + strconv.Itoa(int(w)) + ")"
	}
	return weekdayNames[w]
}

// WeekdayOf maps a date to its ISO weekday.
func WeekdayOf(d model.Date) Weekday {
	wd := d.Weekday()
	if wd == time.Sunday {
		return Sunday
	}
	return Weekday(wd)
}

// ParseWeekday accepts "mon", "monday" (any case) or "1".."7".
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if w := Weekday(n); w.Valid() {
			return w, nil
		}
		return 0, fmt.Errorf("weekday %d out of range 1..7", n)
	}
	if len(s) >= 3 {
		for i := Monday; i <= Sunday; i++ {
			if strings.HasPrefix(s, weekdayNames[i]) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// ParseWeekdays parses a comma separated list, e.g. "mon,tue,fri".
func ParseWeekdays(raw string) ([]Weekday, error) {
	var out []Weekday
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		w, err := ParseWeekday(part)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	slices.Sort(out)
	return out, nil
}

// WorkSchedule is a practitioner's recurring weekly availability.
type WorkSchedule struct {
	PractitionerID      string
	WorkingDays         []Weekday
	StartTime           model.TimeOfDay
	EndTime             model.TimeOfDay
	SlotDurationMinutes int
}

// InvalidScheduleError reports a WorkSchedule that breaks its invariants.
type InvalidScheduleError struct {
	PractitionerID string
	Reason         string
}

func (e *InvalidScheduleError) Error() string {
	if e.PractitionerID == "" {
		return "invalid work schedule: " + e.Reason
	}
	return fmt.Sprintf("invalid work schedule for %s: %s", e.PractitionerID, e.Reason)
}

func (s WorkSchedule) Validate() error {
	invalid := func(format string, args ...any) error {
		return &InvalidScheduleError{PractitionerID: s.PractitionerID, Reason: fmt.Sprintf(format, args...)}
	}
	if s.SlotDurationMinutes <= 0 {
		return invalid("slot duration must be positive (got %d)", s.SlotDurationMinutes)
	}
	if !s.StartTime.Valid() || !s.EndTime.Valid() {
		return invalid("start and end must be within the day")
	}
	if s.StartTime >= s.EndTime {
		return invalid("start %s must be before end %s", s.StartTime, s.EndTime)
	}
	for _, w := range s.WorkingDays {
		if !w.Valid() {
			return invalid("unknown working day %d", int(w))
		}
	}
	return nil
}

// Works reports whether w is one of the working days.
func (s WorkSchedule) Works(w Weekday) bool {
	return slices.Contains(s.WorkingDays, w)
}

func IsWorkDay(s WorkSchedule, d model.Date) bool {
	return s.Works(WeekdayOf(d))
}

// Sequence yields slot start times on d in ascending order: start, start+n*duration,
// stopping before the first value that is not strictly before the end time. A
// slot is a start time only, so the last one may run past the end. Non-working
// days yield nothing. The sequence can be ranged over any number of times.
// Any positive duration is accepted; one at least as long as the working
// window yields the start time alone.
func Sequence(s WorkSchedule, d model.Date) (iter.Seq[model.TimeOfDay], error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	working := IsWorkDay(s, d)
	return func(yield func(model.TimeOfDay) bool) {
		if !working {
			return
		}
		for t := s.StartTime; ; t = t.AddMinutes(s.SlotDurationMinutes) {
			if !yield(t) {
				return
			}
			// Compare with the remaining window so huge durations never overflow.
			if s.SlotDurationMinutes >= int(s.EndTime-t) {
				return
			}
		}
	}, nil
}

// Slots materializes Sequence.
func Slots(s WorkSchedule, d model.Date) ([]model.TimeOfDay, error) {
	seq, err := Sequence(s, d)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}
