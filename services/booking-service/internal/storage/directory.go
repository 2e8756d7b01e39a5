package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/pawtrack/vetbook/libs/db"
	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

// PractitionerDirectory reads and writes work schedules in practitioner_schedules.
type PractitionerDirectory struct {
	pool *db.Pool
}

func NewPractitionerDirectory(pool *db.Pool) *PractitionerDirectory {
	return &PractitionerDirectory{pool: pool}
}

func (d *PractitionerDirectory) WorkSchedule(ctx context.Context, practitionerID string) (calendar.WorkSchedule, error) {
	var (
		days             []int32
		startMin, endMin int32
		dur              int64
	)
	err := d.pool.QueryRow(ctx, `
		SELECT working_days, start_minute, end_minute, slot_minutes
		FROM practitioner_schedules
		WHERE practitioner_id = $1
	`, practitionerID).Scan(&days, &startMin, &endMin, &dur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return calendar.WorkSchedule{}, model.ErrNotFound
		}
		return calendar.WorkSchedule{}, err
	}

	s := calendar.WorkSchedule{
		PractitionerID:      practitionerID,
		StartTime:           model.TimeOfDay(startMin),
		EndTime:             model.TimeOfDay(endMin),
		SlotDurationMinutes: int(dur),
	}
	for _, day := range days {
		s.WorkingDays = append(s.WorkingDays, calendar.Weekday(day))
	}
	return s, nil
}

func (d *PractitionerDirectory) SaveWorkSchedule(ctx context.Context, s calendar.WorkSchedule) error {
	// Validate bounds the days and the times of day, so the int32 conversions
	// below are exact; the duration column is BIGINT and takes any int.
	if err := s.Validate(); err != nil {
		return err
	}
	days := make([]int32, 0, len(s.WorkingDays))
	for _, w := range s.WorkingDays {
		days = append(days, int32(w))
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO practitioner_schedules (practitioner_id, working_days, start_minute, end_minute, slot_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (practitioner_id) DO UPDATE
		SET working_days = EXCLUDED.working_days,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			slot_minutes = EXCLUDED.slot_minutes,
			updated_at = now()
	`, s.PractitionerID, days, int32(s.StartTime), int32(s.EndTime), int64(s.SlotDurationMinutes))
	return err
}
