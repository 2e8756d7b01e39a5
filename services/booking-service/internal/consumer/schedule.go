package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/pawtrack/vetbook/services/booking-service/internal/availability"
	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
)

// ScheduleSaver stores validated work schedules.
type ScheduleSaver interface {
	SaveSchedule(ctx context.Context, s calendar.WorkSchedule) error
}

// ScheduleUpdates applies schedule change events. Malformed or invalid
// payloads are logged and dropped; only storage failures are returned.
func ScheduleUpdates(saver ScheduleSaver, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload calendar.Document
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid schedule update", "err", err)
			return nil
		}
		if strings.TrimSpace(payload.PractitionerID) == "" {
			logger.Error("schedule update missing practitioner_id")
			return nil
		}
		schedule, err := payload.WorkSchedule()
		if err != nil {
			logger.Error("invalid schedule update", "err", err, "practitioner_id", payload.PractitionerID)
			return nil
		}

		err = saver.SaveSchedule(ctx, schedule)
		var invalid *calendar.InvalidScheduleError
		if errors.As(err, &invalid) || errors.Is(err, availability.ErrIncompleteSelection) {
			logger.Error("rejected schedule update", "err", err, "practitioner_id", payload.PractitionerID)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("schedule updated", "practitioner_id", schedule.PractitionerID)
		return nil
	}
}
