package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pawtrack/vetbook/services/booking-service/internal/availability"
	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

func previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Compute the slots a schedule offers on a date, without a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetString("days")
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			duration, _ := cmd.Flags().GetInt("duration")
			dateStr, _ := cmd.Flags().GetString("date")
			booked, _ := cmd.Flags().GetStringSlice("booked")

			doc := calendar.Document{
				PractitionerID:      "preview",
				WorkingDays:         strings.Split(days, ","),
				StartTime:           start,
				EndTime:             end,
				SlotDurationMinutes: duration,
			}
			schedule, err := doc.WorkSchedule()
			if err != nil {
				return err
			}
			date, err := model.ParseDate(dateStr)
			if err != nil {
				return err
			}

			records := make([]model.AppointmentRecord, 0, len(booked))
			for i, tod := range booked {
				records = append(records, model.AppointmentRecord{
					ID:             fmt.Sprintf("preview-%d", i),
					PractitionerID: schedule.PractitionerID,
					Date:           date.String(),
					Time:           tod,
				})
			}

			slots, err := availability.ListSlots(schedule, records, date)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no slots on %s (%s)\n", date, calendar.WeekdayOf(date))
				return nil
			}
			for _, s := range slots {
				printSlot(cmd.OutOrStdout(), s.Time.String(), string(s.Status))
			}
			return nil
		},
	}
	cmd.Flags().String("days", "mon,tue,wed,thu,fri", "Working days, names or 1..7 from Monday")
	cmd.Flags().String("start", "09:00", "First slot start (HH:MM)")
	cmd.Flags().String("end", "17:00", "End of the working day (HH:MM)")
	cmd.Flags().Int("duration", 30, "Slot duration in minutes")
	cmd.Flags().String("date", "", "Date to preview (YYYY-MM-DD)")
	cmd.Flags().StringSlice("booked", nil, "Times to mark as booked")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
