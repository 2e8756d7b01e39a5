package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

func appointment(id string, tod model.TimeOfDay) model.Appointment {
	return model.Appointment{
		ID:             id,
		PractitionerID: "vet-1",
		PetID:          "pet-1",
		OwnerID:        "owner-1",
		Date:           model.NewDate(2026, time.March, 9),
		Time:           tod,
		Status:         model.StatusPending,
	}
}

func TestMemoryStoreActiveSlotUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	nine := model.NewTimeOfDay(9, 0)

	if err := s.Insert(ctx, appointment("a", nine), ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, appointment("b", nine), ""); !errors.Is(err, model.ErrSlotTaken) {
		t.Fatalf("expected slot taken, got %v", err)
	}

	if err := s.UpdateStatus(ctx, "a", model.StatusPending, model.StatusCancelled, "moved", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.Insert(ctx, appointment("b", nine), ""); err != nil {
		t.Fatalf("insert after cancel: %v", err)
	}

	active, err := s.ListActive(ctx, "vet-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "b" {
		t.Fatalf("expected only b active, got %+v", active)
	}
}

func TestMemoryStoreConditionalUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Insert(ctx, appointment("a", model.NewTimeOfDay(9, 0)), ""); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := s.UpdateStatus(ctx, "a", model.StatusConfirmed, model.StatusCancelled, "", time.Now())
	if !errors.Is(err, model.ErrStatusChanged) {
		t.Fatalf("expected status changed, got %v", err)
	}
	err = s.UpdateStatus(ctx, "zzz", model.StatusPending, model.StatusConfirmed, "", time.Now())
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreSeedKeepsMalformedRecords(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(model.AppointmentRecord{ID: "legacy", PractitionerID: "vet-1", Date: "2026-03-09", Time: "not-a-time", Status: "pending"})

	active, err := s.ListActive(context.Background(), "vet-1")
	if err != nil || len(active) != 1 {
		t.Fatalf("expected seeded record listed, got %v %v", active, err)
	}
	if _, err := s.Get(context.Background(), "legacy"); err == nil {
		t.Fatalf("expected parse error for malformed record")
	}
}

func TestMemoryStoreDeleteAndOwnerListing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i, tod := range []model.TimeOfDay{model.NewTimeOfDay(9, 0), model.NewTimeOfDay(9, 20), model.NewTimeOfDay(9, 40)} {
		if err := s.Insert(ctx, appointment(string(rune('a'+i)), tod), ""); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "b"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := s.ListByOwner(ctx, "owner-1", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("expected newest appointment c, got %+v", got)
	}
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemoryStore().Insert(ctx, appointment("a", 0), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	if _, err := d.WorkSchedule(ctx, "vet-1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	ws := calendar.WorkSchedule{
		PractitionerID:      "vet-1",
		WorkingDays:         []calendar.Weekday{calendar.Monday},
		StartTime:           model.NewTimeOfDay(8, 0),
		EndTime:             model.NewTimeOfDay(12, 0),
		SlotDurationMinutes: 15,
	}
	if err := d.SaveWorkSchedule(ctx, ws); err != nil {
		t.Fatalf("save: %v", err)
	}
	ws.WorkingDays[0] = calendar.Sunday

	got, err := d.WorkSchedule(ctx, "vet-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.WorkingDays[0] != calendar.Monday {
		t.Fatalf("stored schedule must not alias caller slice")
	}
}

func TestMemoryStoreIdempotencyKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Insert(ctx, appointment("a", model.NewTimeOfDay(9, 0)), "req-1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.FindByIdempotencyKey(ctx, "owner-1", "req-1")
	if err != nil || got.ID != "a" {
		t.Fatalf("expected a, got %+v (%v)", got, err)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "owner-2", "req-1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("keys are per owner, got %v", err)
	}
	if err := s.Insert(ctx, appointment("b", model.NewTimeOfDay(9, 20)), "req-1"); !errors.Is(err, model.ErrKeyInUse) {
		t.Fatalf("expected key in use, got %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("rejected insert must not be stored, got %v", err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "owner-1", "req-1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("key should go with its appointment, got %v", err)
	}
}

func TestMemoryStoreLegacyStatuses(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Seed(
		model.AppointmentRecord{ID: "old-cancel", PractitionerID: "vet-1", OwnerID: "owner-1", Date: "2026-03-09", Time: "09:00", Status: "Cancelled"},
		model.AppointmentRecord{ID: "old-blank", PractitionerID: "vet-1", OwnerID: "owner-1", Date: "2026-03-09", Time: "09:20", Status: ""},
	)

	active, err := s.ListActive(ctx, "vet-1")
	if err != nil || len(active) != 1 || active[0].ID != "old-blank" {
		t.Fatalf("expected only the blank-status row active, got %+v (%v)", active, err)
	}
	if err := s.Insert(ctx, appointment("new", model.NewTimeOfDay(9, 0)), ""); err != nil {
		t.Fatalf("slot of a legacy cancelled row should be free: %v", err)
	}
	if err := s.UpdateStatus(ctx, "old-blank", model.StatusPending, model.StatusConfirmed, "", time.Now()); err != nil {
		t.Fatalf("blank status should read as pending: %v", err)
	}
}
