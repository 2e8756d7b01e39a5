package publicindex

import (
	"testing"
	"time"

	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

func TestKey(t *testing.T) {
	got := Key("vet-1", model.NewDate(2026, time.March, 9))
	if got != "vetbook:schedule:vet-1:2026-03-09" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestExpiry(t *testing.T) {
	idx := New(nil, 2*time.Hour)
	idx.now = func() time.Time { return time.Date(2026, time.March, 9, 22, 0, 0, 0, time.UTC) }

	if got := idx.expiry(model.NewDate(2026, time.March, 9)); got != 4*time.Hour {
		t.Fatalf("expected 4h, got %s", got)
	}
	if got := idx.expiry(model.NewDate(2026, time.March, 1)); got != time.Minute {
		t.Fatalf("expected minimum ttl for past day, got %s", got)
	}
}

func TestEntriesSortedAndFiltered(t *testing.T) {
	got := entries(map[string]string{
		"10:30": "c",
		"09:00": "a",
		"bogus": "x",
		"09:30": "b",
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	want := []string{"a", "b", "c"}
	for i, e := range got {
		if e.AppointmentID != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], e.AppointmentID)
		}
	}
	if got[0].Time != model.NewTimeOfDay(9, 0) {
		t.Fatalf("unexpected first time %s", got[0].Time)
	}
}
