package availability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
	"github.com/pawtrack/vetbook/services/booking-service/internal/storage"
)

var (
	testDate  = model.NewDate(2026, time.March, 9) // Monday
	nineAM    = model.NewTimeOfDay(9, 0)
	nineForty = model.NewTimeOfDay(9, 40)
)

func testSchedule() calendar.WorkSchedule {
	return calendar.WorkSchedule{
		PractitionerID:      "vet-1",
		WorkingDays:         []calendar.Weekday{calendar.Monday, calendar.Wednesday, calendar.Friday},
		StartTime:           model.NewTimeOfDay(9, 0),
		EndTime:             model.NewTimeOfDay(10, 0),
		SlotDurationMinutes: 20,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(store Store, index ScheduleIndex, cfg Config) *Engine {
	var n atomic.Int64
	if cfg.NewID == nil {
		cfg.NewID = func() string { return fmt.Sprintf("appt-%d", n.Add(1)) }
	}
	return NewEngine(storage.NewMemoryDirectory(testSchedule()), store, index, discardLogger(), cfg)
}

func request(tod model.TimeOfDay) BookingRequest {
	date := testDate
	return BookingRequest{
		PractitionerID: "vet-1",
		PetID:          "pet-1",
		OwnerID:        "owner-1",
		Date:           &date,
		Time:           &tod,
		Reason:         "checkup",
	}
}

type recordingIndex struct {
	mu        sync.Mutex
	recorded  []string
	forgotten []string
	err       error
}

func (i *recordingIndex) Record(_ context.Context, appt model.Appointment) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.recorded = append(i.recorded, appt.ID)
	return i.err
}

func (i *recordingIndex) Forget(_ context.Context, appt model.Appointment) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.forgotten = append(i.forgotten, appt.ID)
	return i.err
}

// failingStore wraps a MemoryStore and overrides selected operations.
type failingStore struct {
	*storage.MemoryStore
	listErr   error
	insertErr error
	block     bool
	// lostAck stores the appointment but reports a timeout, as when the
	// commit lands after the caller gave up waiting.
	lostAck bool
}

func (s *failingStore) ListActive(ctx context.Context, practitionerID string) ([]model.AppointmentRecord, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.MemoryStore.ListActive(ctx, practitionerID)
}

func (s *failingStore) Insert(ctx context.Context, appt model.Appointment, idempotencyKey string) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.lostAck {
		s.lostAck = false
		if err := s.MemoryStore.Insert(ctx, appt, idempotencyKey); err != nil {
			return err
		}
		return context.DeadlineExceeded
	}
	return s.MemoryStore.Insert(ctx, appt, idempotencyKey)
}

func TestBookThenListShowsBooked(t *testing.T) {
	index := &recordingIndex{}
	e := newTestEngine(storage.NewMemoryStore(), index, Config{})

	appt, err := e.Book(context.Background(), request(nineForty))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != model.StatusPending || appt.Time != nineForty || appt.Date != testDate {
		t.Fatalf("unexpected appointment %+v", appt)
	}

	slots, err := e.Slots(context.Background(), "vet-1", testDate)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	for _, s := range slots {
		want := SlotAvailable
		if s.Time == nineForty {
			want = SlotBooked
		}
		if s.Status != want {
			t.Fatalf("slot %s: expected %s, got %s", s.Time, want, s.Status)
		}
	}
	if len(index.recorded) != 1 || index.recorded[0] != appt.ID {
		t.Fatalf("expected index record for %s, got %v", appt.ID, index.recorded)
	}
}

func TestBookSameSlotTwice(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})
	if _, err := e.Book(context.Background(), request(nineAM)); err != nil {
		t.Fatalf("first book: %v", err)
	}
	_, err := e.Book(context.Background(), request(nineAM))
	if !errors.Is(err, ErrBookingConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConcurrentBookingHasOneWinner(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.Book(context.Background(), request(nineAM))
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrBookingConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", attempts-1, ok, conflicts)
	}
}

func TestLostRaceAtInsertIsConflict(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), insertErr: model.ErrSlotTaken}
	e := newTestEngine(store, nil, Config{})

	_, err := e.Book(context.Background(), request(nineAM))
	if !errors.Is(err, ErrBookingConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var perr *PersistenceError
	if errors.As(err, &perr) {
		t.Fatalf("conflict must not be a persistence error")
	}
}

func TestBookIncompleteSelection(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})

	cases := map[string]func(*BookingRequest){
		"no practitioner": func(r *BookingRequest) { r.PractitionerID = " " },
		"no pet":          func(r *BookingRequest) { r.PetID = "" },
		"no owner":        func(r *BookingRequest) { r.OwnerID = "" },
		"no date":         func(r *BookingRequest) { r.Date = nil },
		"no time":         func(r *BookingRequest) { r.Time = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request(nineAM)
			mutate(&req)
			_, err := e.Book(context.Background(), req)
			if !errors.Is(err, ErrIncompleteSelection) {
				t.Fatalf("expected incomplete selection, got %v", err)
			}
		})
	}

	slots, err := e.Slots(context.Background(), "vet-1", testDate)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	for _, s := range slots {
		if s.Status != SlotAvailable {
			t.Fatalf("incomplete requests must not book, got %+v", slots)
		}
	}
}

func TestBookSlotNotOffered(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})

	_, err := e.Book(context.Background(), request(model.NewTimeOfDay(9, 10)))
	if !errors.Is(err, ErrSlotNotOffered) {
		t.Fatalf("off-grid time: expected not offered, got %v", err)
	}

	tuesday := testDate.AddDays(1)
	req := request(nineAM)
	req.Date = &tuesday
	_, err = e.Book(context.Background(), req)
	if !errors.Is(err, ErrSlotNotOffered) {
		t.Fatalf("day off: expected not offered, got %v", err)
	}
}

func TestBookPersistenceFailures(t *testing.T) {
	down := errors.New("connection refused")

	t.Run("listing", func(t *testing.T) {
		e := newTestEngine(&failingStore{MemoryStore: storage.NewMemoryStore(), listErr: down}, nil, Config{})
		_, err := e.Book(context.Background(), request(nineAM))
		var perr *PersistenceError
		if !errors.As(err, &perr) || !errors.Is(err, down) {
			t.Fatalf("expected persistence error wrapping cause, got %v", err)
		}
	})

	t.Run("insert", func(t *testing.T) {
		e := newTestEngine(&failingStore{MemoryStore: storage.NewMemoryStore(), insertErr: down}, nil, Config{})
		_, err := e.Book(context.Background(), request(nineAM))
		var perr *PersistenceError
		if !errors.As(err, &perr) || perr.Op != "insert appointment" {
			t.Fatalf("expected insert persistence error, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		store := &failingStore{MemoryStore: storage.NewMemoryStore(), block: true}
		e := newTestEngine(store, nil, Config{CommitTimeout: 20 * time.Millisecond})
		_, err := e.Book(context.Background(), request(nineAM))
		var perr *PersistenceError
		if !errors.As(err, &perr) || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected timeout persistence error, got %v", err)
		}
	})
}

func TestBookRetryWithIdempotencyKey(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), lostAck: true}
	index := &recordingIndex{}
	e := newTestEngine(store, index, Config{})
	ctx := context.Background()

	req := request(nineAM)
	req.IdempotencyKey = "  booking-7f3a "
	_, err := e.Book(ctx, req)
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("first attempt: expected persistence error, got %v", err)
	}

	// The write landed; the retry gets that appointment back instead of a conflict.
	req.IdempotencyKey = "booking-7f3a"
	appt, err := e.Book(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	again, err := e.Book(ctx, req)
	if err != nil || again.ID != appt.ID {
		t.Fatalf("second retry: expected %s, got %+v (%v)", appt.ID, again, err)
	}
	if owned, _ := e.AppointmentsByOwner(ctx, "owner-1", 10); len(owned) != 1 {
		t.Fatalf("expected exactly one appointment, got %d", len(owned))
	}
	if len(index.recorded) != 0 {
		t.Fatalf("replays must not touch the public index, got %v", index.recorded)
	}

	// Without the key the same request is an ordinary conflict.
	req.IdempotencyKey = ""
	if _, err := e.Book(ctx, req); !errors.Is(err, ErrBookingConflict) {
		t.Fatalf("expected conflict without key, got %v", err)
	}
}

func TestBookIdempotencyKeyMismatch(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})
	ctx := context.Background()

	req := request(nineAM)
	req.IdempotencyKey = "k-1"
	if _, err := e.Book(ctx, req); err != nil {
		t.Fatalf("book: %v", err)
	}

	other := request(nineForty)
	other.IdempotencyKey = "k-1"
	if _, err := e.Book(ctx, other); !errors.Is(err, ErrIdempotencyKey) {
		t.Fatalf("expected key reuse to be rejected, got %v", err)
	}

	// Keys are scoped per owner.
	other.OwnerID = "owner-2"
	if _, err := e.Book(ctx, other); err != nil {
		t.Fatalf("another owner may use the same key: %v", err)
	}

	long := request(model.NewTimeOfDay(9, 20))
	long.IdempotencyKey = strings.Repeat("k", 256)
	if _, err := e.Book(ctx, long); !errors.Is(err, ErrIdempotencyKey) {
		t.Fatalf("expected oversized key to be rejected, got %v", err)
	}
}

func TestConcurrentBookingsWithSameKey(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})
	ctx := context.Background()

	const attempts = 8
	ids := make([]string, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := request(nineAM)
			req.IdempotencyKey = "same-click"
			appt, err := e.Book(ctx, req)
			ids[i], errs[i] = appt.ID, err
		}()
	}
	wg.Wait()

	for i := range attempts {
		if errs[i] != nil {
			t.Fatalf("attempt %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("attempt %d got %s, want %s", i, ids[i], ids[0])
		}
	}
}

func TestBookTrimsPractitionerID(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})
	ctx := context.Background()

	req := request(nineAM)
	req.PractitionerID = " vet-1 "
	appt, err := e.Book(ctx, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.PractitionerID != "vet-1" {
		t.Fatalf("expected trimmed id, got %q", appt.PractitionerID)
	}
	if _, err := e.Book(ctx, req); !errors.Is(err, ErrBookingConflict) {
		t.Fatalf("padded id must still see the booking, got %v", err)
	}
	slots, err := e.Slots(ctx, "  vet-1", testDate)
	if err != nil || len(slots) != 3 || slots[0].Status != SlotBooked {
		t.Fatalf("expected 09:00 booked, got %+v (%v)", slots, err)
	}
}

func TestIndexFailureDoesNotFailBooking(t *testing.T) {
	index := &recordingIndex{err: errors.New("redis down")}
	e := newTestEngine(storage.NewMemoryStore(), index, Config{})
	if _, err := e.Book(context.Background(), request(nineAM)); err != nil {
		t.Fatalf("expected booking to succeed, got %v", err)
	}
}

func TestSlotsErrors(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})

	if _, err := e.Slots(context.Background(), "vet-9", testDate); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown practitioner: expected not found, got %v", err)
	}
	if _, err := e.Slots(context.Background(), "", testDate); !errors.Is(err, ErrIncompleteSelection) {
		t.Fatalf("blank practitioner: expected incomplete, got %v", err)
	}

	broken := testSchedule()
	broken.PractitionerID = "vet-2"
	broken.SlotDurationMinutes = 0
	e = NewEngine(storage.NewMemoryDirectory(broken), storage.NewMemoryStore(), nil, discardLogger(), Config{})
	_, err := e.Slots(context.Background(), "vet-2", testDate)
	var invalid *calendar.InvalidScheduleError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
}

func TestTransitions(t *testing.T) {
	index := &recordingIndex{}
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(storage.NewMemoryStore(), index, Config{Now: func() time.Time { return now }})
	ctx := context.Background()

	appt, err := e.Book(ctx, request(nineAM))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	confirmed, err := e.Confirm(ctx, appt.ID)
	if err != nil || confirmed.Status != model.StatusConfirmed {
		t.Fatalf("confirm: %+v %v", confirmed, err)
	}
	if _, err := e.Confirm(ctx, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double confirm: expected invalid transition, got %v", err)
	}

	cancelled, err := e.Cancel(ctx, appt.ID, " travelling ")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(now) {
		t.Fatalf("unexpected cancelled appointment %+v", cancelled)
	}
	if cancelled.CancelReason != "travelling" {
		t.Fatalf("expected trimmed reason, got %q", cancelled.CancelReason)
	}
	if len(index.forgotten) != 1 {
		t.Fatalf("expected index removal, got %v", index.forgotten)
	}

	again, err := e.Cancel(ctx, appt.ID, "")
	if err != nil || again.Status != model.StatusCancelled {
		t.Fatalf("repeat cancel should be a no-op: %+v %v", again, err)
	}

	if _, err := e.Book(ctx, request(nineAM)); err != nil {
		t.Fatalf("slot should be free after cancel: %v", err)
	}

	if _, err := e.Confirm(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.Cancel(ctx, "", ""); !errors.Is(err, ErrIncompleteSelection) {
		t.Fatalf("expected incomplete selection, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	index := &recordingIndex{}
	e := newTestEngine(storage.NewMemoryStore(), index, Config{})
	ctx := context.Background()

	appt, err := e.Book(ctx, request(nineAM))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if err := e.Remove(ctx, appt.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := e.Appointment(ctx, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	if err := e.Remove(ctx, appt.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
	if len(index.forgotten) != 1 {
		t.Fatalf("expected index removal, got %v", index.forgotten)
	}
	if _, err := e.Book(ctx, request(nineAM)); err != nil {
		t.Fatalf("slot should be free after remove: %v", err)
	}
}

func TestAppointmentsByOwner(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})
	ctx := context.Background()
	for _, tod := range []model.TimeOfDay{nineAM, nineForty} {
		if _, err := e.Book(ctx, request(tod)); err != nil {
			t.Fatalf("book %s: %v", tod, err)
		}
	}

	appts, err := e.AppointmentsByOwner(ctx, "owner-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(appts) != 2 || appts[0].Time != nineForty {
		t.Fatalf("expected newest first, got %+v", appts)
	}
	if _, err := e.AppointmentsByOwner(ctx, "", 10); !errors.Is(err, ErrIncompleteSelection) {
		t.Fatalf("expected incomplete selection, got %v", err)
	}
}

func TestSaveSchedule(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore(), nil, Config{})
	ctx := context.Background()

	s := testSchedule()
	s.PractitionerID = "vet-3"
	s.SlotDurationMinutes = 30
	if err := e.SaveSchedule(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := e.Schedule(ctx, "vet-3")
	if err != nil || got.SlotDurationMinutes != 30 {
		t.Fatalf("unexpected schedule %+v %v", got, err)
	}

	s.EndTime = s.StartTime
	var invalid *calendar.InvalidScheduleError
	if err := e.SaveSchedule(ctx, s); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
}
