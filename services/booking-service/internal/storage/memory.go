package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pawtrack/vetbook/services/booking-service/internal/calendar"
	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

// MemoryStore keeps appointments in process. It enforces the same active-slot
// uniqueness as the Postgres index, so it is usable for dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]model.AppointmentRecord
	active  map[slotKey]string // slot -> appointment id, non-cancelled only
	keys    map[requestKey]string
	ordered []string // insertion order
}

// requestKey scopes an idempotency key to the owner who sent it.
type requestKey struct {
	ownerID string
	key     string
}

type slotKey struct {
	practitionerID string
	date           string
	time           string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]model.AppointmentRecord),
		active: make(map[slotKey]string),
		keys:   make(map[requestKey]string),
	}
}

// Seed adds raw records as-is, bypassing validation. Used to load legacy data.
func (s *MemoryStore) Seed(records ...model.AppointmentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.byID[rec.ID] = rec
		s.ordered = append(s.ordered, rec.ID)
		if model.ParseStatus(rec.Status) != model.StatusCancelled {
			s.active[keyOf(rec)] = rec.ID
		}
	}
}

func (s *MemoryStore) ListActive(ctx context.Context, practitionerID string) ([]model.AppointmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AppointmentRecord
	for _, id := range s.ordered {
		rec, ok := s.byID[id]
		if !ok || rec.PractitionerID != practitionerID || model.ParseStatus(rec.Status) == model.StatusCancelled {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Insert stores appt and, when idempotencyKey is set, binds the key to it in
// the same step.
func (s *MemoryStore) Insert(ctx context.Context, appt model.Appointment, idempotencyKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := appt.Record()
	key := keyOf(rec)
	rk := requestKey{ownerID: rec.OwnerID, key: idempotencyKey}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.active[key]; taken {
		return model.ErrSlotTaken
	}
	if idempotencyKey != "" {
		if _, used := s.keys[rk]; used {
			return model.ErrKeyInUse
		}
		s.keys[rk] = rec.ID
	}
	s.byID[rec.ID] = rec
	s.active[key] = rec.ID
	s.ordered = append(s.ordered, rec.ID)
	return nil
}

func (s *MemoryStore) FindByIdempotencyKey(ctx context.Context, ownerID, idempotencyKey string) (model.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return model.Appointment{}, err
	}
	s.mu.RLock()
	id, ok := s.keys[requestKey{ownerID: ownerID, key: idempotencyKey}]
	rec, exists := s.byID[id]
	s.mu.RUnlock()
	if !ok || !exists {
		return model.Appointment{}, model.ErrNotFound
	}
	return parseStored(rec)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return model.Appointment{}, err
	}
	s.mu.RLock()
	rec, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return parseStored(rec)
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to model.Status, reason string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	if model.ParseStatus(rec.Status) != from {
		return model.ErrStatusChanged
	}
	rec.Status = string(to)
	if to == model.StatusCancelled {
		rec.CancelledAt = &at
		rec.CancelReason = reason
		if s.active[keyOf(rec)] == id {
			delete(s.active, keyOf(rec))
		}
	}
	s.byID[id] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	delete(s.byID, id)
	if s.active[keyOf(rec)] == id {
		delete(s.active, keyOf(rec))
	}
	for k, v := range s.keys {
		if v == id {
			delete(s.keys, k)
		}
	}
	s.ordered = slices.DeleteFunc(s.ordered, func(v string) bool { return v == id })
	return nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Appointment
	for i := len(s.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.byID[s.ordered[i]]
		if rec.OwnerID != ownerID {
			continue
		}
		if appt, ok := model.TryParseAppointment(rec); ok {
			out = append(out, appt)
		}
	}
	return out, nil
}

func keyOf(rec model.AppointmentRecord) slotKey {
	return slotKey{practitionerID: rec.PractitionerID, date: rec.Date, time: rec.Time}
}

// MemoryDirectory holds work schedules in process.
type MemoryDirectory struct {
	mu        sync.RWMutex
	schedules map[string]calendar.WorkSchedule
}

func NewMemoryDirectory(schedules ...calendar.WorkSchedule) *MemoryDirectory {
	d := &MemoryDirectory{schedules: make(map[string]calendar.WorkSchedule)}
	for _, s := range schedules {
		d.schedules[s.PractitionerID] = s
	}
	return d
}

func (d *MemoryDirectory) WorkSchedule(_ context.Context, practitionerID string) (calendar.WorkSchedule, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.schedules[practitionerID]
	if !ok {
		return calendar.WorkSchedule{}, model.ErrNotFound
	}
	s.WorkingDays = slices.Clone(s.WorkingDays)
	return s, nil
}

func (d *MemoryDirectory) SaveWorkSchedule(_ context.Context, s calendar.WorkSchedule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s.WorkingDays = slices.Clone(s.WorkingDays)
	d.schedules[s.PractitionerID] = s
	return nil
}
