// Package publicindex mirrors booked slots into Redis so the public schedule
// page can be served without touching Postgres. It is a cache: Postgres stays
// the source of truth for availability.
package publicindex

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawtrack/vetbook/services/booking-service/internal/model"
)

const keyPrefix = "vetbook:schedule"

// Entry is one booked slot on the public schedule.
type Entry struct {
	Time          model.TimeOfDay `json:"time"`
	AppointmentID string          `json:"appointment_id"`
}

type Index struct {
	rdb    *redis.Client
	retain time.Duration
	now    func() time.Time
}

// New returns an index whose keys expire retain after the end of their day.
func New(rdb *redis.Client, retain time.Duration) *Index {
	if retain <= 0 {
		retain = 24 * time.Hour
	}
	return &Index{rdb: rdb, retain: retain, now: time.Now}
}

func Key(practitionerID string, date model.Date) string {
	return keyPrefix + ":" + practitionerID + ":" + date.String()
}

// expiry is when a day's key may be dropped. Past days get a short grace so
// late writes do not leave keys behind.
func (i *Index) expiry(date model.Date) time.Duration {
	end := date.AddDays(1).At(0, time.UTC).Add(i.retain)
	ttl := end.Sub(i.now())
	if ttl < time.Minute {
		return time.Minute
	}
	return ttl
}

func (i *Index) Record(ctx context.Context, appt model.Appointment) error {
	key := Key(appt.PractitionerID, appt.Date)
	pipe := i.rdb.TxPipeline()
	pipe.HSet(ctx, key, appt.Time.String(), appt.ID)
	pipe.Expire(ctx, key, i.expiry(appt.Date))
	_, err := pipe.Exec(ctx)
	return err
}

// forgetScript removes the field only while it still points at the given
// appointment, so a stale cancel cannot erase a newer booking of the slot.
var forgetScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
  return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

func (i *Index) Forget(ctx context.Context, appt model.Appointment) error {
	key := Key(appt.PractitionerID, appt.Date)
	err := forgetScript.Run(ctx, i.rdb, []string{key}, appt.Time.String(), appt.ID).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Schedule lists the booked slots recorded for the day in time order. Fields
// that do not parse as times are skipped.
func (i *Index) Schedule(ctx context.Context, practitionerID string, date model.Date) ([]Entry, error) {
	fields, err := i.rdb.HGetAll(ctx, Key(practitionerID, date)).Result()
	if err != nil {
		return nil, err
	}
	return entries(fields), nil
}

func entries(fields map[string]string) []Entry {
	out := make([]Entry, 0, len(fields))
	for field, id := range fields {
		tod, err := model.ParseTimeOfDay(field)
		if err != nil {
			continue
		}
		out = append(out, Entry{Time: tod, AppointmentID: id})
	}
	slices.SortFunc(out, func(a, b Entry) int { return int(a.Time) - int(b.Time) })
	return out
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
