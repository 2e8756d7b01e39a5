package outbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pawtrack/vetbook/libs/kafkax"
)

func TestMessage(t *testing.T) {
	rec := Record{
		ID:          7,
		EventID:     "evt-1",
		AggregateID: "appt-1",
		EventType:   EventAppointmentBooked,
		Payload:     []byte(`{"appointment_id":"appt-1"}`),
	}
	msg := Message(context.Background(), rec)
	if msg.Topic != EventAppointmentBooked || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected routing topic=%s key=%s", msg.Topic, msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != EventAppointmentBooked {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if string(msg.Value) != string(rec.Payload) {
		t.Fatalf("payload mismatch: %s", msg.Value)
	}
}

func TestPublisherBackoff(t *testing.T) {
	p := NewPublisher(nil, NewRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{
		PollEvery: time.Second,
	})
	cases := map[int]time.Duration{
		1:  time.Second,
		2:  2 * time.Second,
		4:  8 * time.Second,
		5:  16 * time.Second,
		12: 16 * time.Second,
	}
	for failures, want := range cases {
		if got := p.backoff(failures); got != want {
			t.Fatalf("backoff(%d) = %v, want %v", failures, got, want)
		}
	}
	if p.batchSize != 50 {
		t.Fatalf("expected default batch size, got %d", p.batchSize)
	}
}
