package outbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextBackoff(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
	}
	for _, tc := range cases {
		if got := nextBackoff(tc.attempts); got != tc.want {
			t.Errorf("nextBackoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestDeliver_FansOutToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher(nil, time.Second, 32, a, b)

	ev := Event{ID: "ev-1", Topic: "order.chosen", Payload: []byte(`{"order_id":"o1"}`)}
	if err := d.deliver(context.Background(), ev); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if a.topic != "order.chosen" || b.topic != "order.chosen" {
		t.Errorf("expected both sinks to receive the event, got %q and %q", a.topic, b.topic)
	}
}

func TestDeliver_FailsWhenAnySinkFails(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("fcm unavailable")}
	d := NewDispatcher(nil, time.Second, 32, ok, bad)

	err := d.deliver(context.Background(), Event{ID: "ev-1", Topic: "chat.message"})
	if err == nil {
		t.Fatalf("expected delivery error")
	}
}

type recordingSink struct {
	name  string
	err   error
	topic string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, topic string, payload []byte) error {
	if s.err != nil {
		return s.err
	}
	s.topic = topic
	return nil
}
