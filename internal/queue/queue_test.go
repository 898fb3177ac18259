package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trendscope/trendscope/internal/errkind"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	opts := DefaultOptions()
	opts.MaxAttempts = 2
	return New(client, opts, nil)
}

func TestEnqueueAndDrain(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	payload := map[string]string{"topic": "summervibes"}
	if err := q.Enqueue(ctx, payload, errkind.Database); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Fatalf("depth = %d, want 1", depth)
	}

	var got map[string]string
	handled, err := q.Drain(ctx, func(ctx context.Context, raw json.RawMessage) error {
		return json.Unmarshal(raw, &got)
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if handled != 1 {
		t.Fatalf("handled = %d, want 1", handled)
	}
	if got["topic"] != "summervibes" {
		t.Errorf("payload = %+v", got)
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Errorf("depth after drain = %d, want 0", depth)
	}
}

func TestDrainReschedulesFailuresWithBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	if err := q.Enqueue(ctx, "payload", errkind.Network); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	fail := func(context.Context, json.RawMessage) error {
		return errkind.New(errkind.Database, "still broken")
	}

	// First attempt fails and reschedules one minute out.
	if handled, err := q.Drain(ctx, fail); err != nil || handled != 0 {
		t.Fatalf("first drain: handled=%d err=%v", handled, err)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Fatalf("depth after failure = %d, want 1 rescheduled", depth)
	}

	// Not yet due: nothing happens.
	q.now = func() time.Time { return base.Add(30 * time.Second) }
	if handled, _ := q.Drain(ctx, fail); handled != 0 {
		t.Fatalf("premature drain handled %d items", handled)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Fatalf("depth changed before due time")
	}

	// Due again; second failure exhausts MaxAttempts=2 and drops the item.
	q.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := q.Drain(ctx, fail); err != nil {
		t.Fatalf("final drain: %v", err)
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Errorf("depth after permanent failure = %d, want 0", depth)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	q := newTestQueue(t)
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{10, 32 * time.Minute},
	}
	for _, tc := range cases {
		if got := q.backoff(tc.attempts); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestDrainDropsPoisonEntries(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.client.ZAdd(ctx, q.opts.Key, redis.Z{Score: 0, Member: "not json"})
	handled, err := q.Drain(ctx, func(context.Context, json.RawMessage) error { return nil })
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if handled != 0 {
		t.Errorf("handled = %d, want 0", handled)
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Errorf("poison entry not removed, depth = %d", depth)
	}
}
