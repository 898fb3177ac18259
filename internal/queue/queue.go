// Package queue implements the durable retry queue for records that could
// not be persisted, backed by a Redis sorted set keyed on next-attempt time.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/obs"
)

// Item is one queued retry entry. The sorted-set score is NextAttemptAt as a
// unix timestamp, so due items sort first.
type Item struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	ErrorKind     errkind.Kind    `json:"error_kind"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// Handler processes one due payload. A nil return removes the item; an error
// reschedules it with backoff until the attempt budget is spent.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Options tune the queue.
type Options struct {
	Key           string
	DrainInterval time.Duration
	DrainBatch    int
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

// DefaultOptions mirror the deployment defaults: drain every 30s, retry with
// 1m doubling backoff capped at 32m, give up after 6 attempts.
func DefaultOptions() Options {
	return Options{
		Key:           "trendscope:retry",
		DrainInterval: 30 * time.Second,
		DrainBatch:    50,
		MaxAttempts:   6,
		BackoffBase:   time.Minute,
		BackoffMax:    32 * time.Minute,
	}
}

// Queue is the Redis-backed retry queue.
type Queue struct {
	client *redis.Client
	opts   Options
	logger *zap.Logger

	now func() time.Time
}

// New wires a queue over an existing Redis client.
func New(client *redis.Client, opts Options, logger *zap.Logger) *Queue {
	def := DefaultOptions()
	if opts.Key == "" {
		opts.Key = def.Key
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = def.DrainInterval
	}
	if opts.DrainBatch <= 0 {
		opts.DrainBatch = def.DrainBatch
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = def.BackoffMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, opts: opts, logger: logger, now: time.Now}
}

// Enqueue stores a payload for retry. The first attempt becomes due
// immediately. Satisfies the pipeline's RetrySink.
func (q *Queue) Enqueue(ctx context.Context, payload interface{}, kind errkind.Kind) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errkind.Wrap(errkind.Data, err, "marshal queue payload")
	}
	now := q.now().UTC()
	item := Item{
		ID:            uuid.NewString(),
		Payload:       raw,
		Attempts:      0,
		NextAttemptAt: now,
		ErrorKind:     kind,
		EnqueuedAt:    now,
	}
	if err := q.push(ctx, item); err != nil {
		return err
	}
	q.observeDepth(ctx)
	return nil
}

func (q *Queue) push(ctx context.Context, item Item) error {
	member, err := json.Marshal(item)
	if err != nil {
		return errkind.Wrap(errkind.Data, err, "marshal queue item")
	}
	err = q.client.ZAdd(ctx, q.opts.Key, redis.Z{
		Score:  float64(item.NextAttemptAt.Unix()),
		Member: string(member),
	}).Err()
	if err != nil {
		return errkind.Wrap(errkind.Network, err, "zadd retry item")
	}
	return nil
}

// Depth returns the number of queued items, due or not.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	card, err := q.client.ZCard(ctx, q.opts.Key).Result()
	if err != nil {
		return 0, errkind.Wrap(errkind.Network, err, "zcard retry queue")
	}
	return card, nil
}

func (q *Queue) observeDepth(ctx context.Context) {
	if depth, err := q.Depth(ctx); err == nil {
		obs.RetryQueueDepth.Set(float64(depth))
	}
}

// Drain processes all currently-due items once and returns how many were
// handled successfully.
func (q *Queue) Drain(ctx context.Context, handle Handler) (int, error) {
	log := obs.With(ctx, q.logger)
	now := q.now().UTC()

	members, err := q.client.ZRangeByScore(ctx, q.opts.Key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatUnix(now),
		Count: int64(q.opts.DrainBatch),
	}).Result()
	if err != nil {
		return 0, errkind.Wrap(errkind.Network, err, "range due retry items")
	}

	done := 0
	for _, member := range members {
		if ctx.Err() != nil {
			break
		}
		var item Item
		if err := json.Unmarshal([]byte(member), &item); err != nil {
			// Poison entry: drop it rather than loop forever.
			log.Error("dropping unreadable retry item", zap.Error(err))
			q.client.ZRem(ctx, q.opts.Key, member)
			continue
		}

		herr := handle(ctx, item.Payload)
		q.client.ZRem(ctx, q.opts.Key, member)
		if herr == nil {
			done++
			continue
		}

		item.Attempts++
		if item.Attempts >= q.opts.MaxAttempts {
			obs.RetryQueuePermanentFailures.Inc()
			log.Error("retry item permanently failed",
				append([]zap.Field{
					zap.String("item_id", item.ID),
					zap.Int("attempts", item.Attempts),
					zap.String("original_kind", string(item.ErrorKind)),
				}, obs.ErrFields(herr)...)...)
			continue
		}

		item.NextAttemptAt = now.Add(q.backoff(item.Attempts))
		if perr := q.push(ctx, item); perr != nil {
			log.Error("failed to reschedule retry item",
				append([]zap.Field{zap.String("item_id", item.ID)}, obs.ErrFields(perr)...)...)
		}
	}

	q.observeDepth(ctx)
	return done, nil
}

// backoff doubles from the base per attempt and caps at the maximum:
// 1m, 2m, 4m, ... 32m with the defaults.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	if d > q.opts.BackoffMax {
		d = q.opts.BackoffMax
	}
	return d
}

// Run drains on the configured interval until the context ends.
func (q *Queue) Run(ctx context.Context, handle Handler) {
	log := obs.With(ctx, q.logger)
	ticker := time.NewTicker(q.opts.DrainInterval)
	defer ticker.Stop()

	log.Info("retry queue drain loop started",
		zap.Duration("interval", q.opts.DrainInterval),
		zap.String("key", q.opts.Key))
	for {
		select {
		case <-ctx.Done():
			log.Info("retry queue drain loop stopped")
			return
		case <-ticker.C:
			if n, err := q.Drain(ctx, handle); err != nil {
				log.Warn("retry drain failed", obs.ErrFields(err)...)
			} else if n > 0 {
				log.Info("retry drain complete", zap.Int("handled", n))
			}
		}
	}
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
