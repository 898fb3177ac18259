package proxy

import (
	"context"
	"time"

	"github.com/trendscope/trendscope/internal/errkind"
)

// Op is a proxied operation. It receives the acquired entry (nil when the
// pool is empty and proxyless operation is allowed).
type Op func(ctx context.Context, entry *Entry) error

// ExecuteWithRetry runs op through the pool with classification and
// exponential backoff (1s, 2s, 4s, ... capped at 60s). Each attempt acquires
// a fresh entry, excluding entries that already failed in this call. Sleeps
// are cancellable via ctx.
func (p *Pool) ExecuteWithRetry(ctx context.Context, op Op, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	exclude := make(map[string]bool)
	delay := time.Second

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errkind.Wrap(errkind.Timeout, ctx.Err(), "retry cancelled")
			case <-time.After(delay):
			}
			delay *= 2
			if delay > 60*time.Second {
				delay = 60 * time.Second
			}
		}

		entry := p.Acquire(nil, exclude)
		if entry == nil && p.Size() > 0 {
			// Everything excluded so far; retry the full pool.
			exclude = make(map[string]bool)
			entry = p.Acquire(nil, exclude)
		}
		if entry == nil && p.Size() > 0 {
			lastErr = errkind.New(errkind.Proxy, "no proxy available")
			continue
		}

		start := time.Now()
		err := op(ctx, entry)
		if entry != nil {
			if err == nil {
				p.RecordSuccess(entry, time.Since(start))
			} else {
				kind := errkind.KindOf(err)
				p.RecordFailure(entry, kind)
				exclude[entry.Key()] = true
			}
			p.Release(entry)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = errkind.New(errkind.Proxy, "retries exhausted")
	}
	return errkind.Wrap(errkind.Proxy, lastErr, "all proxy attempts failed")
}
