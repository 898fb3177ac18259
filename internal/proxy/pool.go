package proxy

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/obs"
)

// Strategy selects how Acquire picks among eligible entries.
type Strategy string

const (
	StrategyHealthBased Strategy = "health_based"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyRandom      Strategy = "random"
)

// ValidStrategy reports whether s names a known rotation strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyHealthBased, StrategyRoundRobin, StrategyRandom:
		return true
	}
	return false
}

// Options configures pool behaviour.
type Options struct {
	Strategy              Strategy
	CircuitThreshold      int           // consecutive failures to trip open
	CircuitTimeout        time.Duration // open -> half-open wait
	MaxConcurrentPerEntry int
	MinHealth             float64 // entries below are skipped
	BackoffBase           time.Duration
	BackoffMax            time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Strategy:              StrategyHealthBased,
		CircuitThreshold:      5,
		CircuitTimeout:        300 * time.Second,
		MaxConcurrentPerEntry: 10,
		MinHealth:             0.1,
		BackoffBase:           time.Second,
		BackoffMax:            60 * time.Second,
	}
}

// Pool is a thread-safe set of proxy entries. All entry mutations go through
// Acquire/Release/RecordSuccess/RecordFailure.
type Pool struct {
	mu      sync.Mutex
	entries []*Entry
	opts    Options
	rrIndex int
	logger  *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewPool builds a pool over the given entries.
func NewPool(entries []*Entry, opts Options, logger *zap.Logger) *Pool {
	if opts.CircuitThreshold <= 0 {
		opts.CircuitThreshold = 5
	}
	if opts.CircuitTimeout <= 0 {
		opts.CircuitTimeout = 300 * time.Second
	}
	if opts.MaxConcurrentPerEntry <= 0 {
		opts.MaxConcurrentPerEntry = 10
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 60 * time.Second
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyHealthBased
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{entries: entries, opts: opts, logger: logger, now: time.Now}
}

// Size returns the number of configured entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// eligible applies the exclusion rules under the pool lock: open circuits not
// yet due for probing, saturated entries, backoff windows, low health.
func (p *Pool) eligible(tags []string, exclude map[string]bool) []*Entry {
	now := p.now()
	var out []*Entry
	for _, e := range p.entries {
		if exclude[e.Key()] {
			continue
		}
		if len(tags) > 0 {
			match := false
			for _, tag := range tags {
				if e.HasTag(tag) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if e.circuit == CircuitOpen {
			if now.Sub(e.stateSince) < p.opts.CircuitTimeout {
				continue
			}
			// Timeout elapsed: probe via half-open.
			e.circuit = CircuitHalfOpen
			e.stateSince = now
		}
		if e.inFlight >= p.opts.MaxConcurrentPerEntry {
			continue
		}
		if now.Before(e.nextEligibleAt) {
			continue
		}
		if e.healthScore(now) < p.opts.MinHealth {
			continue
		}
		out = append(out, e)
	}
	obs.ProxyPoolAvailable.Set(float64(len(out)))
	return out
}

// Acquire returns the best entry per the configured strategy, or nil when no
// entry is eligible. The caller must Release it.
func (p *Pool) Acquire(tags []string, exclude map[string]bool) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.eligible(tags, exclude)
	if len(candidates) == 0 {
		return nil
	}

	var chosen *Entry
	switch p.opts.Strategy {
	case StrategyRoundRobin:
		chosen = candidates[p.rrIndex%len(candidates)]
		p.rrIndex++
	case StrategyRandom:
		chosen = candidates[rand.Intn(len(candidates))]
	default: // health_based
		now := p.now()
		best := -1.0
		for _, e := range candidates {
			if h := e.healthScore(now); h > best {
				best = h
				chosen = e
			}
		}
	}

	chosen.inFlight++
	obs.ProxySelections.WithLabelValues(chosen.Key()).Inc()
	return chosen
}

// Release decrements the in-flight count for an acquired entry.
func (p *Pool) Release(entry *Entry) {
	if entry == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry.inFlight > 0 {
		entry.inFlight--
	}
}

// RecordSuccess credits the entry, resets its failure streak and closes the
// circuit.
func (p *Pool) RecordSuccess(entry *Entry, latency time.Duration) {
	if entry == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	entry.score += 2
	if entry.score > 100 {
		entry.score = 100
	}
	entry.consecutiveFailures = 0
	entry.nextEligibleAt = time.Time{}
	entry.successes++
	entry.totalLatency += latency
	entry.lastSuccess = p.now()
	if entry.circuit != CircuitClosed {
		entry.circuit = CircuitClosed
		entry.stateSince = p.now()
		p.logger.Info("proxy circuit closed", zap.String("proxy_key", entry.Key()))
	}
	obs.ProxySuccesses.Inc()
}

// failurePenalty maps error kinds to score penalties.
func failurePenalty(kind errkind.Kind) float64 {
	switch kind {
	case errkind.Timeout:
		return 3
	case errkind.Auth:
		return 10
	default:
		return 5
	}
}

// RecordFailure debits the entry, applies the failure backoff and trips the
// circuit when the consecutive-failure threshold is crossed. A failure during
// half-open re-opens immediately.
func (p *Pool) RecordFailure(entry *Entry, kind errkind.Kind) {
	if entry == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	entry.score -= failurePenalty(kind)
	if entry.score < 0 {
		entry.score = 0
	}
	entry.failures++
	entry.consecutiveFailures++

	// Exponential skip window: base*2^(k-1), capped.
	backoff := p.opts.BackoffBase << uint(entry.consecutiveFailures-1)
	if backoff > p.opts.BackoffMax || backoff <= 0 {
		backoff = p.opts.BackoffMax
	}
	entry.nextEligibleAt = now.Add(backoff)

	opened := false
	if entry.circuit == CircuitHalfOpen {
		entry.circuit = CircuitOpen
		entry.stateSince = now
		opened = true
	} else if entry.circuit == CircuitClosed && entry.consecutiveFailures >= p.opts.CircuitThreshold {
		entry.circuit = CircuitOpen
		entry.stateSince = now
		opened = true
	}
	if opened {
		obs.ProxyCircuitOpens.Inc()
		p.logger.Warn("proxy circuit opened",
			zap.String("proxy_key", entry.Key()),
			zap.Int("consecutive_failures", entry.consecutiveFailures),
			zap.String("error_kind", string(kind)))
	}
	obs.ProxyFailures.WithLabelValues(string(kind)).Inc()
}

// Snapshots returns a read-only view of every entry for the stats surface.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]Snapshot, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, Snapshot{
			Key:                 e.Key(),
			Region:              e.Region,
			Tags:                e.Tags,
			HealthScore:         e.healthScore(now),
			CircuitState:        e.circuit.String(),
			StateSince:          e.stateSince,
			ConsecutiveFailures: e.consecutiveFailures,
			Successes:           e.successes,
			Failures:            e.failures,
			InFlight:            e.inFlight,
		})
	}
	return out
}
