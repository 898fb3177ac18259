package adapter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/trendscope/trendscope/internal/browser"
	"github.com/trendscope/trendscope/internal/enrich"
	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/obs"
	"github.com/trendscope/trendscope/internal/proxy"
)

// HarvestConfig bounds one harvest pass.
type HarvestConfig struct {
	DiscoveryLimit      int
	MinDiscoveryItems   int
	MaxDiscoveryRetries int
	SampleLimit         int
	FanOut              int

	Headless  bool
	Locale    string
	Timezone  string
	UserAgent string
}

// Harvester drives one adapter through discovery and enrichment, managing
// proxy acquisition, session scope and bounded fan-out.
type Harvester struct {
	factory  browser.Factory
	pool     *proxy.Pool
	analyzer *enrich.Analyzer
	logger   *zap.Logger
	cfg      HarvestConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // keyed per platform
}

// NewHarvester wires a harvester.
func NewHarvester(factory browser.Factory, pool *proxy.Pool, analyzer *enrich.Analyzer, cfg HarvestConfig, logger *zap.Logger) *Harvester {
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = 20
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 3
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{
		factory:  factory,
		pool:     pool,
		analyzer: analyzer,
		logger:   logger,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// wait enforces the adapter's platform pacing before a navigation burst.
func (h *Harvester) wait(ctx context.Context, a Adapter) error {
	h.mu.Lock()
	lim, ok := h.limiters[string(a.Platform())]
	if !ok {
		lim = rate.NewLimiter(rate.Every(a.RateDelay()), 1)
		h.limiters[string(a.Platform())] = lim
	}
	h.mu.Unlock()
	return lim.Wait(ctx)
}

func (h *Harvester) sessionOpts(entry *proxy.Entry) browser.Options {
	opts := browser.Options{
		Locale:       h.cfg.Locale,
		Timezone:     h.cfg.Timezone,
		UserAgent:    h.cfg.UserAgent,
		Headless:     h.cfg.Headless,
		ViewportW:    1366,
		ViewportH:    900,
		ExtraHeaders: browser.StealthHeaders(h.cfg.Locale),
	}
	if entry != nil {
		opts.ProxyURL = entry.URL()
	}
	return opts
}

// Harvest runs the full discover/enrich/aggregate pass for one adapter and
// returns the per-topic records. Discovery below the configured minimum is
// retried with a fresh proxy; enrichment failures degrade to discovery-page
// data instead of failing the run.
func (h *Harvester) Harvest(ctx context.Context, a Adapter) ([]TrendRecord, error) {
	platform := a.Platform()
	log := obs.With(ctx, h.logger).With(zap.String("platform", string(platform)))

	raws, err := h.discover(ctx, a, log)
	if err != nil {
		return nil, err
	}
	obs.RecordsScraped.WithLabelValues(string(platform)).Add(float64(len(raws)))
	log.Info("discovery complete", zap.Int("candidates", len(raws)))

	enriched := make([]EnrichedTrend, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.FanOut)
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			enriched[i] = h.enrichOne(gctx, a, raw, log)
			return nil // per-sample failures never abort the group
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, errkind.Wrap(errkind.Timeout, ctx.Err(), "harvest cancelled")
	}

	return Aggregate(platform, enriched, time.Now().UTC()), nil
}

func (h *Harvester) discover(ctx context.Context, a Adapter, log *zap.Logger) ([]RawTrend, error) {
	platform := string(a.Platform())
	exclude := make(map[string]bool)

	var raws []RawTrend
	var lastErr error
	attempts := h.cfg.MaxDiscoveryRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := h.wait(ctx, a); err != nil {
			return nil, errkind.Wrap(errkind.Timeout, err, "rate wait")
		}

		entry := h.pool.Acquire(nil, exclude)
		proxyUsed := "none"
		if entry != nil {
			proxyUsed = entry.Key()
		}

		start := time.Now()
		err := browser.WithSession(ctx, h.factory, h.sessionOpts(entry), func(sess browser.Session) error {
			var derr error
			raws, derr = a.Discover(ctx, sess, h.cfg.DiscoveryLimit)
			return derr
		})
		obs.ScrapeAttemptDuration.WithLabelValues(platform, proxyUsed).
			Observe(float64(time.Since(start).Milliseconds()))

		if entry != nil {
			if err != nil {
				h.pool.RecordFailure(entry, errkind.KindOf(err))
				exclude[entry.Key()] = true
			} else {
				h.pool.RecordSuccess(entry, time.Since(start))
			}
			h.pool.Release(entry)
		}

		if err != nil {
			lastErr = err
			log.Warn("discovery attempt failed", append([]zap.Field{zap.Int("attempt", attempt + 1)}, obs.ErrFields(err)...)...)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(raws) >= h.cfg.MinDiscoveryItems {
			return raws, nil
		}
		log.Warn("discovery below minimum, retrying with fresh proxy",
			zap.Int("items", len(raws)), zap.Int("minimum", h.cfg.MinDiscoveryItems))
		lastErr = nil
	}

	if lastErr != nil {
		return nil, errkind.Classify(errkind.Scrape, lastErr, "discovery failed")
	}
	// Exhausted retries but got something: partial results still count.
	return raws, nil
}

// enrichOne runs enrichment for a single raw trend in its own session and
// attaches sentiment/language signals to the samples.
func (h *Harvester) enrichOne(ctx context.Context, a Adapter, raw RawTrend, log *zap.Logger) EnrichedTrend {
	fallback := EnrichedTrend{
		Raw:     raw,
		Samples: []Sample{{URL: raw.URL, Engagement: raw.Engagement, ContentType: "post"}},
	}
	if ctx.Err() != nil {
		return fallback
	}

	entry := h.pool.Acquire(nil, nil)
	var et EnrichedTrend
	start := time.Now()
	err := browser.WithSession(ctx, h.factory, h.sessionOpts(entry), func(sess browser.Session) error {
		var eerr error
		et, eerr = a.Enrich(ctx, sess, raw, h.cfg.SampleLimit)
		return eerr
	})
	if entry != nil {
		if err != nil {
			h.pool.RecordFailure(entry, errkind.KindOf(err))
		} else {
			h.pool.RecordSuccess(entry, time.Since(start))
		}
		h.pool.Release(entry)
	}
	if err != nil {
		log.Warn("enrichment degraded to discovery data",
			append([]zap.Field{zap.String("topic", raw.Topic)}, obs.ErrFields(err)...)...)
		return fallback
	}

	for i := range et.Samples {
		et.Samples[i].Signal = h.analyzer.Analyze(et.Samples[i].Caption)
	}
	return et
}
