// Package etl implements the validate / transform / dedupe / load stages
// between adapter output and the store.
package etl

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/adapter"
	"github.com/trendscope/trendscope/internal/enrich"
	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/obs"
	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// Strategy selects the duplicate-handling behaviour.
type Strategy string

const (
	StrategyUpdate Strategy = "update"
	StrategyIgnore Strategy = "ignore"
	StrategyError  Strategy = "error"
)

// RetrySink receives records whose persistence failed terminally; the
// offline queue implements it.
type RetrySink interface {
	Enqueue(ctx context.Context, payload interface{}, kind errkind.Kind) error
}

// Options bound one pipeline run.
type Options struct {
	Strategy  Strategy
	BatchSize int
	DBTimeout time.Duration
}

// Pipeline runs adapter records through validation, transformation,
// deduplication and chunked loading.
type Pipeline struct {
	store  store.Store
	sink   RetrySink
	logger *zap.Logger
	opts   Options
}

// NewPipeline wires a pipeline. BatchSize defaults to 100 and is capped at
// 1000.
func NewPipeline(st store.Store, sink RetrySink, opts Options, logger *zap.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BatchSize > 1000 {
		opts.BatchSize = 1000
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyUpdate
	}
	if opts.DBTimeout <= 0 {
		opts.DBTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: st, sink: sink, logger: logger, opts: opts}
}

// Loaded pairs a persisted trend with its source record; the snapshotter
// consumes it.
type Loaded struct {
	Trend  *store.Trend
	Record adapter.TrendRecord
}

// Result summarizes one pipeline run.
type Result struct {
	Scraped  int
	Uploaded int
	Invalid  int
	Skipped  int
	Enqueued int
	Loaded   []Loaded
}

// prepared is a record that survived validation and transformation.
type prepared struct {
	record          adapter.TrendRecord
	normalizedTopic string
}

// Run executes all stages for one adapter output set tagged by runID.
func (p *Pipeline) Run(ctx context.Context, runID uuid.UUID, records []adapter.TrendRecord) (*Result, error) {
	log := obs.With(ctx, p.logger)
	res := &Result{Scraped: len(records)}

	// Validate + transform.
	var ready []prepared
	for _, rec := range records {
		pr, err := p.prepare(rec)
		if err != nil {
			res.Invalid++
			obs.RecordsInvalid.WithLabelValues(string(rec.Platform)).Inc()
			log.Warn("record rejected by validation",
				append([]zap.Field{zap.String("topic", rec.Topic)}, obs.ErrFields(err)...)...)
			continue
		}
		ready = append(ready, pr)
	}

	// Dedupe: primary key URL, fallback normalized topic within the source.
	deduped, skipped, err := p.dedupe(ready, log)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	// Load in independent chunks.
	for start := 0; start < len(deduped); start += p.opts.BatchSize {
		end := start + p.opts.BatchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		p.loadChunk(ctx, runID, deduped[start:end], res, log)
	}

	return res, nil
}

// prepare validates one record and computes its normalized topic. Validation
// failures are DATA errors; oversized metric values are clamped to their
// caps rather than rejected.
func (p *Pipeline) prepare(rec adapter.TrendRecord) (prepared, error) {
	normalized := NormalizeTopic(rec.Topic)
	if len(normalized) < 2 || len(normalized) > 50 {
		return prepared{}, errkind.New(errkind.Data, "normalized topic %q out of range", normalized)
	}
	if rec.URL != "" {
		if len(rec.URL) > 500 {
			return prepared{}, errkind.New(errkind.Data, "url longer than 500 chars")
		}
		if !strings.HasPrefix(rec.URL, "http://") && !strings.HasPrefix(rec.URL, "https://") && !strings.HasPrefix(rec.URL, "/") {
			return prepared{}, errkind.New(errkind.Data, "url has unsupported prefix")
		}
	}
	lang := rec.Sentiment.PrimaryLanguage
	if lang == "" {
		rec.Sentiment.PrimaryLanguage = enrich.LanguageUnknown
		lang = enrich.LanguageUnknown
	}
	if lang != enrich.LanguageUnknown && len(lang) != 2 {
		return prepared{}, errkind.New(errkind.Data, "language %q is not ISO-639-1", lang)
	}
	if !store.ValidPlatform(rec.Platform) {
		return prepared{}, errkind.New(errkind.Data, "unknown platform %q", rec.Platform)
	}

	rec.Engagement.Likes = clampMetric(store.MetricLikes, rec.Engagement.Likes)
	rec.Engagement.Comments = clampMetric(store.MetricComments, rec.Engagement.Comments)
	rec.Engagement.Views = clampMetric(store.MetricViews, rec.Engagement.Views)
	rec.Score = score.Clamp(rec.Score)
	if rec.ScrapedAt.IsZero() {
		rec.ScrapedAt = time.Now().UTC()
	}

	return prepared{record: rec, normalizedTopic: normalized}, nil
}

func clampMetric(t store.MetricType, v int64) int64 {
	if v < 0 {
		return 0
	}
	if cap, ok := store.MetricCaps[t]; ok && v > cap {
		return cap
	}
	return v
}

// dedupe collapses in-run duplicates per the configured strategy.
func (p *Pipeline) dedupe(ready []prepared, log *zap.Logger) ([]prepared, int, error) {
	byKey := make(map[string]int)
	var out []prepared
	skipped := 0
	for _, pr := range ready {
		key := pr.record.URL
		if key == "" {
			key = string(pr.record.Platform) + "|" + pr.normalizedTopic
		}
		idx, dup := byKey[key]
		if !dup {
			byKey[key] = len(out)
			out = append(out, pr)
			continue
		}
		switch p.opts.Strategy {
		case StrategyIgnore:
			skipped++
			log.Warn("duplicate record skipped",
				zap.String("key", key),
				zap.String("topic", pr.record.Topic))
		case StrategyError:
			return nil, skipped, errkind.New(errkind.Data, "duplicate record for %q", key)
		default: // update: the later record overwrites mutable fields
			out[idx] = pr
		}
	}
	return out, skipped, nil
}

// loadChunk persists one chunk with up to three attempts (1s, 2s, 3s).
// Chunk failures do not abort other chunks; records that cannot be persisted
// are handed to the retry sink with their classified kind.
func (p *Pipeline) loadChunk(ctx context.Context, runID uuid.UUID, chunk []prepared, res *Result, log *zap.Logger) {
	start := time.Now()
	defer func() {
		obs.DBUploadDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	pending := chunk
	for attempt := 1; attempt <= 3; attempt++ {
		var failed []prepared
		var lastErr error
		for _, pr := range pending {
			if err := p.upsertOne(ctx, runID, pr, res); err != nil {
				failed = append(failed, pr)
				lastErr = err
			}
		}
		if len(failed) == 0 {
			return
		}
		pending = failed
		if attempt < 3 {
			log.Warn("batch attempt failed, retrying",
				append([]zap.Field{zap.Int("attempt", attempt), zap.Int("failed", len(pending))},
					obs.ErrFields(lastErr)...)...)
			select {
			case <-ctx.Done():
				attempt = 3
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	// Terminal: hand the stragglers to the offline queue.
	for _, pr := range pending {
		if p.sink == nil {
			continue
		}
		payload := queuedRecord{RunVersionID: runID.String(), Record: pr.record}
		if err := p.sink.Enqueue(ctx, payload, errkind.Database); err != nil {
			log.Error("failed to enqueue record for retry",
				append([]zap.Field{zap.String("topic", pr.record.Topic)}, obs.ErrFields(err)...)...)
			continue
		}
		res.Enqueued++
	}
}

// queuedRecord is the offline-queue payload for a failed write.
type queuedRecord struct {
	RunVersionID string              `json:"run_version_id"`
	Record       adapter.TrendRecord `json:"record"`
}

func (p *Pipeline) upsertOne(ctx context.Context, runID uuid.UUID, pr prepared, res *Result) error {
	cctx, cancel := context.WithTimeout(ctx, p.opts.DBTimeout)
	defer cancel()

	trend := &store.Trend{
		Platform:        pr.record.Platform,
		Topic:           pr.record.Topic,
		NormalizedTopic: pr.normalizedTopic,
		URL:             pr.record.URL,
		LastSeenAt:      pr.record.ScrapedAt,
		Metadata: map[string]string{
			"run_version_id": runID.String(),
		},
	}
	if err := p.store.UpsertTrend(cctx, trend); err != nil {
		return errkind.Classify(errkind.Database, err, "upsert trend")
	}

	res.Uploaded++
	obs.RecordsUploaded.WithLabelValues(string(pr.record.Platform)).Inc()
	res.Loaded = append(res.Loaded, Loaded{Trend: trend, Record: pr.record})
	return nil
}
