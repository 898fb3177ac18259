// Package snapshot turns loaded trend records into dated, ranked version
// rows and runs the lifecycle pass (declining, archival, decay) over the
// trend table.
package snapshot

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/adapter"
	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/etl"
	"github.com/trendscope/trendscope/internal/obs"
	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// Options configure lifecycle and decay behaviour.
type Options struct {
	DecayRateWeekly float64 // fraction removed per inactive week
	InactiveDays    int     // days without sighting before declining
	ExpirationDays  int     // days without sighting before archive/delete
	ArchiveEnabled  bool    // archive instead of delete at expiration
}

// DefaultOptions mirror the deployment defaults.
func DefaultOptions() Options {
	return Options{
		DecayRateWeekly: 0.05,
		InactiveDays:    7,
		ExpirationDays:  30,
		ArchiveEnabled:  true,
	}
}

// Snapshotter writes ranked version rows and maintains trend lifecycle.
type Snapshotter struct {
	store  store.Store
	logger *zap.Logger
	opts   Options

	now func() time.Time
}

// New wires a snapshotter.
func New(st store.Store, opts Options, logger *zap.Logger) *Snapshotter {
	if opts.DecayRateWeekly <= 0 {
		opts.DecayRateWeekly = 0.05
	}
	if opts.InactiveDays <= 0 {
		opts.InactiveDays = 7
	}
	if opts.ExpirationDays <= 0 {
		opts.ExpirationDays = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{store: st, logger: logger, opts: opts, now: time.Now}
}

// Result summarizes one snapshot pass.
type Result struct {
	Versions int
	Ranked   []Ranked
}

// Ranked pairs a trend with its computed rank for this run.
type Ranked struct {
	TrendID int64
	Topic   string
	Score   float64
	Rank    int
}

// Snapshot writes one version row per loaded record. Ranks are assigned
// within the run by descending score, ties broken alphabetically by
// normalized topic. Version numbers are monotonic within a version date
// regardless of how many runs share that date.
func (s *Snapshotter) Snapshot(ctx context.Context, runID uuid.UUID, loaded []etl.Loaded) (*Result, error) {
	log := obs.With(ctx, s.logger)

	ordered := make([]etl.Loaded, len(loaded))
	copy(ordered, loaded)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Record.Score != ordered[j].Record.Score {
			return ordered[i].Record.Score > ordered[j].Record.Score
		}
		return ordered[i].Trend.NormalizedTopic < ordered[j].Trend.NormalizedTopic
	})

	res := &Result{}
	for rank, ld := range ordered {
		version, err := s.buildVersion(ctx, runID, ld, rank+1)
		if err != nil {
			return res, err
		}
		if err := s.store.InsertVersion(ctx, version); err != nil {
			return res, errkind.Classify(errkind.Database, err, "insert version")
		}
		res.Versions++
		res.Ranked = append(res.Ranked, Ranked{
			TrendID: ld.Trend.ID,
			Topic:   ld.Record.Topic,
			Score:   version.EngagementScore,
			Rank:    version.Rank,
		})
	}

	log.Info("snapshot written", zap.Int("versions", res.Versions))
	return res, nil
}

func (s *Snapshotter) buildVersion(ctx context.Context, runID uuid.UUID, ld etl.Loaded, rank int) (*store.TrendVersion, error) {
	rec := ld.Record
	versionDate := store.Midnight(rec.ScrapedAt)

	maxNum, err := s.store.MaxVersionNumber(ctx, ld.Trend.ID, versionDate)
	if err != nil {
		return nil, errkind.Classify(errkind.Database, err, "max version number")
	}

	prev, err := s.store.LatestVersionBefore(ctx, ld.Trend.ID, versionDate)
	if err != nil {
		return nil, errkind.Classify(errkind.Database, err, "latest prior version")
	}

	version := &store.TrendVersion{
		TrendID:            ld.Trend.ID,
		VersionDate:        versionDate,
		VersionNumber:      maxNum + 1,
		EngagementScore:    rec.Score,
		SentimentPolarity:  rec.Sentiment.Polarity,
		SentimentLabel:     rec.Sentiment.Label,
		Language:           rec.Sentiment.PrimaryLanguage,
		LanguageConfidence: rec.Sentiment.MeanConfidence,
		Rank:               rank,
		ScrapedAt:          rec.ScrapedAt,
		RunVersionID:       runID,
		Metrics:            buildMetrics(rec, versionDate),
	}
	if prev != nil {
		version.Change = changeFrom(prev, version)
	}
	return version, nil
}

func buildMetrics(rec adapter.TrendRecord, collectedAt time.Time) []store.Metric {
	e := rec.Engagement
	return []store.Metric{
		{Type: store.MetricLikes, Value: e.Likes, Unit: "count", CollectedAt: collectedAt},
		{Type: store.MetricComments, Value: e.Comments, Unit: "count", CollectedAt: collectedAt},
		{Type: store.MetricShares, Value: e.Shares, Unit: "count", CollectedAt: collectedAt},
		{Type: store.MetricViews, Value: e.Views, Unit: "count", CollectedAt: collectedAt},
	}
}

// changeFrom builds the per-measure deltas against the latest prior snapshot.
// Rank deltas are inverted: a smaller rank number is an improvement.
func changeFrom(prev, cur *store.TrendVersion) *store.ChangeFromPrevious {
	c := &store.ChangeFromPrevious{
		PreviousDate:    prev.VersionDate.Format("2006-01-02"),
		EngagementScore: delta(prev.EngagementScore, cur.EngagementScore, false),
		Rank:            delta(float64(prev.Rank), float64(cur.Rank), true),
	}
	prevMetrics := metricValues(prev.Metrics)
	curMetrics := metricValues(cur.Metrics)
	c.Likes = delta(prevMetrics[store.MetricLikes], curMetrics[store.MetricLikes], false)
	c.Comments = delta(prevMetrics[store.MetricComments], curMetrics[store.MetricComments], false)
	c.Views = delta(prevMetrics[store.MetricViews], curMetrics[store.MetricViews], false)
	return c
}

func metricValues(metrics []store.Metric) map[store.MetricType]float64 {
	out := make(map[store.MetricType]float64, len(metrics))
	for _, m := range metrics {
		out[m.Type] = float64(m.Value)
	}
	return out
}

// delta computes change and percent change. Moves under one percent count as
// stable. When the previous value is zero the percent change is 100 for any
// growth so new measures do not divide by zero.
func delta(prev, cur float64, lowerIsBetter bool) store.Delta {
	d := store.Delta{Previous: prev, Current: cur, Change: cur - prev}
	switch {
	case prev != 0:
		d.PercentChange = (cur - prev) / math.Abs(prev) * 100
	case cur != 0:
		d.PercentChange = 100
	}
	d.PercentChange = math.Round(d.PercentChange*100) / 100

	improved := d.Change > 0
	if lowerIsBetter {
		improved = d.Change < 0
	}
	switch {
	case math.Abs(d.PercentChange) < 1:
		d.Direction = "stable"
	case improved:
		d.Direction = "up"
	default:
		d.Direction = "down"
	}
	return d
}

// LifecycleResult summarizes one maintenance pass.
type LifecycleResult struct {
	Declining int
	Archived  int
	Deleted   int
	Decayed   int
}

// Lifecycle advances status for trends not seen recently, archives or deletes
// expired ones, and writes decayed snapshots for trends inactive a week or
// more. Status transitions only move forward.
func (s *Snapshotter) Lifecycle(ctx context.Context) (*LifecycleResult, error) {
	log := obs.With(ctx, s.logger)
	now := s.now().UTC()

	inactiveCutoff := now.AddDate(0, 0, -s.opts.InactiveDays)
	trends, err := s.store.ListTrendsSeenBefore(ctx, inactiveCutoff)
	if err != nil {
		return nil, errkind.Classify(errkind.Database, err, "list inactive trends")
	}

	expireCutoff := now.AddDate(0, 0, -s.opts.ExpirationDays)
	res := &LifecycleResult{}
	for _, t := range trends {
		if ctx.Err() != nil {
			return res, errkind.Wrap(errkind.Timeout, ctx.Err(), "lifecycle cancelled")
		}

		switch {
		case t.LastSeenAt.Before(expireCutoff):
			if s.opts.ArchiveEnabled {
				if t.Status != store.StatusArchived {
					if err := s.store.UpdateTrendStatus(ctx, t.ID, store.StatusArchived); err != nil {
						return res, errkind.Classify(errkind.Database, err, "archive trend")
					}
					res.Archived++
				}
			} else {
				if err := s.store.DeleteTrend(ctx, t.ID); err != nil {
					return res, errkind.Classify(errkind.Database, err, "delete expired trend")
				}
				res.Deleted++
				continue
			}
		case t.Status == store.StatusActive:
			if err := s.store.UpdateTrendStatus(ctx, t.ID, store.StatusDeclining); err != nil {
				return res, errkind.Classify(errkind.Database, err, "mark trend declining")
			}
			res.Declining++
		}

		decayed, err := s.decayOne(ctx, t, now)
		if err != nil {
			return res, err
		}
		if decayed {
			res.Decayed++
		}
	}

	log.Info("lifecycle pass complete",
		zap.Int("declining", res.Declining),
		zap.Int("archived", res.Archived),
		zap.Int("deleted", res.Deleted),
		zap.Int("decayed", res.Decayed))
	return res, nil
}

// decayOne writes one decayed snapshot for an inactive trend if its score has
// moved since the latest version. The decayed row keeps the prior rank and
// metrics so history stays continuous.
func (s *Snapshotter) decayOne(ctx context.Context, t *store.Trend, now time.Time) (bool, error) {
	latest, err := s.store.LatestVersion(ctx, t.ID)
	if err != nil {
		return false, errkind.Classify(errkind.Database, err, "latest version")
	}
	if latest == nil || latest.Decayed {
		return false, nil
	}

	weeks := int(now.Sub(t.LastSeenAt).Hours() / (24 * 7))
	if weeks < 1 {
		return false, nil
	}
	decayedScore := score.Decay(latest.EngagementScore, float64(weeks), s.opts.DecayRateWeekly)
	if decayedScore == latest.EngagementScore {
		return false, nil
	}

	versionDate := store.Midnight(now)
	maxNum, err := s.store.MaxVersionNumber(ctx, t.ID, versionDate)
	if err != nil {
		return false, errkind.Classify(errkind.Database, err, "max version number")
	}

	version := &store.TrendVersion{
		TrendID:            t.ID,
		VersionDate:        versionDate,
		VersionNumber:      maxNum + 1,
		EngagementScore:    decayedScore,
		SentimentPolarity:  latest.SentimentPolarity,
		SentimentLabel:     latest.SentimentLabel,
		Language:           latest.Language,
		LanguageConfidence: latest.LanguageConfidence,
		Rank:               latest.Rank,
		Change:             changeFrom(latest, &store.TrendVersion{VersionDate: versionDate, EngagementScore: decayedScore, Rank: latest.Rank, Metrics: latest.Metrics}),
		ScrapedAt:          now,
		RunVersionID:       latest.RunVersionID,
		Decayed:            true,
		Metrics:            copyMetrics(latest.Metrics, versionDate),
	}
	if err := s.store.InsertVersion(ctx, version); err != nil {
		return false, errkind.Classify(errkind.Database, err, "insert decayed version")
	}
	return true, nil
}

func copyMetrics(metrics []store.Metric, collectedAt time.Time) []store.Metric {
	out := make([]store.Metric, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, store.Metric{Type: m.Type, Value: m.Value, Unit: m.Unit, CollectedAt: collectedAt})
	}
	return out
}
