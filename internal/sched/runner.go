package sched

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/adapter"
	"github.com/trendscope/trendscope/internal/config"
	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/etl"
	"github.com/trendscope/trendscope/internal/obs"
	"github.com/trendscope/trendscope/internal/snapshot"
	"github.com/trendscope/trendscope/internal/store"
)

// Runner executes one full platform run: harvest, ETL, snapshot, run-log
// bookkeeping and scheduler counters.
type Runner struct {
	harvester   *adapter.Harvester
	adapters    map[store.Platform]adapter.Adapter
	pipeline    *etl.Pipeline
	snapshotter *snapshot.Snapshotter
	runlog      *RunLogger
	store       store.Store
	logger      *zap.Logger

	defaultFrequencyHours float64
}

// NewRunner wires a runner. defaultFrequencyHours is used when a platform has
// no persisted setting yet.
func NewRunner(h *adapter.Harvester, adapters map[store.Platform]adapter.Adapter, p *etl.Pipeline, s *snapshot.Snapshotter, st store.Store, defaultFrequencyHours float64, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		harvester:             h,
		adapters:              adapters,
		pipeline:              p,
		snapshotter:           s,
		runlog:                NewRunLogger(st, logger),
		store:                 st,
		logger:                logger,
		defaultFrequencyHours: config.ClampFrequency(defaultFrequencyHours),
	}
}

// Report summarizes one completed run.
type Report struct {
	Platform store.Platform
	Scraped  int
	Uploaded int
	Invalid  int
	Enqueued int
	Versions int
}

// Run performs one end-to-end pass for a platform and records the outcome on
// its scheduler setting. A cancelled context finalizes the run as cancelled.
func (r *Runner) Run(ctx context.Context, platform store.Platform) (*Report, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, errkind.New(errkind.Config, "no adapter registered for platform %q", platform)
	}

	run, err := r.runlog.Start(ctx, platform)
	if err != nil {
		return nil, err
	}
	ctx = obs.WithRequestID(ctx, run.RunVersionID.String())
	log := obs.With(ctx, r.logger).With(zap.String("platform", string(platform)))

	report := &Report{Platform: platform}
	err = r.execute(ctx, a, run, report, log)

	status := store.RunCompleted
	switch {
	case ctx.Err() != nil:
		status = store.RunCancelled
	case err != nil:
		status = store.RunFailed
	}

	// Terminal bookkeeping uses a detached context so a cancelled run still
	// gets its run-log row finalized and its outcome recorded.
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	r.runlog.Finish(octx, run, status, report.Scraped, report.Uploaded, err)
	r.recordOutcome(octx, platform, status == store.RunCompleted, log)

	if err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) execute(ctx context.Context, a adapter.Adapter, run *store.RunLog, report *Report, log *zap.Logger) error {
	records, err := r.harvester.Harvest(ctx, a)
	if err != nil {
		return err
	}
	report.Scraped = len(records)

	etlRes, err := r.pipeline.Run(ctx, run.RunVersionID, records)
	if etlRes != nil {
		report.Uploaded = etlRes.Uploaded
		report.Invalid = etlRes.Invalid
		report.Enqueued = etlRes.Enqueued
	}
	if err != nil {
		return err
	}

	snapRes, err := r.snapshotter.Snapshot(ctx, run.RunVersionID, etlRes.Loaded)
	if snapRes != nil {
		report.Versions = snapRes.Versions
	}
	if err != nil {
		return err
	}

	if _, err := r.snapshotter.Lifecycle(ctx); err != nil {
		// Lifecycle is maintenance; a failure does not fail the harvest.
		log.Warn("lifecycle pass failed", obs.ErrFields(err)...)
	}
	return nil
}

// recordOutcome bumps the platform counters and advances next_run_at by the
// platform's configured frequency.
func (r *Runner) recordOutcome(ctx context.Context, platform store.Platform, success bool, log *zap.Logger) {
	freq := r.defaultFrequencyHours
	if setting, err := r.store.GetSetting(ctx, platform); err != nil {
		log.Warn("failed to read scheduler setting", obs.ErrFields(err)...)
	} else if setting != nil {
		freq = config.ClampFrequency(setting.FrequencyHours)
	}

	now := time.Now().UTC()
	next := now.Add(time.Duration(freq * float64(time.Hour)))
	if err := r.store.RecordRunOutcome(ctx, platform, success, now, next); err != nil {
		log.Error("failed to record run outcome", obs.ErrFields(err)...)
		return
	}
	log.Info("next run scheduled",
		zap.Time("next_run_at", next),
		zap.Float64("frequency_hours", freq))
}
