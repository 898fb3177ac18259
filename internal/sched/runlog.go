package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/obs"
	"github.com/trendscope/trendscope/internal/store"
)

// RunLogger persists the lifecycle of one scheduler invocation: a running
// row at start, finalized exactly once at the end.
type RunLogger struct {
	store  store.Store
	logger *zap.Logger
}

func NewRunLogger(st store.Store, logger *zap.Logger) *RunLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLogger{store: st, logger: logger}
}

// Start creates the running row and tags the run with a fresh version id.
func (rl *RunLogger) Start(ctx context.Context, platform store.Platform) (*store.RunLog, error) {
	run := &store.RunLog{
		Platform:     platform,
		Status:       store.RunRunning,
		StartedAt:    time.Now().UTC(),
		RunVersionID: uuid.New(),
	}
	if err := rl.store.CreateRunLog(ctx, run); err != nil {
		return nil, errkind.Classify(errkind.Database, err, "create run log")
	}
	obs.ActiveRuns.WithLabelValues(string(platform)).Set(1)
	obs.With(ctx, rl.logger).Info("run started",
		zap.String("platform", string(platform)),
		zap.String("run_version_id", run.RunVersionID.String()))
	return run, nil
}

// Finish finalizes the run row. The store applies the first terminal status
// and ignores later ones, so calling Finish twice is safe.
func (rl *RunLogger) Finish(ctx context.Context, run *store.RunLog, status store.RunStatus, scraped, uploaded int, runErr error) {
	ended := time.Now().UTC()
	run.Status = status
	run.EndedAt = &ended
	run.DurationSeconds = ended.Sub(run.StartedAt).Seconds()
	run.RecordsScraped = scraped
	run.RecordsUploaded = uploaded
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
		run.ErrorTraceback = fmt.Sprintf("%+v", runErr)
	}

	log := obs.With(ctx, rl.logger).With(
		zap.String("platform", string(run.Platform)),
		zap.String("run_version_id", run.RunVersionID.String()))

	if err := rl.store.FinishRunLog(ctx, run); err != nil {
		log.Error("failed to finalize run log", obs.ErrFields(err)...)
	}

	obs.ActiveRuns.WithLabelValues(string(run.Platform)).Set(0)
	obs.ScraperRuns.WithLabelValues(string(run.Platform), string(status)).Inc()
	if runErr != nil {
		kind := errkind.KindOf(runErr)
		obs.ScraperErrors.WithLabelValues(string(run.Platform), string(kind), string(errkind.SeverityOf(kind))).Inc()
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Float64("duration_seconds", run.DurationSeconds),
		zap.Int("records_scraped", scraped),
		zap.Int("records_uploaded", uploaded),
	}
	if runErr != nil {
		fields = append(fields, obs.ErrFields(runErr)...)
		log.Error("run finished with error", fields...)
		return
	}
	log.Info("run finished", fields...)
}
