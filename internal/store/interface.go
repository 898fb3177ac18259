package store

import (
	"context"
	"time"
)

// Store defines the persistence contract for the harvester. It abstracts over
// Postgres (durable) and the in-memory implementation used by tests and
// DSN-less one-shot runs.
type Store interface {
	// Source operations
	EnsureSources(ctx context.Context, platforms []Platform) error
	GetSource(ctx context.Context, platform Platform) (*Source, error)

	// Trend operations
	GetTrend(ctx context.Context, platform Platform, normalizedTopic string) (*Trend, error)
	GetTrendByURL(ctx context.Context, platform Platform, url string) (*Trend, error)
	UpsertTrend(ctx context.Context, trend *Trend) error
	UpdateTrendStatus(ctx context.Context, trendID int64, status TrendStatus) error
	DeleteTrend(ctx context.Context, trendID int64) error
	// ListTrendsSeenBefore returns non-archived trends whose last_seen_at is
	// older than cutoff. Used by the lifecycle pass.
	ListTrendsSeenBefore(ctx context.Context, cutoff time.Time) ([]*Trend, error)

	// Version operations
	MaxVersionNumber(ctx context.Context, trendID int64, versionDate time.Time) (int, error)
	LatestVersionBefore(ctx context.Context, trendID int64, versionDate time.Time) (*TrendVersion, error)
	LatestVersion(ctx context.Context, trendID int64) (*TrendVersion, error)
	InsertVersion(ctx context.Context, version *TrendVersion) error

	// Run log operations
	CreateRunLog(ctx context.Context, run *RunLog) error
	FinishRunLog(ctx context.Context, run *RunLog) error
	ListRunLogs(ctx context.Context, limit int) ([]*RunLog, error)

	// Scheduler settings operations
	ListSettings(ctx context.Context) ([]*SchedulerSetting, error)
	GetSetting(ctx context.Context, platform Platform) (*SchedulerSetting, error)
	UpsertSetting(ctx context.Context, setting *SchedulerSetting) error
	// RecordRunOutcome bumps run/success/failure counters and advances
	// last_run_at / next_run_at for the platform.
	RecordRunOutcome(ctx context.Context, platform Platform, success bool, lastRun, nextRun time.Time) error

	Close()
}
