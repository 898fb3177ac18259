package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trendscope/trendscope/internal/errkind"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool

	metadataOnce sync.Once
	metadataOK   bool
}

// NewPostgresStore initializes a PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.Config, err, "parse db dsn")
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errkind.Wrap(errkind.Database, err, "ping database")
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- Source Operations ---

func (s *PostgresStore) EnsureSources(ctx context.Context, platforms []Platform) error {
	query := `
		INSERT INTO source (platform, display_name, enabled, metadata)
		VALUES ($1, $2, TRUE, '{}')
		ON CONFLICT (platform) DO NOTHING
	`
	for _, p := range platforms {
		if _, err := s.pool.Exec(ctx, query, p, DisplayName(p)); err != nil {
			return errkind.Wrap(errkind.Database, err, "ensure source")
		}
	}
	return nil
}

func (s *PostgresStore) GetSource(ctx context.Context, platform Platform) (*Source, error) {
	query := `
		SELECT id, platform, display_name, enabled, metadata
		FROM source WHERE platform = $1
	`
	var src Source
	err := s.pool.QueryRow(ctx, query, platform).Scan(
		&src.ID, &src.Platform, &src.DisplayName, &src.Enabled, &src.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "get source")
	}
	return &src, nil
}

// --- Trend Operations ---

// trendColumns substitutes an empty document when the metadata column is
// absent so scans stay uniform across schema generations.
func (s *PostgresStore) trendColumns(ctx context.Context) string {
	meta := "t.metadata"
	if !s.hasTrendMetadata(ctx) {
		meta = "'{}'::jsonb"
	}
	return `
		t.id, t.source_id, s.platform, t.topic, t.normalized_topic, t.url,
		t.first_discovered_at, t.last_seen_at, t.status, ` + meta
}

func (s *PostgresStore) scanTrend(row pgx.Row) (*Trend, error) {
	var t Trend
	err := row.Scan(
		&t.ID, &t.SourceID, &t.Platform, &t.Topic, &t.NormalizedTopic, &t.URL,
		&t.FirstDiscoveredAt, &t.LastSeenAt, &t.Status, &t.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "scan trend")
	}
	return &t, nil
}

func (s *PostgresStore) GetTrend(ctx context.Context, platform Platform, normalizedTopic string) (*Trend, error) {
	query := `
		SELECT ` + s.trendColumns(ctx) + `
		FROM trend t JOIN source s ON s.id = t.source_id
		WHERE s.platform = $1 AND t.normalized_topic = $2
	`
	return s.scanTrend(s.pool.QueryRow(ctx, query, platform, normalizedTopic))
}

func (s *PostgresStore) GetTrendByURL(ctx context.Context, platform Platform, url string) (*Trend, error) {
	if url == "" {
		return nil, nil
	}
	query := `
		SELECT ` + s.trendColumns(ctx) + `
		FROM trend t JOIN source s ON s.id = t.source_id
		WHERE s.platform = $1 AND t.url = $2
		LIMIT 1
	`
	return s.scanTrend(s.pool.QueryRow(ctx, query, platform, url))
}

// hasTrendMetadata reports whether the trend table carries the metadata
// column. Deployments that predate it still work; the probe runs once per
// process.
func (s *PostgresStore) hasTrendMetadata(ctx context.Context) bool {
	s.metadataOnce.Do(func() {
		var n int
		err := s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM information_schema.columns
			WHERE table_name = 'trend' AND column_name = 'metadata'
		`).Scan(&n)
		s.metadataOK = err == nil && n > 0
	})
	return s.metadataOK
}

func (s *PostgresStore) UpsertTrend(ctx context.Context, trend *Trend) error {
	if trend.SourceID == 0 {
		src, err := s.GetSource(ctx, trend.Platform)
		if err != nil {
			return err
		}
		if src == nil {
			return errkind.New(errkind.Database, "unknown source platform %s", trend.Platform)
		}
		trend.SourceID = src.ID
	}
	var row pgx.Row
	if s.hasTrendMetadata(ctx) {
		row = s.pool.QueryRow(ctx, `
			INSERT INTO trend (source_id, topic, normalized_topic, url, first_discovered_at, last_seen_at, status, metadata)
			VALUES ($1, $2, $3, $4, NOW(), $5, 'active', $6)
			ON CONFLICT (source_id, normalized_topic) DO UPDATE SET
				topic = EXCLUDED.topic,
				url = EXCLUDED.url,
				last_seen_at = EXCLUDED.last_seen_at,
				metadata = EXCLUDED.metadata
			RETURNING id, first_discovered_at, status
		`, trend.SourceID, trend.Topic, trend.NormalizedTopic, trend.URL,
			trend.LastSeenAt, trend.Metadata)
	} else {
		row = s.pool.QueryRow(ctx, `
			INSERT INTO trend (source_id, topic, normalized_topic, url, first_discovered_at, last_seen_at, status)
			VALUES ($1, $2, $3, $4, NOW(), $5, 'active')
			ON CONFLICT (source_id, normalized_topic) DO UPDATE SET
				topic = EXCLUDED.topic,
				url = EXCLUDED.url,
				last_seen_at = EXCLUDED.last_seen_at
			RETURNING id, first_discovered_at, status
		`, trend.SourceID, trend.Topic, trend.NormalizedTopic, trend.URL,
			trend.LastSeenAt)
	}
	if err := row.Scan(&trend.ID, &trend.FirstDiscoveredAt, &trend.Status); err != nil {
		return errkind.Wrap(errkind.Database, err, "upsert trend")
	}
	return nil
}

func (s *PostgresStore) UpdateTrendStatus(ctx context.Context, trendID int64, status TrendStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE trend SET status = $2 WHERE id = $1`, trendID, status)
	if err != nil {
		return errkind.Wrap(errkind.Database, err, "update trend status")
	}
	if tag.RowsAffected() == 0 {
		return errkind.New(errkind.Database, "trend %d not found", trendID)
	}
	return nil
}

func (s *PostgresStore) DeleteTrend(ctx context.Context, trendID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM trend WHERE id = $1`, trendID)
	return errkind.Wrap(errkind.Database, err, "delete trend")
}

func (s *PostgresStore) ListTrendsSeenBefore(ctx context.Context, cutoff time.Time) ([]*Trend, error) {
	query := `
		SELECT ` + s.trendColumns(ctx) + `
		FROM trend t JOIN source s ON s.id = t.source_id
		WHERE t.status <> 'archived' AND t.last_seen_at < $1
		ORDER BY t.id
	`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "list stale trends")
	}
	defer rows.Close()

	var out []*Trend
	for rows.Next() {
		var t Trend
		if err := rows.Scan(
			&t.ID, &t.SourceID, &t.Platform, &t.Topic, &t.NormalizedTopic, &t.URL,
			&t.FirstDiscoveredAt, &t.LastSeenAt, &t.Status, &t.Metadata,
		); err != nil {
			return nil, errkind.Wrap(errkind.Database, err, "scan trend")
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- Version Operations ---

func (s *PostgresStore) MaxVersionNumber(ctx context.Context, trendID int64, versionDate time.Time) (int, error) {
	query := `
		SELECT COALESCE(MAX(version_number), 0)
		FROM trend_version WHERE trend_id = $1 AND version_date = $2
	`
	var max int
	err := s.pool.QueryRow(ctx, query, trendID, Midnight(versionDate)).Scan(&max)
	if err != nil {
		return 0, errkind.Wrap(errkind.Database, err, "max version number")
	}
	return max, nil
}

const versionColumns = `
	id, trend_id, version_date, version_number, engagement_score,
	sentiment_polarity, sentiment_label, language, language_confidence,
	rank, change_from_previous, scraped_at, run_version_id, decayed
`

func (s *PostgresStore) scanVersion(row pgx.Row) (*TrendVersion, error) {
	var v TrendVersion
	var change []byte
	err := row.Scan(
		&v.ID, &v.TrendID, &v.VersionDate, &v.VersionNumber, &v.EngagementScore,
		&v.SentimentPolarity, &v.SentimentLabel, &v.Language, &v.LanguageConfidence,
		&v.Rank, &change, &v.ScrapedAt, &v.RunVersionID, &v.Decayed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "scan trend version")
	}
	if len(change) > 0 {
		var c ChangeFromPrevious
		if err := json.Unmarshal(change, &c); err == nil {
			v.Change = &c
		}
	}
	return &v, nil
}

func (s *PostgresStore) LatestVersionBefore(ctx context.Context, trendID int64, versionDate time.Time) (*TrendVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM trend_version
		WHERE trend_id = $1 AND version_date < $2
		ORDER BY version_date DESC, version_number DESC
		LIMIT 1
	`
	v, err := s.scanVersion(s.pool.QueryRow(ctx, query, trendID, Midnight(versionDate)))
	if err != nil || v == nil {
		return v, err
	}
	v.Metrics, err = s.loadMetrics(ctx, v.ID)
	return v, err
}

func (s *PostgresStore) LatestVersion(ctx context.Context, trendID int64) (*TrendVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM trend_version
		WHERE trend_id = $1
		ORDER BY version_date DESC, version_number DESC
		LIMIT 1
	`
	v, err := s.scanVersion(s.pool.QueryRow(ctx, query, trendID))
	if err != nil || v == nil {
		return v, err
	}
	v.Metrics, err = s.loadMetrics(ctx, v.ID)
	return v, err
}

func (s *PostgresStore) loadMetrics(ctx context.Context, versionID int64) ([]Metric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trend_version_id, metric_type, metric_value, metric_unit, collected_at
		FROM metric WHERE trend_version_id = $1 ORDER BY id
	`, versionID)
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "load metrics")
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.TrendVersionID, &m.Type, &m.Value, &m.Unit, &m.CollectedAt); err != nil {
			return nil, errkind.Wrap(errkind.Database, err, "scan metric")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertVersion(ctx context.Context, version *TrendVersion) error {
	var change []byte
	if version.Change != nil {
		change, _ = json.Marshal(version.Change)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errkind.Wrap(errkind.Database, err, "begin version insert")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO trend_version (trend_id, version_date, version_number, engagement_score,
			sentiment_polarity, sentiment_label, language, language_confidence,
			rank, change_from_previous, scraped_at, run_version_id, decayed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`,
		version.TrendID, Midnight(version.VersionDate), version.VersionNumber, version.EngagementScore,
		version.SentimentPolarity, version.SentimentLabel, version.Language, version.LanguageConfidence,
		version.Rank, change, version.ScrapedAt, version.RunVersionID, version.Decayed,
	).Scan(&version.ID)
	if err != nil {
		return errkind.Wrap(errkind.Database, err, "insert trend version")
	}

	for i := range version.Metrics {
		m := &version.Metrics[i]
		m.TrendVersionID = version.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO metric (trend_version_id, metric_type, metric_value, metric_unit, collected_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, m.TrendVersionID, m.Type, m.Value, m.Unit, m.CollectedAt).Scan(&m.ID)
		if err != nil {
			return errkind.Wrap(errkind.Database, err, "insert metric")
		}
	}
	return errkind.Wrap(errkind.Database, tx.Commit(ctx), "commit version insert")
}

// --- Run Log Operations ---

func (s *PostgresStore) CreateRunLog(ctx context.Context, run *RunLog) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO run_log (platform, status, started_at, run_version_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, run.Platform, run.Status, run.StartedAt, run.RunVersionID, run.Metadata).Scan(&run.ID)
	return errkind.Wrap(errkind.Database, err, "create run log")
}

func (s *PostgresStore) FinishRunLog(ctx context.Context, run *RunLog) error {
	// Terminal writes are idempotent: only a row still in 'running' moves.
	_, err := s.pool.Exec(ctx, `
		UPDATE run_log SET
			status = $2, ended_at = $3, duration_seconds = $4,
			records_scraped = $5, records_uploaded = $6,
			error_message = $7, error_traceback = $8
		WHERE id = $1 AND status = 'running'
	`,
		run.ID, run.Status, run.EndedAt, run.DurationSeconds,
		run.RecordsScraped, run.RecordsUploaded,
		run.ErrorMessage, run.ErrorTraceback,
	)
	return errkind.Wrap(errkind.Database, err, "finish run log")
}

func (s *PostgresStore) ListRunLogs(ctx context.Context, limit int) ([]*RunLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, platform, status, started_at, ended_at, duration_seconds,
			records_scraped, records_uploaded, error_message, error_traceback,
			run_version_id, metadata
		FROM run_log ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "list run logs")
	}
	defer rows.Close()

	var out []*RunLog
	for rows.Next() {
		var r RunLog
		if err := rows.Scan(
			&r.ID, &r.Platform, &r.Status, &r.StartedAt, &r.EndedAt, &r.DurationSeconds,
			&r.RecordsScraped, &r.RecordsUploaded, &r.ErrorMessage, &r.ErrorTraceback,
			&r.RunVersionID, &r.Metadata,
		); err != nil {
			return nil, errkind.Wrap(errkind.Database, err, "scan run log")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Scheduler Settings Operations ---

const settingColumns = `
	id, platform, enabled, frequency_hours, last_run_at, next_run_at,
	run_count, success_count, failure_count, metadata
`

func (s *PostgresStore) scanSetting(row pgx.Row) (*SchedulerSetting, error) {
	var st SchedulerSetting
	err := row.Scan(
		&st.ID, &st.Platform, &st.Enabled, &st.FrequencyHours, &st.LastRunAt, &st.NextRunAt,
		&st.RunCount, &st.SuccessCount, &st.FailureCount, &st.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "scan scheduler setting")
	}
	return &st, nil
}

func (s *PostgresStore) ListSettings(ctx context.Context) ([]*SchedulerSetting, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+settingColumns+` FROM scheduler_settings ORDER BY platform`)
	if err != nil {
		return nil, errkind.Wrap(errkind.Database, err, "list settings")
	}
	defer rows.Close()

	var out []*SchedulerSetting
	for rows.Next() {
		var st SchedulerSetting
		if err := rows.Scan(
			&st.ID, &st.Platform, &st.Enabled, &st.FrequencyHours, &st.LastRunAt, &st.NextRunAt,
			&st.RunCount, &st.SuccessCount, &st.FailureCount, &st.Metadata,
		); err != nil {
			return nil, errkind.Wrap(errkind.Database, err, "scan scheduler setting")
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSetting(ctx context.Context, platform Platform) (*SchedulerSetting, error) {
	return s.scanSetting(s.pool.QueryRow(ctx,
		`SELECT `+settingColumns+` FROM scheduler_settings WHERE platform = $1`, platform))
}

func (s *PostgresStore) UpsertSetting(ctx context.Context, setting *SchedulerSetting) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scheduler_settings (platform, enabled, frequency_hours, last_run_at, next_run_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (platform) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			frequency_hours = EXCLUDED.frequency_hours,
			next_run_at = EXCLUDED.next_run_at,
			metadata = EXCLUDED.metadata
		RETURNING id
	`,
		setting.Platform, setting.Enabled, setting.FrequencyHours,
		setting.LastRunAt, setting.NextRunAt, setting.Metadata,
	).Scan(&setting.ID)
	return errkind.Wrap(errkind.Database, err, "upsert setting")
}

func (s *PostgresStore) RecordRunOutcome(ctx context.Context, platform Platform, success bool, lastRun, nextRun time.Time) error {
	query := `
		UPDATE scheduler_settings SET
			run_count = run_count + 1,
			success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
			failure_count = failure_count + CASE WHEN $2 THEN 0 ELSE 1 END,
			last_run_at = $3,
			next_run_at = $4
		WHERE platform = $1
	`
	tag, err := s.pool.Exec(ctx, query, platform, success, lastRun, nextRun)
	if err != nil {
		return errkind.Wrap(errkind.Database, err, "record run outcome")
	}
	if tag.RowsAffected() == 0 {
		return errkind.New(errkind.Database, "no scheduler setting for %s", platform)
	}
	return nil
}
