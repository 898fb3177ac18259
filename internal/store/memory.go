package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trendscope/trendscope/internal/errkind"
)

// MemoryStore holds the harvested state in process memory. It implements the
// Store interface and backs tests and DSN-less one-shot runs.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	sources  map[Platform]*Source
	trends   map[int64]*Trend
	versions map[int64][]*TrendVersion // keyed by trend ID, append order
	runs     []*RunLog
	settings map[Platform]*SchedulerSetting
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources:  make(map[Platform]*Source),
		trends:   make(map[int64]*Trend),
		versions: make(map[int64][]*TrendVersion),
		settings: make(map[Platform]*SchedulerSetting),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// --- Source Operations ---

func (s *MemoryStore) EnsureSources(ctx context.Context, platforms []Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range platforms {
		if _, ok := s.sources[p]; !ok {
			s.sources[p] = &Source{
				ID:          s.id(),
				Platform:    p,
				DisplayName: DisplayName(p),
				Enabled:     true,
				Metadata:    map[string]string{},
			}
		}
	}
	return nil
}

func (s *MemoryStore) GetSource(ctx context.Context, platform Platform) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[platform]
	if !ok {
		return nil, nil
	}
	cp := *src
	return &cp, nil
}

// --- Trend Operations ---

func (s *MemoryStore) GetTrend(ctx context.Context, platform Platform, normalizedTopic string) (*Trend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.trends {
		if t.Platform == platform && t.NormalizedTopic == normalizedTopic {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetTrendByURL(ctx context.Context, platform Platform, url string) (*Trend, error) {
	if url == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.trends {
		if t.Platform == platform && t.URL == url {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpsertTrend(ctx context.Context, trend *Trend) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Uniqueness key is (platform, normalized_topic).
	for _, existing := range s.trends {
		if existing.Platform == trend.Platform && existing.NormalizedTopic == trend.NormalizedTopic {
			existing.Topic = trend.Topic
			existing.URL = trend.URL
			existing.LastSeenAt = trend.LastSeenAt
			existing.Metadata = trend.Metadata
			if existing.Status == "" {
				existing.Status = StatusActive
			}
			trend.ID = existing.ID
			trend.FirstDiscoveredAt = existing.FirstDiscoveredAt
			trend.Status = existing.Status
			return nil
		}
	}

	trend.ID = s.id()
	if trend.FirstDiscoveredAt.IsZero() {
		trend.FirstDiscoveredAt = time.Now().UTC()
	}
	if trend.Status == "" {
		trend.Status = StatusActive
	}
	cp := *trend
	s.trends[trend.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateTrendStatus(ctx context.Context, trendID int64, status TrendStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trends[trendID]
	if !ok {
		return errkind.New(errkind.Database, "trend %d not found", trendID)
	}
	t.Status = status
	return nil
}

func (s *MemoryStore) DeleteTrend(ctx context.Context, trendID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trends, trendID)
	delete(s.versions, trendID)
	return nil
}

func (s *MemoryStore) ListTrendsSeenBefore(ctx context.Context, cutoff time.Time) ([]*Trend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Trend
	for _, t := range s.trends {
		if t.Status != StatusArchived && t.LastSeenAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Version Operations ---

func (s *MemoryStore) MaxVersionNumber(ctx context.Context, trendID int64, versionDate time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, v := range s.versions[trendID] {
		if v.VersionDate.Equal(Midnight(versionDate)) && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max, nil
}

func (s *MemoryStore) LatestVersionBefore(ctx context.Context, trendID int64, versionDate time.Time) (*TrendVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := Midnight(versionDate)
	var best *TrendVersion
	for _, v := range s.versions[trendID] {
		if !v.VersionDate.Before(day) {
			continue
		}
		if best == nil || v.VersionDate.After(best.VersionDate) ||
			(v.VersionDate.Equal(best.VersionDate) && v.VersionNumber > best.VersionNumber) {
			best = v
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) LatestVersion(ctx context.Context, trendID int64) (*TrendVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *TrendVersion
	for _, v := range s.versions[trendID] {
		if best == nil || v.VersionDate.After(best.VersionDate) ||
			(v.VersionDate.Equal(best.VersionDate) && v.VersionNumber > best.VersionNumber) {
			best = v
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) InsertVersion(ctx context.Context, version *TrendVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trends[version.TrendID]; !ok {
		return errkind.New(errkind.Database, "trend %d not found", version.TrendID)
	}
	version.ID = s.id()
	version.VersionDate = Midnight(version.VersionDate)
	for i := range version.Metrics {
		version.Metrics[i].ID = s.id()
		version.Metrics[i].TrendVersionID = version.ID
	}
	cp := *version
	s.versions[version.TrendID] = append(s.versions[version.TrendID], &cp)
	return nil
}

// --- Run Log Operations ---

func (s *MemoryStore) CreateRunLog(ctx context.Context, run *RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = s.id()
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

func (s *MemoryStore) FinishRunLog(ctx context.Context, run *RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == run.ID {
			// Idempotent terminal writes: the first terminal status wins.
			if r.Status != RunRunning {
				return nil
			}
			*r = *run
			return nil
		}
	}
	return errkind.New(errkind.Database, "run log %d not found", run.ID)
}

func (s *MemoryStore) ListRunLogs(ctx context.Context, limit int) ([]*RunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunLog, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.runs[i]
		out = append(out, &cp)
	}
	return out, nil
}

// --- Scheduler Settings Operations ---

func (s *MemoryStore) ListSettings(ctx context.Context) ([]*SchedulerSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SchedulerSetting, 0, len(s.settings))
	for _, st := range s.settings {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, platform Platform) (*SchedulerSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[platform]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) UpsertSetting(ctx context.Context, setting *SchedulerSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.settings[setting.Platform]; ok {
		setting.ID = existing.ID
		setting.RunCount = existing.RunCount
		setting.SuccessCount = existing.SuccessCount
		setting.FailureCount = existing.FailureCount
	} else {
		setting.ID = s.id()
	}
	cp := *setting
	s.settings[setting.Platform] = &cp
	return nil
}

func (s *MemoryStore) RecordRunOutcome(ctx context.Context, platform Platform, success bool, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[platform]
	if !ok {
		return errkind.New(errkind.Database, "no scheduler setting for %s", platform)
	}
	st.RunCount++
	if success {
		st.SuccessCount++
	} else {
		st.FailureCount++
	}
	lr, nr := lastRun, nextRun
	st.LastRunAt = &lr
	st.NextRunAt = &nr
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}
