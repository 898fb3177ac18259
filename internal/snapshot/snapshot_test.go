package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trendscope/trendscope/internal/adapter"
	"github.com/trendscope/trendscope/internal/etl"
	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

var scrapedAt = time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)

func loadTrend(t *testing.T, st store.Store, topic string, sc float64, likes int64) etl.Loaded {
	t.Helper()
	trend := &store.Trend{
		Platform:        store.PlatformTikTok,
		Topic:           topic,
		NormalizedTopic: etl.NormalizeTopic(topic),
		LastSeenAt:      scrapedAt,
	}
	if err := st.UpsertTrend(context.Background(), trend); err != nil {
		t.Fatalf("UpsertTrend: %v", err)
	}
	return etl.Loaded{
		Trend: trend,
		Record: adapter.TrendRecord{
			Platform:   store.PlatformTikTok,
			Topic:      topic,
			Score:      sc,
			Engagement: score.Engagement{Likes: likes},
			ScrapedAt:  scrapedAt,
		},
	}
}

func TestSnapshotRanksByScoreWithAlphabeticalTies(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, DefaultOptions(), nil)

	loaded := []etl.Loaded{
		loadTrend(t, st, "gamma", 50, 1),
		loadTrend(t, st, "beta", 150, 2),
		loadTrend(t, st, "alpha", 150, 3),
		loadTrend(t, st, "#Zebra", 150, 4),
		loadTrend(t, st, "apple", 150, 5),
	}
	res, err := s.Snapshot(context.Background(), uuid.New(), loaded)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if res.Versions != 5 {
		t.Fatalf("versions = %d, want 5", res.Versions)
	}

	// Ties order by normalized topic, so "#Zebra" (zebra) sorts after
	// "apple" even though '#' precedes 'a' in the raw form.
	want := []struct {
		topic string
		rank  int
	}{
		{"alpha", 1},
		{"apple", 2},
		{"beta", 3},
		{"#Zebra", 4},
		{"gamma", 5},
	}
	for i, w := range want {
		if res.Ranked[i].Topic != w.topic || res.Ranked[i].Rank != w.rank {
			t.Errorf("ranked[%d] = %+v, want %s at rank %d", i, res.Ranked[i], w.topic, w.rank)
		}
	}
}

func TestSnapshotVersionNumbersMonotonicPerDate(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, DefaultOptions(), nil)
	loaded := []etl.Loaded{loadTrend(t, st, "alpha", 100, 1)}

	for i := 1; i <= 3; i++ {
		if _, err := s.Snapshot(context.Background(), uuid.New(), loaded); err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
		v, err := st.LatestVersion(context.Background(), loaded[0].Trend.ID)
		if err != nil || v == nil {
			t.Fatalf("LatestVersion: %v", err)
		}
		if v.VersionNumber != i {
			t.Errorf("version number after run %d = %d", i, v.VersionNumber)
		}
	}
}

func TestSnapshotChangeFromPrevious(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, DefaultOptions(), nil)
	loaded := loadTrend(t, st, "alpha", 150, 30)

	yesterday := store.Midnight(scrapedAt).AddDate(0, 0, -1)
	prev := &store.TrendVersion{
		TrendID:         loaded.Trend.ID,
		VersionDate:     yesterday,
		VersionNumber:   1,
		EngagementScore: 100,
		Rank:            2,
		RunVersionID:    uuid.New(),
		Metrics: []store.Metric{
			{Type: store.MetricLikes, Value: 20, Unit: "count", CollectedAt: yesterday},
		},
	}
	if err := st.InsertVersion(context.Background(), prev); err != nil {
		t.Fatalf("InsertVersion: %v", err)
	}

	if _, err := s.Snapshot(context.Background(), uuid.New(), []etl.Loaded{loaded}); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	v, err := st.LatestVersion(context.Background(), loaded.Trend.ID)
	if err != nil || v == nil || v.Change == nil {
		t.Fatalf("latest version missing change: %+v err=%v", v, err)
	}
	c := v.Change
	if c.PreviousDate != yesterday.Format("2006-01-02") {
		t.Errorf("previous date = %q", c.PreviousDate)
	}
	if c.EngagementScore.Change != 50 || c.EngagementScore.PercentChange != 50 || c.EngagementScore.Direction != "up" {
		t.Errorf("score delta = %+v", c.EngagementScore)
	}
	if c.Likes.Previous != 20 || c.Likes.Current != 30 || c.Likes.Direction != "up" {
		t.Errorf("likes delta = %+v", c.Likes)
	}
	// Rank improved from 2 to 1; lower is better.
	if c.Rank.Change != -1 || c.Rank.Direction != "up" {
		t.Errorf("rank delta = %+v", c.Rank)
	}
}

func TestSnapshotFirstVersionHasNoChange(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, DefaultOptions(), nil)
	loaded := loadTrend(t, st, "fresh", 100, 1)

	if _, err := s.Snapshot(context.Background(), uuid.New(), []etl.Loaded{loaded}); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	v, _ := st.LatestVersion(context.Background(), loaded.Trend.ID)
	if v.Change != nil {
		t.Errorf("first snapshot should carry no change block, got %+v", v.Change)
	}
}

func TestDeltaStableUnderOnePercent(t *testing.T) {
	d := delta(1000, 1005, false)
	if d.Direction != "stable" {
		t.Errorf("0.5%% move direction = %q, want stable", d.Direction)
	}
	d = delta(0, 10, false)
	if d.PercentChange != 100 || d.Direction != "up" {
		t.Errorf("growth from zero = %+v, want +100%% up", d)
	}
	d = delta(100, 80, false)
	if d.Direction != "down" || d.PercentChange != -20 {
		t.Errorf("decline = %+v", d)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLifecycleDecayAndDeclining(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, DefaultOptions(), nil)

	loaded := loadTrend(t, st, "fading", 10000, 5)
	if _, err := s.Snapshot(context.Background(), uuid.New(), []etl.Loaded{loaded}); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// 21 days of silence: three decay weeks at the default 5% rate.
	s.now = fixedClock(scrapedAt.AddDate(0, 0, 21))
	res, err := s.Lifecycle(context.Background())
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if res.Declining != 1 || res.Decayed != 1 {
		t.Fatalf("result = %+v, want 1 declining, 1 decayed", res)
	}

	trend, _ := st.GetTrend(context.Background(), store.PlatformTikTok, "fading")
	if trend.Status != store.StatusDeclining {
		t.Errorf("status = %q, want declining", trend.Status)
	}

	v, _ := st.LatestVersion(context.Background(), trend.ID)
	if !v.Decayed {
		t.Fatal("latest version should be marked decayed")
	}
	if v.EngagementScore < 8573.74 || v.EngagementScore > 8573.76 {
		t.Errorf("decayed score = %v, want 8573.75", v.EngagementScore)
	}

	// A second pass must not stack another decayed version.
	res, err = s.Lifecycle(context.Background())
	if err != nil {
		t.Fatalf("second Lifecycle: %v", err)
	}
	if res.Decayed != 0 {
		t.Errorf("second pass decayed = %d, want 0", res.Decayed)
	}
}

func TestLifecycleArchivesExpired(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, DefaultOptions(), nil)
	loaded := loadTrend(t, st, "ancient", 100, 1)
	_ = loaded

	s.now = fixedClock(scrapedAt.AddDate(0, 0, 45))
	res, err := s.Lifecycle(context.Background())
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if res.Archived != 1 {
		t.Fatalf("archived = %d, want 1", res.Archived)
	}
	trend, _ := st.GetTrend(context.Background(), store.PlatformTikTok, "ancient")
	if trend.Status != store.StatusArchived {
		t.Errorf("status = %q, want archived", trend.Status)
	}
}

func TestLifecycleDeletesWhenArchiveDisabled(t *testing.T) {
	st := store.NewMemoryStore()
	opts := DefaultOptions()
	opts.ArchiveEnabled = false
	s := New(st, opts, nil)
	loadTrend(t, st, "ancient", 100, 1)

	s.now = fixedClock(scrapedAt.AddDate(0, 0, 45))
	res, err := s.Lifecycle(context.Background())
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", res.Deleted)
	}
	trend, _ := st.GetTrend(context.Background(), store.PlatformTikTok, "ancient")
	if trend != nil {
		t.Errorf("trend should be gone, got %+v", trend)
	}
}
