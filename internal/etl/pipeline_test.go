package etl

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trendscope/trendscope/internal/adapter"
	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

func record(topic, url string) adapter.TrendRecord {
	return adapter.TrendRecord{
		Platform:   store.PlatformTikTok,
		Topic:      topic,
		URL:        url,
		Engagement: score.Engagement{Likes: 100, Views: 1000},
		Score:      250,
		ScrapedAt:  time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}
}

func newTestPipeline(t *testing.T, st store.Store, sink RetrySink, strategy Strategy, batch int) *Pipeline {
	t.Helper()
	return NewPipeline(st, sink, Options{Strategy: strategy, BatchSize: batch}, nil)
}

func TestPipelineLoadsValidRecord(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(t, st, nil, StrategyUpdate, 100)
	runID := uuid.New()

	res, err := p.Run(context.Background(), runID, []adapter.TrendRecord{record("#SummerVibes", "https://t/1")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Uploaded != 1 || res.Invalid != 0 {
		t.Fatalf("result = %+v, want 1 uploaded", res)
	}

	trend, err := st.GetTrend(context.Background(), store.PlatformTikTok, "summervibes")
	if err != nil || trend == nil {
		t.Fatalf("trend not persisted: %v", err)
	}
	if trend.Metadata["run_version_id"] != runID.String() {
		t.Errorf("run_version_id = %q, want %q", trend.Metadata["run_version_id"], runID)
	}
}

func TestPipelineRejectsInvalidRecords(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(t, st, nil, StrategyUpdate, 100)

	records := []adapter.TrendRecord{
		record("x", ""),                               // normalizes below 2 chars
		record("valid topic", "ftp://bad"),            // unsupported URL scheme
		record("other topic", "https://t/"+strings.Repeat("a", 500)), // URL too long
	}
	res, err := p.Run(context.Background(), uuid.New(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Invalid != 3 || res.Uploaded != 0 {
		t.Fatalf("result = %+v, want 3 invalid, 0 uploaded", res)
	}
}

func TestPipelineClampsMetricCaps(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(t, st, nil, StrategyUpdate, 100)

	rec := record("big numbers", "https://t/big")
	rec.Engagement.Likes = 5_000_000_000   // above the 1e9 cap
	rec.Engagement.Views = 20_000_000_000  // above the 1e10 cap
	rec.Score = 5e9                        // above MaxScore

	res, err := p.Run(context.Background(), uuid.New(), []adapter.TrendRecord{rec})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Loaded) != 1 {
		t.Fatalf("loaded = %d, want 1", len(res.Loaded))
	}
	got := res.Loaded[0].Record
	if got.Engagement.Likes != 1_000_000_000 {
		t.Errorf("likes = %d, want clamped to 1e9", got.Engagement.Likes)
	}
	if got.Engagement.Views != 10_000_000_000 {
		t.Errorf("views = %d, want clamped to 1e10", got.Engagement.Views)
	}
	if got.Score != score.MaxScore {
		t.Errorf("score = %v, want clamped to MaxScore", got.Score)
	}
}

func TestDedupeUpdateKeepsLatest(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(t, st, nil, StrategyUpdate, 100)

	a := record("first title", "https://t/same")
	b := record("second title", "https://t/same")
	res, err := p.Run(context.Background(), uuid.New(), []adapter.TrendRecord{a, b})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Uploaded != 1 {
		t.Fatalf("uploaded = %d, want 1", res.Uploaded)
	}
	if res.Loaded[0].Record.Topic != "second title" {
		t.Errorf("update strategy should keep the later record, got %q", res.Loaded[0].Record.Topic)
	}
}

func TestDedupeIgnoreKeepsFirst(t *testing.T) {
	st := store.NewMemoryStore()
	core, logs := observer.New(zap.WarnLevel)
	p := NewPipeline(st, nil, Options{Strategy: StrategyIgnore, BatchSize: 100}, zap.New(core))

	a := record("first title", "https://t/same")
	b := record("second title", "https://t/same")
	res, err := p.Run(context.Background(), uuid.New(), []adapter.TrendRecord{a, b})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Uploaded != 1 || res.Skipped != 1 {
		t.Fatalf("result = %+v, want 1 uploaded, 1 skipped", res)
	}
	if res.Loaded[0].Record.Topic != "first title" {
		t.Errorf("ignore strategy should keep the first record, got %q", res.Loaded[0].Record.Topic)
	}

	// Each skip is surfaced as a warning naming the duplicate key.
	warned := logs.FilterMessage("duplicate record skipped").All()
	if len(warned) != 1 {
		t.Fatalf("skip warnings = %d, want 1", len(warned))
	}
	if warned[0].ContextMap()["key"] != "https://t/same" {
		t.Errorf("warning fields = %+v", warned[0].ContextMap())
	}
}

func TestDedupeErrorFails(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(t, st, nil, StrategyError, 100)

	a := record("first title", "https://t/same")
	b := record("second title", "https://t/same")
	_, err := p.Run(context.Background(), uuid.New(), []adapter.TrendRecord{a, b})
	if !errkind.IsKind(err, errkind.Data) {
		t.Fatalf("err = %v, want DATA", err)
	}
}

func TestDedupeFallsBackToNormalizedTopic(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(t, st, nil, StrategyUpdate, 100)

	// No URLs: uniqueness falls back to (platform, normalized topic).
	a := record("#SummerVibes", "")
	b := record("summer vibes", "")
	res, err := p.Run(context.Background(), uuid.New(), []adapter.TrendRecord{a, b})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Uploaded != 2 {
		// "summervibes" and "summer_vibes" normalize differently, so both load.
		t.Fatalf("uploaded = %d, want 2", res.Uploaded)
	}
}

func TestPipelineIdempotentReruns(t *testing.T) {
	st := store.NewMemoryStore()
	p := newTestPipeline(t, st, nil, StrategyUpdate, 100)
	records := []adapter.TrendRecord{record("#SummerVibes", "https://t/1")}

	for i := 0; i < 2; i++ {
		if _, err := p.Run(context.Background(), uuid.New(), records); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	first, _ := st.GetTrend(context.Background(), store.PlatformTikTok, "summervibes")
	if first == nil {
		t.Fatal("trend missing after reruns")
	}
	// A second trend under a different normalized key would indicate the
	// rerun inserted instead of upserting.
	other, _ := st.GetTrendByURL(context.Background(), store.PlatformTikTok, "https://t/1")
	if other == nil || other.ID != first.ID {
		t.Errorf("rerun created a second trend: %+v vs %+v", first, other)
	}
}

// flakyStore fails UpsertTrend for one normalized topic.
type flakyStore struct {
	store.Store
	failTopic string
}

func (f *flakyStore) UpsertTrend(ctx context.Context, trend *store.Trend) error {
	if trend.NormalizedTopic == f.failTopic {
		return errkind.New(errkind.Database, "simulated write failure")
	}
	return f.Store.UpsertTrend(ctx, trend)
}

type captureSink struct {
	items []interface{}
}

func (c *captureSink) Enqueue(ctx context.Context, payload interface{}, kind errkind.Kind) error {
	c.items = append(c.items, payload)
	return nil
}

func TestBatchFailureIsIndependent(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	st := &flakyStore{Store: store.NewMemoryStore(), failTopic: "broken_topic"}
	sink := &captureSink{}
	p := newTestPipeline(t, st, sink, StrategyUpdate, 1)

	records := []adapter.TrendRecord{
		record("good one", "https://t/1"),
		record("broken topic", "https://t/2"),
		record("good two", "https://t/3"),
	}
	res, err := p.Run(context.Background(), uuid.New(), records)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Uploaded != 2 {
		t.Errorf("uploaded = %d, want 2 despite the failing chunk", res.Uploaded)
	}
	if res.Enqueued != 1 || len(sink.items) != 1 {
		t.Errorf("enqueued = %d (sink %d), want the failed record queued", res.Enqueued, len(sink.items))
	}
}
