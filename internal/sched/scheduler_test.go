package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/store"
)

// blockingRunner records run invocations and blocks until released.
type blockingRunner struct {
	mu      sync.Mutex
	calls   map[store.Platform]int
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		calls:   make(map[store.Platform]int),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, platform store.Platform) (*Report, error) {
	r.mu.Lock()
	r.calls[platform]++
	r.mu.Unlock()
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return &Report{Platform: platform}, nil
}

func (r *blockingRunner) callCount(platform store.Platform) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[platform]
}

func TestReconcileSeedsAllPlatforms(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewScheduler(st, newBlockingRunner(), SchedulerOptions{DefaultFrequencyHours: 6}, nil)

	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	settings, err := st.ListSettings(context.Background())
	if err != nil {
		t.Fatalf("ListSettings: %v", err)
	}
	if len(settings) != len(store.AllPlatforms()) {
		t.Fatalf("settings = %d, want %d", len(settings), len(store.AllPlatforms()))
	}
	for _, setting := range settings {
		if !setting.Enabled || setting.FrequencyHours != 6 || setting.NextRunAt == nil {
			t.Errorf("seeded setting = %+v", setting)
		}
	}

	// Reconcile again must not reset existing rows.
	settings[0].Enabled = false
	if err := st.UpsertSetting(context.Background(), settings[0]); err != nil {
		t.Fatalf("UpsertSetting: %v", err)
	}
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	got, _ := st.GetSetting(context.Background(), settings[0].Platform)
	if got.Enabled {
		t.Error("reconcile overwrote an existing setting")
	}
}

func TestDispatchPreventsOverlap(t *testing.T) {
	st := store.NewMemoryStore()
	runner := newBlockingRunner()
	s := NewScheduler(st, runner, SchedulerOptions{DefaultFrequencyHours: 6}, nil)

	now := time.Now().UTC()
	if err := st.UpsertSetting(context.Background(), &store.SchedulerSetting{
		Platform:       store.PlatformTikTok,
		Enabled:        true,
		FrequencyHours: 6,
		NextRunAt:      &now,
	}); err != nil {
		t.Fatalf("UpsertSetting: %v", err)
	}

	s.dispatchDue(context.Background(), s.logger)
	s.dispatchDue(context.Background(), s.logger)
	time.Sleep(50 * time.Millisecond)

	if got := runner.callCount(store.PlatformTikTok); got != 1 {
		t.Fatalf("overlapping dispatch ran %d times, want 1", got)
	}

	close(runner.release)
	s.wg.Wait()

	// With the first run finished the platform is dispatchable again.
	s.dispatchDue(context.Background(), s.logger)
	time.Sleep(50 * time.Millisecond)
	if got := runner.callCount(store.PlatformTikTok); got != 2 {
		t.Fatalf("post-completion dispatch ran %d times, want 2", got)
	}
}

func TestDispatchSkipsDisabledAndFuture(t *testing.T) {
	st := store.NewMemoryStore()
	runner := newBlockingRunner()
	close(runner.release)
	s := NewScheduler(st, runner, SchedulerOptions{}, nil)

	now := time.Now().UTC()
	future := now.Add(time.Hour)
	st.UpsertSetting(context.Background(), &store.SchedulerSetting{
		Platform: store.PlatformTikTok, Enabled: false, FrequencyHours: 6, NextRunAt: &now,
	})
	st.UpsertSetting(context.Background(), &store.SchedulerSetting{
		Platform: store.PlatformInstagram, Enabled: true, FrequencyHours: 6, NextRunAt: &future,
	})
	st.UpsertSetting(context.Background(), &store.SchedulerSetting{
		Platform: store.PlatformYouTube, Enabled: true, FrequencyHours: 6, NextRunAt: &now,
	})

	s.dispatchDue(context.Background(), s.logger)
	s.wg.Wait()

	if runner.callCount(store.PlatformTikTok) != 0 {
		t.Error("disabled platform was dispatched")
	}
	if runner.callCount(store.PlatformInstagram) != 0 {
		t.Error("future platform was dispatched")
	}
	if runner.callCount(store.PlatformYouTube) != 1 {
		t.Error("due platform was not dispatched")
	}
}

func TestRunLoggerLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	rl := NewRunLogger(st, nil)

	run, err := rl.Start(context.Background(), store.PlatformX)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Status != store.RunRunning || run.RunVersionID.String() == "" {
		t.Fatalf("started run = %+v", run)
	}

	rl.Finish(context.Background(), run, store.RunFailed, 10, 0, errkind.New(errkind.Scrape, "selectors gone"))

	logs, _ := st.ListRunLogs(context.Background(), 1)
	if len(logs) != 1 {
		t.Fatalf("run logs = %d", len(logs))
	}
	got := logs[0]
	if got.Status != store.RunFailed || got.RecordsScraped != 10 || got.ErrorMessage == "" {
		t.Errorf("finished run = %+v", got)
	}
	if got.EndedAt == nil || got.DurationSeconds < 0 {
		t.Errorf("timing not recorded: %+v", got)
	}

	// Finalization is idempotent: the first terminal status wins.
	rl.Finish(context.Background(), run, store.RunCompleted, 99, 99, nil)
	logs, _ = st.ListRunLogs(context.Background(), 1)
	if logs[0].Status != store.RunFailed {
		t.Errorf("second finish overwrote terminal status: %q", logs[0].Status)
	}
}

func TestRecordOutcomeAdvancesNextRun(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.UpsertSetting(ctx, &store.SchedulerSetting{
		Platform: store.PlatformTikTok, Enabled: true, FrequencyHours: 2,
	}); err != nil {
		t.Fatalf("UpsertSetting: %v", err)
	}

	r := &Runner{store: st, defaultFrequencyHours: 6, logger: zap.NewNop()}
	before := time.Now().UTC()
	r.recordOutcome(ctx, store.PlatformTikTok, true, r.logger)

	setting, _ := st.GetSetting(ctx, store.PlatformTikTok)
	if setting.RunCount != 1 || setting.SuccessCount != 1 {
		t.Errorf("counters = %+v", setting)
	}
	if setting.NextRunAt == nil {
		t.Fatal("next_run_at not set")
	}
	gap := setting.NextRunAt.Sub(before)
	if gap < 2*time.Hour-time.Minute || gap > 2*time.Hour+time.Minute {
		t.Errorf("next run gap = %v, want ~2h from the setting's frequency", gap)
	}
}
