// Package sched runs the platform scheduler: a tick loop that dispatches due
// platforms to the runner, with per-platform overlap prevention and periodic
// settings reconciliation.
package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trendscope/trendscope/internal/config"
	"github.com/trendscope/trendscope/internal/obs"
	"github.com/trendscope/trendscope/internal/store"
)

// SchedulerOptions tune the loop cadence.
type SchedulerOptions struct {
	Tick                  time.Duration
	ReloadInterval        time.Duration
	DefaultFrequencyHours float64
}

// PlatformRunner executes one end-to-end platform run. *Runner implements it.
type PlatformRunner interface {
	Run(ctx context.Context, platform store.Platform) (*Report, error)
}

// Scheduler owns the dispatch loop. One run at a time per platform; distinct
// platforms run concurrently.
type Scheduler struct {
	store  store.Store
	runner PlatformRunner
	logger *zap.Logger
	opts   SchedulerOptions

	mu       sync.Mutex
	inFlight map[store.Platform]bool
	wg       sync.WaitGroup

	now func() time.Time
}

// NewScheduler wires a scheduler. Tick defaults to 60s, settings reload to
// 300s.
func NewScheduler(st store.Store, runner PlatformRunner, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = 5 * time.Minute
	}
	opts.DefaultFrequencyHours = config.ClampFrequency(opts.DefaultFrequencyHours)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    st,
		runner:   runner,
		logger:   logger,
		opts:     opts,
		inFlight: make(map[store.Platform]bool),
		now:      time.Now,
	}
}

// Run executes the loop until ctx is cancelled, then waits for in-flight runs
// to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	log := obs.With(ctx, s.logger)

	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	tick := time.NewTicker(s.opts.Tick)
	reload := time.NewTicker(s.opts.ReloadInterval)
	defer tick.Stop()
	defer reload.Stop()

	log.Info("scheduler started",
		zap.Duration("tick", s.opts.Tick),
		zap.Duration("reload_interval", s.opts.ReloadInterval))

	s.dispatchDue(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopping, waiting for in-flight runs")
			s.wg.Wait()
			log.Info("scheduler stopped")
			return nil
		case <-reload.C:
			if err := s.Reconcile(ctx); err != nil {
				log.Warn("settings reconcile failed", obs.ErrFields(err)...)
			}
		case <-tick.C:
			s.dispatchDue(ctx, log)
		}
	}
}

// Reconcile ensures every platform has a source row and a scheduler setting,
// seeding missing settings with the default frequency and an immediate first
// run.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	if err := s.store.EnsureSources(ctx, store.AllPlatforms()); err != nil {
		return err
	}
	now := s.now().UTC()
	for _, platform := range store.AllPlatforms() {
		setting, err := s.store.GetSetting(ctx, platform)
		if err != nil {
			return err
		}
		if setting != nil {
			continue
		}
		first := now
		if err := s.store.UpsertSetting(ctx, &store.SchedulerSetting{
			Platform:       platform,
			Enabled:        true,
			FrequencyHours: s.opts.DefaultFrequencyHours,
			NextRunAt:      &first,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) dispatchDue(ctx context.Context, log *zap.Logger) {
	settings, err := s.store.ListSettings(ctx)
	if err != nil {
		log.Warn("failed to list scheduler settings", obs.ErrFields(err)...)
		return
	}
	now := s.now().UTC()
	for _, setting := range settings {
		if !setting.Enabled {
			continue
		}
		if setting.NextRunAt != nil && setting.NextRunAt.After(now) {
			continue
		}
		s.dispatch(ctx, setting.Platform, log)
	}
}

// dispatch launches one platform run unless one is already in flight.
func (s *Scheduler) dispatch(ctx context.Context, platform store.Platform, log *zap.Logger) {
	s.mu.Lock()
	if s.inFlight[platform] {
		s.mu.Unlock()
		log.Debug("run already in flight, skipping", zap.String("platform", string(platform)))
		return
	}
	s.inFlight[platform] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, platform)
			s.mu.Unlock()
		}()
		if _, err := s.runner.Run(ctx, platform); err != nil {
			log.Warn("platform run failed",
				append([]zap.Field{zap.String("platform", string(platform))}, obs.ErrFields(err)...)...)
		}
	}()
}

// Running reports the platforms with a run currently in flight.
func (s *Scheduler) Running() []store.Platform {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Platform, 0, len(s.inFlight))
	for p := range s.inFlight {
		out = append(out, p)
	}
	return out
}
