package syncer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/semaphore"

	"github.com/rpmqd/rpmqd"
)

// DefaultMaxInFlight bounds the number of repositories syncing
// concurrently in daemon mode, mirroring a fan-out scheduler's "max
// in-flight updaters" policy. See SPEC_FULL.md §5 (expansion).
var DefaultMaxInFlight = runtime.GOMAXPROCS(0)

// Scheduler runs one Syncer state machine per enabled repository, on its
// own interval, sharing a single bounded-concurrency executor. See spec
// §4.9, §5.
type Scheduler struct {
	Syncer      *Syncer
	MaxInFlight int

	mu      sync.Mutex
	reports map[string]Report
}

// NewScheduler returns a Scheduler driving syncer, bounded by
// DefaultMaxInFlight concurrent repository syncs.
func NewScheduler(syncer *Syncer) *Scheduler {
	return &Scheduler{Syncer: syncer, MaxInFlight: DefaultMaxInFlight, reports: make(map[string]Report)}
}

func (s *Scheduler) maxInFlight() int {
	if s.MaxInFlight > 0 {
		return s.MaxInFlight
	}
	return DefaultMaxInFlight
}

// RunOnce runs every enabled repository in cfg exactly once, bounded by
// MaxInFlight concurrent runs, and returns one Report per repository. A
// single repository's failure does not prevent the others from running.
func (s *Scheduler) RunOnce(ctx context.Context, repos []rpmqd.RepositoryConfig) []Report {
	sem := semaphore.NewWeighted(int64(s.maxInFlight()))
	reports := make([]Report, len(repos))
	var wg sync.WaitGroup

	for i, cfg := range repos {
		if err := sem.Acquire(ctx, 1); err != nil {
			reports[i] = Report{Repository: cfg.Name, Final: StateRecordingFailed, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, cfg rpmqd.RepositoryConfig) {
			defer wg.Done()
			defer sem.Release(1)
			report := s.Syncer.RunOnce(ctx, cfg)
			s.recordReport(report)
			reports[i] = report
		}(i, cfg)
	}
	wg.Wait()
	return reports
}

// RunDaemon fires each enabled repository's Syncer on its own
// interval_seconds ticker until ctx is canceled. State machines for
// different repositories are independent and run concurrently, bounded by
// MaxInFlight; in-flight runs are allowed to finish their current
// transaction but no new run starts after cancellation.
func (s *Scheduler) RunDaemon(ctx context.Context, repos []rpmqd.RepositoryConfig) {
	sem := semaphore.NewWeighted(int64(s.maxInFlight()))
	var wg sync.WaitGroup

	for _, cfg := range repos {
		wg.Add(1)
		go func(cfg rpmqd.RepositoryConfig) {
			defer wg.Done()
			s.runRepoLoop(ctx, cfg, sem)
		}(cfg)
	}
	wg.Wait()
}

func (s *Scheduler) runRepoLoop(ctx context.Context, cfg rpmqd.RepositoryConfig, sem *semaphore.Weighted) {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	t := time.NewTicker(interval)
	defer t.Stop()

	run := func() {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer sem.Release(1)
		report := s.Syncer.RunOnce(ctx, cfg)
		s.recordReport(report)
		if report.Err != nil {
			zlog.Error(ctx).Err(report.Err).Str("repository", cfg.Name).Msg("scheduled sync failed; retrying next tick")
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}

func (s *Scheduler) recordReport(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.Repository] = r
}

// Status returns the most recently recorded Report for name, or an error
// if that repository has never completed a run under this Scheduler's
// lifetime (it may still have sync state recorded in the store from a
// prior process; callers wanting that should consult Store.GetSyncState
// instead).
func (s *Scheduler) Status(name string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[name]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", errNotConfigured, name)
	}
	return r, nil
}

// AllStatus returns every recorded Report, keyed by repository name.
func (s *Scheduler) AllStatus() map[string]Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Report, len(s.reports))
	for k, v := range s.reports {
		out[k] = v
	}
	return out
}
