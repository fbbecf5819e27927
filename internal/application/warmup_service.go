// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/cuenca/internal/domain"
)

// ErrRateLimited is returned when the warmup API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// warmupCooldown is the minimum time between API-triggered warmups.
const warmupCooldown = 30 * time.Second

// WarmupResult contains the result of a warmup run.
type WarmupResult struct {
	Indices         int       `json:"indices"`
	Tasks           int       `json:"tasks"`
	Failed          int       `json:"failed"`
	CacheEntries    int       `json:"cache_entries"`
	Duration        string    `json:"duration"`
	WarmedAt        time.Time `json:"warmed_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// Progress is called after each warmup task with the completed and total
// task counts.
type Progress func(done, total int)

// WarmupService precomputes the series and default comparisons of every
// index so dashboard requests are served from the cache.
type WarmupService struct {
	index    *IndexService
	interval time.Duration
	logger   *slog.Logger

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Rate limiting for API triggers
	lastAPIWarmup time.Time
	apiMutex      sync.Mutex

	// Prevents concurrent warmup runs
	runMutex sync.Mutex

	nextRun time.Time
	runMu   sync.RWMutex
}

// NewWarmupService creates a new warmup service.
func NewWarmupService(index *IndexService, interval time.Duration, logger *slog.Logger) *WarmupService {
	return &WarmupService{
		index:    index,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		// Allow an immediate first API call
		lastAPIWarmup: time.Now().Add(-warmupCooldown - time.Second),
	}
}

// Start runs one warmup and then repeats it every interval. A zero
// interval runs once.
func (s *WarmupService) Start(ctx context.Context) {
	s.logger.Info("starting warmup service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *WarmupService) run(ctx context.Context) {
	defer s.wg.Done()

	if _, err := s.Run(ctx, nil); err != nil {
		s.logger.Warn("warmup failed", "error", err)
	}
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextRun(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("warmup service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("warmup service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled warmup triggered")
			if _, err := s.Run(ctx, nil); err != nil {
				s.logger.Warn("warmup failed", "error", err)
			}
			s.setNextRun(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the warmup service.
func (s *WarmupService) Stop() {
	s.logger.Info("stopping warmup service")
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// TriggerWarmup runs a warmup with rate limiting. Returns ErrRateLimited if
// called again within the cooldown.
func (s *WarmupService) TriggerWarmup(ctx context.Context) (WarmupResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	if time.Since(s.lastAPIWarmup) < warmupCooldown {
		return WarmupResult{}, ErrRateLimited
	}
	s.lastAPIWarmup = time.Now()

	return s.Run(ctx, nil)
}

// Run computes the full series and the default comparison of every index.
// Individual task failures are counted, not returned; a closed session is
// returned as an error before any task starts.
func (s *WarmupService) Run(ctx context.Context, progress Progress) (WarmupResult, error) {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	if _, err := s.index.sessions.Current(); err != nil {
		return WarmupResult{}, err
	}

	began := time.Now()
	indices := domain.AllIndices()
	start, end := s.index.Range()
	years := s.index.CompareYears()

	type task func() error
	tasks := make([]task, 0, len(indices)*2)
	for _, name := range indices {
		tasks = append(tasks,
			func() error {
				_, err := s.index.Series(ctx, string(name), start, end)
				return err
			},
			func() error {
				_, err := s.index.Compare(ctx, string(name), years)
				return err
			},
		)
	}

	failed := 0
	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			return WarmupResult{}, err
		}
		if err := t(); err != nil {
			failed++
			s.logger.Warn("warmup task failed", "task", i, "error", err)
		}
		if progress != nil {
			progress(i+1, len(tasks))
		}
	}

	result := WarmupResult{
		Indices:         len(indices),
		Tasks:           len(tasks),
		Failed:          failed,
		CacheEntries:    s.index.results.Len(),
		Duration:        time.Since(began).Round(time.Millisecond).String(),
		WarmedAt:        time.Now(),
		NextScheduledAt: s.getNextRun(),
	}
	s.logger.Info("warmup completed",
		"tasks", result.Tasks,
		"failed", result.Failed,
		"cache_entries", result.CacheEntries,
		"duration", result.Duration,
	)
	return result, nil
}

// TaskCount returns the number of tasks a run performs.
func (s *WarmupService) TaskCount() int {
	return len(domain.AllIndices()) * 2
}

func (s *WarmupService) setNextRun(t time.Time) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.nextRun = t
}

func (s *WarmupService) getNextRun() time.Time {
	s.runMu.RLock()
	defer s.runMu.RUnlock()
	return s.nextRun
}

// Interval returns the warmup interval.
func (s *WarmupService) Interval() time.Duration {
	return s.interval
}
