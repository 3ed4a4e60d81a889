package membank

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaintenanceTask identifies one scheduled sweep type.
type MaintenanceTask string

const (
	TaskDecay   MaintenanceTask = "decay"
	TaskTier    MaintenanceTask = "tier"
	TaskHealth  MaintenanceTask = "health"
	TaskCleanup MaintenanceTask = "cleanup"
	TaskFull    MaintenanceTask = "full"
)

// Default sweep intervals per task.
var defaultIntervals = map[MaintenanceTask]time.Duration{
	TaskDecay:   time.Hour,
	TaskTier:    2 * time.Hour,
	TaskHealth:  30 * time.Minute,
	TaskCleanup: 24 * time.Hour,
	TaskFull:    12 * time.Hour,
}

var (
	ErrSchedulerRunning = errors.New("scheduler already running")
	ErrSchedulerStopped = errors.New("scheduler not running")
	ErrUnknownTask      = errors.New("unknown maintenance task")
)

// Scheduler drives periodic maintenance sweeps over every registered
// project. Each task type runs on its own independent ticker loop; a slow
// or failing task never blocks the others, and a failing iteration is
// logged and retried on the next tick.
type Scheduler struct {
	manager *Manager
	logger  *zap.Logger

	intervals map[MaintenanceTask]time.Duration

	mu       sync.Mutex
	projects map[string]struct{}
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval overrides one task's sweep interval.
func WithInterval(task MaintenanceTask, interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.intervals[task] = interval
		}
	}
}

// NewScheduler creates a scheduler bound to a manager.
func NewScheduler(manager *Manager, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	intervals := make(map[MaintenanceTask]time.Duration, len(defaultIntervals))
	for task, interval := range defaultIntervals {
		intervals[task] = interval
	}
	s := &Scheduler{
		manager:   manager,
		logger:    logger,
		intervals: intervals,
		projects:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a project to every sweep. Unknown projects are a no-op for
// the sweeps until they hold memories.
func (s *Scheduler) Register(projectID string) {
	if projectID == "" {
		return
	}
	s.mu.Lock()
	s.projects[projectID] = struct{}{}
	s.mu.Unlock()
}

// Unregister removes a project from the sweeps.
func (s *Scheduler) Unregister(projectID string) {
	s.mu.Lock()
	delete(s.projects, projectID)
	s.mu.Unlock()
}

func (s *Scheduler) registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.projects))
	for id := range s.projects {
		out = append(out, id)
	}
	return out
}

// Start launches one loop per task type. Calling Start on a running
// scheduler is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})

	for task, interval := range s.intervals {
		s.wg.Add(1)
		go s.loop(task, interval)
	}
	s.logger.Info("maintenance scheduler started", zap.Int("tasks", len(s.intervals)))
	return nil
}

// Stop halts all loops and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}

func (s *Scheduler) loop(task MaintenanceTask, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(task)
		}
	}
}

// sweep runs one task over every registered project, isolating panics so a
// bad iteration cannot kill the loop. Per-task run metrics are recorded by
// the manager; only panics are counted here.
func (s *Scheduler) sweep(task MaintenanceTask) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("maintenance sweep panicked",
				zap.String("task", string(task)),
				zap.Any("panic", r),
			)
			metricMaintenanceRuns.WithLabelValues(string(task), "panic").Inc()
		}
	}()

	ctx := context.Background()
	for _, projectID := range s.registered() {
		if err := s.runTask(ctx, task, projectID); err != nil {
			s.logger.Warn("maintenance task failed",
				zap.String("task", string(task)),
				zap.String("project", projectID),
				zap.Error(err),
			)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, task MaintenanceTask, projectID string) error {
	switch task {
	case TaskDecay:
		_, err := s.manager.RunDecay(ctx, projectID)
		return err
	case TaskTier:
		_, err := s.manager.RunTierAdjustment(ctx, projectID)
		return err
	case TaskFull:
		_, err := s.manager.RunMaintenance(ctx, projectID)
		return err
	case TaskCleanup:
		if _, err := s.manager.CleanupExpired(ctx, projectID); err != nil {
			return err
		}
		_, err := s.manager.CompressCold(ctx, projectID)
		return err
	case TaskHealth:
		stats, err := s.manager.Stats(ctx, projectID)
		if err != nil {
			return err
		}
		s.logger.Debug("project health",
			zap.String("project", projectID),
			zap.Int("total", stats.Total),
			zap.Int("core", stats.ByTier[TierCore]),
			zap.Int("cold", stats.ByTier[TierCold]),
			zap.Float64("avg_confidence", stats.AvgConfidence),
		)
		return nil
	default:
		return ErrUnknownTask
	}
}

// RunNow triggers one task immediately for every registered project,
// independent of the timers.
func (s *Scheduler) RunNow(ctx context.Context, task MaintenanceTask) error {
	if _, known := defaultIntervals[task]; !known {
		return ErrUnknownTask
	}
	var firstErr error
	for _, projectID := range s.registered() {
		if err := s.runTask(ctx, task, projectID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
