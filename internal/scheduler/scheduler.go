// Package scheduler runs named periodic tasks on independent timers.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one periodic job. Run receives the scheduler's context and is
// expected to honor cancellation.
type Task struct {
	Name         string
	Interval     time.Duration
	RunAtStartup bool
	Run          func(ctx context.Context)
}

// Scheduler drives a set of tasks, each on its own ticker. Tasks with
// different intervals may overlap; a task never overlaps itself.
type Scheduler struct {
	tasks []Task
	log   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    sync.WaitGroup
	started bool
}

func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{log: log}
}

// Add registers a task. Tasks with a non-positive interval are ignored.
func (s *Scheduler) Add(task Task) {
	if task.Interval <= 0 || task.Run == nil {
		s.log.Warn("skipping scheduler task", "task", task.Name, "interval", task.Interval)
		return
	}
	s.tasks = append(s.tasks, task)
}

// Start launches one goroutine per task. Calling Start twice is an error in
// usage and is ignored.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, task := range s.tasks {
		s.done.Add(1)
		go s.loop(ctx, task)
	}
	s.log.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels all task loops and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if !started || cancel == nil {
		return
	}
	cancel()
	s.done.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.done.Done()

	if task.RunAtStartup {
		s.runOnce(ctx, task)
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

// runOnce executes the task, containing panics so one bad run never kills
// the timer loop.
func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler task panicked", "task", task.Name, "panic", r)
		}
	}()

	start := time.Now()
	s.log.Debug("scheduler task starting", "task", task.Name)
	task.Run(ctx)
	s.log.Debug("scheduler task finished", "task", task.Name, "elapsed", time.Since(start))
}
