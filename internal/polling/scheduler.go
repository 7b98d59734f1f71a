package polling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task names registered by the service.
const (
	ContactSyncTask    = "contact_sync"
	CompletionSyncTask = "completion_sync"
)

// ErrUnknownTask reports a trigger for a task that was never registered.
var ErrUnknownTask = errors.New("polling: unknown task")

// Task is a named job run on a fixed interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type scheduledTask struct {
	Task
	running sync.Mutex
}

// Scheduler runs tasks on independent tickers. A task never overlaps itself:
// a tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	tasks  map[string]*scheduledTask
	order  []string
	logger *zap.Logger
}

// NewScheduler registers tasks. Tasks without a name, a run function or a
// positive interval are rejected.
func NewScheduler(logger *zap.Logger, tasks ...Task) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := &Scheduler{tasks: make(map[string]*scheduledTask, len(tasks)), logger: logger}
	for _, task := range tasks {
		name := strings.TrimSpace(task.Name)
		if name == "" || task.Run == nil || task.Interval <= 0 {
			return nil, errors.New("polling: task requires a name, a run function and a positive interval")
		}
		if _, exists := scheduler.tasks[name]; exists {
			return nil, errors.New("polling: duplicate task " + name)
		}
		task.Name = name
		scheduler.tasks[name] = &scheduledTask{Task: task}
		scheduler.order = append(scheduler.order, name)
	}
	return scheduler, nil
}

// Start blocks, running every task on its interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range s.order {
		task := s.tasks[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, task)
		}()
	}
	wg.Wait()
}

// Trigger runs a task immediately. It returns false when the task is already running.
func (s *Scheduler) Trigger(ctx context.Context, name string) (bool, error) {
	task, ok := s.tasks[name]
	if !ok {
		return false, ErrUnknownTask
	}
	return s.runOnce(ctx, task)
}

func (s *Scheduler) loop(ctx context.Context, task *scheduledTask) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	s.logger.Info("scheduled task registered", zap.String("task", task.Name), zap.Duration("interval", task.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runOnce(ctx, task); err != nil {
				s.logger.Error("scheduled task failed", zap.String("task", task.Name), zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task *scheduledTask) (bool, error) {
	if !task.running.TryLock() {
		s.logger.Warn("scheduled task still running, skipping", zap.String("task", task.Name))
		return false, nil
	}
	defer task.running.Unlock()
	return true, task.Run(ctx)
}
