package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultPoolSize     = 20
	defaultTickInterval = 200 * time.Millisecond
)

// Task is periodic work run by a Scheduler.
type Task interface {
	Tick()
}

type scheduled struct {
	id        uint64
	task      Task
	running   atomic.Bool
	cancelled atomic.Bool
}

// Scheduler runs every scheduled task once per interval on a bounded pool of
// workers. A task never has two ticks in flight: if its previous tick is
// still running when the interval fires, that round is skipped.
type Scheduler struct {
	interval time.Duration
	workers  int
	logger   Logger

	mu     sync.Mutex
	tasks  map[uint64]*scheduled
	nextID uint64

	work chan *scheduled
}

func NewScheduler(workers int, interval time.Duration, logger Logger) *Scheduler {
	if workers <= 0 {
		workers = defaultPoolSize
	}
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Scheduler{
		interval: interval,
		workers:  workers,
		logger:   logger,
		tasks:    make(map[uint64]*scheduled),
		work:     make(chan *scheduled),
	}
}

// Schedule registers t for periodic execution, starting one interval from
// now. The returned cancel func is idempotent and drops t from every later
// round; a tick already handed to a worker may still run once.
func (s *Scheduler) Schedule(t Task) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	e := &scheduled{id: s.nextID, task: t}
	s.tasks[e.id] = e
	s.mu.Unlock()

	return func() {
		e.cancelled.Store(true)
		s.mu.Lock()
		delete(s.tasks, e.id)
		s.mu.Unlock()
	}
}

// Len returns the number of scheduled tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run dispatches ticks until ctx is done, then waits for in-flight ticks.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	due := make([]*scheduled, 0, len(s.tasks))
	for _, e := range s.tasks {
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		if !e.running.CompareAndSwap(false, true) {
			continue
		}
		select {
		case s.work <- e:
		case <-ctx.Done():
			e.running.Store(false)
			return
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.work:
			s.run(e)
		}
	}
}

func (s *Scheduler) run(e *scheduled) {
	defer e.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", e.id, "panic", r)
		}
	}()
	if e.cancelled.Load() {
		return
	}
	e.task.Tick()
}
