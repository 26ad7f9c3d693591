package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// Callback is the unit of work executed when a scheduled instant arrives.
//
// Callbacks run on a scheduler worker goroutine, never on the caller's.
// A returned error is logged by the worker; it does not propagate and does
// not affect other pending tasks. Callbacks should honour ctx, which is
// cancelled when the scheduler shuts down.
type Callback func(ctx context.Context) error

// Logger defines the logging interface used by the scheduler.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Default pool sizing.
const (
	defaultWorkers    = 4
	defaultQueueDepth = 64
)

// Config controls the scheduler's worker pool.
// These map to the scheduler section of config.yaml.
type Config struct {
	// Workers is the number of goroutines executing due callbacks.
	// Tasks with different instants may fire concurrently on different
	// workers. Default: 4.
	Workers int

	// QueueDepth is the buffer size of the ready channel between the
	// dispatcher and the workers. Default: 64.
	QueueDepth int
}

// Scheduler executes callbacks at specified future instants using
// background worker goroutines.
//
// Pending tasks live in a min-heap ordered by instant. A single dispatcher
// goroutine sleeps until the earliest instant, pops due tasks and hands
// them to the worker pool over a buffered channel.
//
// Thread Safety: all public methods are safe for concurrent use.
type Scheduler struct {
	logger Logger

	mu      sync.Mutex
	pending taskHeap
	seq     uint64
	started bool
	stopped bool

	// wake nudges the dispatcher when a task is scheduled ahead of the
	// current earliest instant. Capacity 1; sends are non-blocking.
	wake chan struct{}

	ready   chan *Task
	stopCh  chan struct{}
	workers int
	wg      sync.WaitGroup
}

// New creates a new Scheduler. Call Start before scheduling fires anything;
// tasks may be submitted beforehand and are queued until then.
//
// Parameters:
//   - cfg: Pool sizing (zero values select defaults)
//   - logger: Logger for callback failures (nil for no logging)
func New(cfg Config, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &Scheduler{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		ready:   make(chan *Task, depth),
		stopCh:  make(chan struct{}),
		workers: workers,
	}
}

// Start launches the dispatcher and worker pool. Idempotent.
//
// The supplied context is passed through to callbacks and cancels the pool
// when done, equivalent to calling Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatch(ctx)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.logger.Info("scheduler started", "workers", s.workers)
}

// Stop shuts the scheduler down and waits for in-flight callbacks to
// return. Pending tasks that have not fired never will. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasStarted := s.started
	close(s.stopCh)
	s.mu.Unlock()

	if wasStarted {
		s.wg.Wait()
	}
	s.logger.Info("scheduler stopped")
}

// At registers fn to run once, no earlier than instant, on a worker
// goroutine. Instants in the past fire immediately.
//
// Parameters:
//   - instant: Absolute target instant (must be non-zero)
//   - fn: Callback to execute (must be non-nil)
//
// Returns:
//   - *Task: Handle supporting cancellation and delay queries
//   - error: ErrNilCallback, ErrZeroInstant, or ErrStopped
func (s *Scheduler) At(instant time.Time, fn Callback) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	if instant.IsZero() {
		return nil, ErrZeroInstant
	}
	return s.submit(instant, fn, nil)
}

// After registers fn to run once after delay, measured from now.
// Zero or negative delays fire immediately.
func (s *Scheduler) After(delay time.Duration, fn Callback) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	return s.submit(time.Now().Add(delay), fn, nil)
}

// Schedule registers fn for repeated execution driven by adj.
//
// The first firing happens at adj.Next(now). After each firing the
// scheduler consults adj.Done; if false, the task is re-armed at
// adj.Next(now). The returned handle persists across firings; cancelling
// it prevents all future firings (an in-flight one still completes).
func (s *Scheduler) Schedule(adj Adjuster, fn Callback) (*Task, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	if adj == nil {
		return nil, ErrNilAdjuster
	}
	return s.submit(adj.Next(time.Now()), fn, adj)
}

// PendingCount returns the number of tasks waiting to fire.
// Used for queue-depth metrics; the value is immediately stale.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// submit enqueues a task and nudges the dispatcher.
func (s *Scheduler) submit(at time.Time, fn Callback, adj Adjuster) (*Task, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.seq++
	t := &Task{s: s, fn: fn, adj: adj, at: at, seq: s.seq, index: -1}
	heap.Push(&s.pending, t)
	s.mu.Unlock()

	s.nudge()
	return t, nil
}

// requeue re-arms a repeating task for its next firing.
// The task's state has already been reset to pending by the worker.
func (s *Scheduler) requeue(t *Task, at time.Time) {
	s.mu.Lock()
	if s.stopped || t.state.Load() != taskPending {
		// Stopped, or a cancel slipped in between the worker's state
		// reset and this requeue. Either way the task must not re-enter
		// the queue.
		s.mu.Unlock()
		t.state.Store(taskDone)
		return
	}
	s.seq++
	t.at = at
	t.seq = s.seq
	heap.Push(&s.pending, t)
	s.mu.Unlock()

	s.nudge()
}

// remove takes a cancelled task out of the pending queue, if it is queued.
func (s *Scheduler) remove(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.index >= 0 {
		heap.Remove(&s.pending, t.index)
	}
}

// nudge wakes the dispatcher without blocking.
func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch is the single goroutine that moves due tasks from the pending
// heap to the ready channel. It sleeps until the earliest pending instant
// and is woken early when a new task is scheduled ahead of it.
func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		// Hand over everything that is due.
		for {
			s.mu.Lock()
			if s.pending.Len() == 0 || s.pending[0].at.After(time.Now()) {
				s.mu.Unlock()
				break
			}
			t := heap.Pop(&s.pending).(*Task)
			s.mu.Unlock()

			select {
			case s.ready <- t:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		// Sleep until the next instant, a nudge, or shutdown.
		s.mu.Lock()
		var wait time.Duration
		haveNext := s.pending.Len() > 0
		if haveNext {
			wait = time.Until(s.pending[0].at)
		}
		s.mu.Unlock()

		if haveNext {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				if !timer.Stop() {
					<-timer.C
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		} else {
			select {
			case <-s.wake:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// worker executes tasks from the ready channel until shutdown.
func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case t := <-s.ready:
			s.run(ctx, t)
		}
	}
}

// run performs one firing: claim the task, invoke the callback, and re-arm
// repeating tasks.
func (s *Scheduler) run(ctx context.Context, t *Task) {
	// The pending→running CAS is the race point with Cancel. Losing it
	// means the task was cancelled after leaving the heap; the callback
	// must not run.
	if !t.state.CompareAndSwap(taskPending, taskRunning) {
		return
	}

	if err := s.invoke(ctx, t.fn); err != nil {
		s.logger.Error("scheduled callback failed", "error", err)
	}

	if t.adj != nil && !t.cancelled.Load() {
		now := time.Now()
		if !t.adj.Done(now) {
			t.state.Store(taskPending)
			s.requeue(t, t.adj.Next(now))
			return
		}
	}

	t.state.Store(taskDone)
}

// invoke runs the callback with panic recovery so a misbehaving callback
// cannot take down a worker.
func (s *Scheduler) invoke(ctx context.Context, fn Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return fn(ctx)
}
