package scheduler

import (
	"context"
	"sync"
	"time"
)

// timerStatus is the Timer execution status. Exactly one value holds at
// any instant.
type timerStatus int

const (
	statusPending timerStatus = iota
	statusRunning
	statusTerminated
)

// Timer is a caller-facing handle over one scheduled callback's lifecycle.
//
// A Timer is always in exactly one of three states:
//
//	PENDING    — armed, the callback has not yet started
//	RUNNING    — the callback is currently executing on a worker
//	TERMINATED — the callback finished (or failed), was cancelled before
//	             firing, or was superseded by a reschedule
//
// TERMINATED is not terminal: Reschedule re-arms the timer back to
// PENDING with a fresh underlying scheduler task. A cancelled timer
// reports IsCancelled() == true until rescheduled.
//
// Thread Safety: the worker goroutine transitioning PENDING→RUNNING→
// TERMINATED races the owning caller's Cancel/Reschedule/queries. A single
// mutex guards (status, cancelled, task, generation) as one unit, so no
// caller can observe an impossible combination such as IsRunning() and
// HasTerminated() simultaneously.
type Timer struct {
	s  *Scheduler
	fn Callback

	mu        sync.Mutex
	status    timerStatus
	cancelled bool
	task      *Task

	// gen identifies the current arming. Cancel and Reschedule bump it;
	// a firing that captured an older generation finds the mismatch under
	// the mutex and becomes a no-op. This closes the window where a task
	// has left the scheduler queue but not yet claimed the timer.
	gen uint64
}

// NewTimer creates a Timer armed to fire fn at the given instant.
// The timer starts in PENDING.
//
// Parameters:
//   - s: Scheduler that will execute the callback (must be non-nil)
//   - at: Target instant (must be non-zero; past instants fire immediately)
//   - fn: Callback to execute (must be non-nil)
//
// Returns:
//   - *Timer: Armed timer
//   - error: ErrNilScheduler, ErrNilCallback, ErrZeroInstant, or ErrStopped
func NewTimer(s *Scheduler, at time.Time, fn Callback) (*Timer, error) {
	if s == nil {
		return nil, ErrNilScheduler
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	if at.IsZero() {
		return nil, ErrZeroInstant
	}

	t := &Timer{s: s, fn: fn, status: statusTerminated}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.armLocked(at); err != nil {
		return nil, err
	}
	return t, nil
}

// IsActive reports whether the timer is PENDING or RUNNING.
func (t *Timer) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status != statusTerminated
}

// IsRunning reports whether the callback is currently executing.
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == statusRunning
}

// HasTerminated reports whether the timer is TERMINATED.
func (t *Timer) HasTerminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == statusTerminated
}

// IsCancelled reports whether the timer was terminated by an explicit
// Cancel rather than by normal completion. Reset to false on Reschedule.
// IsCancelled() implies HasTerminated().
func (t *Timer) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel cancels a pending timer.
//
// From PENDING the timer transitions to TERMINATED with the cancelled flag
// set and the underlying task removed from the scheduler queue. From
// RUNNING or TERMINATED, Cancel is a no-op: an in-flight callback cannot
// be cancelled and runs to completion.
//
// Returns the timer's cancelled flag after the call, so repeated Cancel
// calls are idempotent and error-free.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != statusPending {
		return t.cancelled
	}

	// Bump the generation first: even if the task has already left the
	// scheduler queue and its firing is blocked on our mutex, it will
	// find the mismatch and stand down.
	t.gen++
	t.task.Cancel()
	t.task = nil
	t.status = statusTerminated
	t.cancelled = true
	return true
}

// Reschedule re-arms the timer to fire at a new instant.
//
// Valid from TERMINATED (including after Cancel — the cancelled flag is
// reset) and from PENDING, where the previous arming is cancelled first so
// the timer fires exactly once, at the new instant. From RUNNING it
// returns ErrTimerRunning; callers must wait for the callback to finish.
//
// Parameters:
//   - at: New target instant (must be non-zero)
//
// Returns:
//   - error: ErrZeroInstant, ErrTimerRunning, or ErrStopped
func (t *Timer) Reschedule(at time.Time) error {
	if at.IsZero() {
		return ErrZeroInstant
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == statusRunning {
		return ErrTimerRunning
	}
	if t.status == statusPending && t.task != nil {
		t.task.Cancel()
	}
	return t.armLocked(at)
}

// armLocked creates a fresh underlying task and moves the timer to
// PENDING. Caller must hold t.mu.
func (t *Timer) armLocked(at time.Time) error {
	t.gen++
	gen := t.gen

	task, err := t.s.At(at, func(ctx context.Context) error {
		return t.fire(ctx, gen)
	})
	if err != nil {
		return err
	}

	t.task = task
	t.status = statusPending
	t.cancelled = false
	return nil
}

// fire is the firing path, invoked on a scheduler worker. It claims the
// timer for the given generation, runs the callback outside the lock, and
// terminates the timer afterwards.
func (t *Timer) fire(ctx context.Context, gen uint64) error {
	t.mu.Lock()
	if t.gen != gen || t.status != statusPending {
		// Superseded by Cancel or Reschedule after this task left the
		// scheduler queue.
		t.mu.Unlock()
		return nil
	}
	t.status = statusRunning
	t.task = nil
	t.mu.Unlock()

	err := t.fn(ctx)

	// Cancel and Reschedule refuse to act while RUNNING, so the
	// generation cannot have moved; the transition below is the only
	// writer.
	t.mu.Lock()
	t.status = statusTerminated
	t.mu.Unlock()
	return err
}
