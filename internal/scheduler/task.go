package scheduler

import (
	"sync/atomic"
	"time"
)

// Task execution states. Transitions are one-way except for repeating
// tasks, which return from taskRunning to taskPending when re-armed.
const (
	taskPending int32 = iota
	taskRunning
	taskDone
	taskCancelled
)

// Task is the opaque handle for one registered (callback, instant) pair.
//
// A Task is owned by the Scheduler's pending queue until it fires or is
// cancelled. For one-shot tasks the handle is spent after the firing; for
// repeating tasks (created via Schedule) the same handle is re-armed for
// each subsequent firing until the adjuster reports done or the task is
// cancelled.
type Task struct {
	s   *Scheduler
	fn  Callback
	adj Adjuster

	// state is the firing state machine. The worker claims a firing with a
	// pending→running CAS; Cancel claims a pending task with a
	// pending→cancelled CAS. Exactly one of them wins.
	state atomic.Int32

	// cancelled is set by Cancel regardless of which side wins the CAS.
	// Repeating tasks consult it to suppress re-arming after an in-flight
	// firing completes.
	cancelled atomic.Bool

	// at, seq and index are guarded by the Scheduler's mutex.
	// seq breaks heap ties so equal instants pop in schedule order.
	// index is the heap position, -1 while not queued.
	at    time.Time
	seq   uint64
	index int
}

// Cancel prevents the task from firing.
//
// Best effort: if the callback has not yet started executing, it never runs
// and Cancel returns true. If a worker has already begun the firing, the
// in-flight execution is not interrupted and Cancel returns false — but for
// repeating tasks all future firings are still suppressed.
//
// Cancel is idempotent and safe to call from any goroutine.
func (t *Task) Cancel() bool {
	t.cancelled.Store(true)
	if t.state.CompareAndSwap(taskPending, taskCancelled) {
		t.s.remove(t)
		return true
	}
	return false
}

// IsCancelled reports whether Cancel has been called on this task.
func (t *Task) IsCancelled() bool {
	return t.cancelled.Load()
}

// When returns the instant the task is armed to fire at.
// For repeating tasks this is the next pending instant.
func (t *Task) When() time.Time {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.at
}

// Delay returns the time remaining until the task fires.
// Negative values mean the task is due (or already fired).
func (t *Task) Delay() time.Duration {
	return time.Until(t.When())
}

// taskHeap is a min-heap of tasks ordered by instant, then by scheduling
// order. Used with container/heap; all access is guarded by Scheduler.mu.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
