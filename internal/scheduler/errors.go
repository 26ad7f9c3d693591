package scheduler

import "errors"

// Domain errors for the scheduler package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, scheduler.ErrTimerRunning) {
//	    // wait for the callback to finish before re-arming
//	}
var (
	// ErrNilCallback is returned when scheduling with a nil callback.
	ErrNilCallback = errors.New("scheduler: nil callback")

	// ErrNilAdjuster is returned when Schedule is called with a nil adjuster.
	ErrNilAdjuster = errors.New("scheduler: nil adjuster")

	// ErrZeroInstant is returned when scheduling at the zero time.
	ErrZeroInstant = errors.New("scheduler: zero instant")

	// ErrStopped is returned when scheduling on a stopped scheduler.
	ErrStopped = errors.New("scheduler: stopped")

	// ErrNilScheduler is returned when constructing a Timer without a scheduler.
	ErrNilScheduler = errors.New("scheduler: nil scheduler")

	// ErrTimerRunning is returned when rescheduling a timer whose callback
	// is currently executing. Callers must wait for termination.
	ErrTimerRunning = errors.New("scheduler: timer is running")

	// ErrInvalidCron is returned when a cron expression fails to parse.
	ErrInvalidCron = errors.New("scheduler: invalid cron expression")
)
