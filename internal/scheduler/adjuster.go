package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Adjuster drives a repeating schedule created with Scheduler.Schedule.
//
// After each firing the scheduler calls Done; if it returns false the task
// is re-armed at Next(now). Adjusters are consulted by one worker at a
// time per task and need no internal locking, but a single Adjuster value
// must not be shared between tasks.
type Adjuster interface {
	// Next returns the first firing instant strictly after the given time.
	Next(after time.Time) time.Time

	// Done reports whether the schedule has completed. Called once after
	// every firing.
	Done(now time.Time) bool
}

// PeriodAdjuster fires at a fixed interval, optionally stopping after a
// maximum number of runs.
type PeriodAdjuster struct {
	period  time.Duration
	maxRuns int
	runs    int
}

// NewPeriodAdjuster creates an adjuster firing every period.
// maxRuns limits the total number of firings; zero or negative means
// unlimited.
func NewPeriodAdjuster(period time.Duration, maxRuns int) *PeriodAdjuster {
	return &PeriodAdjuster{period: period, maxRuns: maxRuns}
}

// Next implements Adjuster.
func (a *PeriodAdjuster) Next(after time.Time) time.Time {
	return after.Add(a.period)
}

// Done implements Adjuster. Counts firings against maxRuns.
func (a *PeriodAdjuster) Done(time.Time) bool {
	if a.maxRuns <= 0 {
		return false
	}
	a.runs++
	return a.runs >= a.maxRuns
}

// CronAdjuster fires according to a cron expression.
//
// Expressions use the standard five fields with an optional leading
// seconds field, plus @-descriptors ("@hourly", "@every 90s", ...).
type CronAdjuster struct {
	schedule cron.Schedule
	loc      *time.Location
}

// cronParser accepts both 5-field and seconds-resolution 6-field specs.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewCronAdjuster parses spec and returns an adjuster evaluating it in the
// given location (nil means time.Local).
//
// Returns:
//   - *CronAdjuster: Ready adjuster
//   - error: Wrapping ErrInvalidCron if the expression does not parse
func NewCronAdjuster(spec string, loc *time.Location) (*CronAdjuster, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCron, spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &CronAdjuster{schedule: schedule, loc: loc}, nil
}

// Next implements Adjuster.
func (a *CronAdjuster) Next(after time.Time) time.Time {
	return a.schedule.Next(after.In(a.loc))
}

// Done implements Adjuster. Cron schedules never complete on their own;
// they run until cancelled.
func (a *CronAdjuster) Done(time.Time) bool {
	return false
}
