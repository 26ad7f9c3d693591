// Package scheduler provides the timer and scheduling core for Hearth Core.
//
// It executes callbacks at specified future instants on a pool of background
// worker threads, and exposes a stateful Timer handle that higher layers
// (the rules engine, scripts) use to inspect and control a single scheduled
// callback.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────┐
//	│               Scheduler (scheduler.go)                │
//	│                                                       │
//	│  At/After/Schedule ──▶ pending min-heap (by instant)  │
//	│                             │                         │
//	│                        dispatcher                     │
//	│                 (sleeps until next instant)           │
//	│                             │                         │
//	│                       ready channel                   │
//	│                             │                         │
//	│                 worker pool (N goroutines)            │
//	│        panic recovery + error logging per firing      │
//	└──────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Scheduler: owns the pending queue and worker pool
//   - Task: opaque handle for one registered (callback, instant) pair
//   - Timer: caller-facing pending/running/terminated state machine with
//     cancel and reschedule (timer.go)
//   - Adjuster: drives repeating schedules (fixed period or cron, adjuster.go)
//
// # Guarantees
//
//   - A task fires at most once per armed instant, no earlier than that
//     instant. Instants in the past fire immediately.
//   - Cancellation races the firing worker: if Cancel wins, the callback
//     never runs; once a worker has begun the firing, it runs to completion.
//   - Callback errors and panics are logged and never crash a worker or
//     delay other pending tasks.
//   - The pending queue is memory-only. Nothing survives a restart; callers
//     re-arm their schedules on startup.
//
// # Thread Safety
//
// All public methods on Scheduler, Task, and Timer are safe for concurrent
// use from multiple goroutines.
//
// # Usage
//
//	sched := scheduler.New(scheduler.Config{Workers: 4}, log)
//	sched.Start(ctx)
//	defer sched.Stop()
//
//	timer, err := scheduler.NewTimer(sched, time.Now().Add(10*time.Second), func(ctx context.Context) error {
//	    return engine.RunRule(ctx, ruleID)
//	})
package scheduler
