// Package rules provides the scheduled automation engine for Hearth Core.
//
// A rule binds a time trigger (a fixed instant, a relative delay, or a
// cron expression) to an ordered list of device commands. Arming a rule
// hands its trigger to the scheduler; when the trigger fires the engine
// executes the rule's actions, publishing each command over MQTT to the
// protocol bridges.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                    │
//	│  Arms triggers and orchestrates rule execution         │
//	│  ┌──────────────┐    ┌──────────────┐                │
//	│  │   Registry   │───▶│  Repository  │                │
//	│  │(registry.go) │    │(repository.go)│               │
//	│  └──────────────┘    └──────────────┘                │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐    │
//	│  │  Firing Pipeline                              │    │
//	│  │  1. Trigger fires on a scheduler worker       │    │
//	│  │  2. Load rule (cached)                        │    │
//	│  │  3. Group actions by parallel flag            │    │
//	│  │  4. Execute groups: goroutines + WaitGroup    │    │
//	│  │  5. Publish MQTT commands to bridges          │    │
//	│  │  6. Persist execution record, record metrics  │    │
//	│  └──────────────────────────────────────────────┘    │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Rule: Trigger plus ordered device actions with metadata
//   - Trigger: When the rule fires (at, after, cron)
//   - Action: Individual device command (device_id, protocol, command)
//   - RuleExecution: Audit record of one firing
//   - Engine: Arms triggers on the scheduler and executes firings
//   - Registry: Thread-safe in-memory cache wrapping Repository
//
// # Thread Safety
//
// Registry and Engine are safe for concurrent use from multiple goroutines.
// All public methods use appropriate synchronisation.
//
// # Usage
//
//	repo := rules.NewSQLiteRepository(db)
//	registry := rules.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	engine := rules.NewEngine(registry, repo, sched, mqtt, metrics, log)
//	if err := engine.ArmEnabled(ctx); err != nil {
//	    return err
//	}
package rules
