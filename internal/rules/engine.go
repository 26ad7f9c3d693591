package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hearthlabs/hearth-core/internal/scheduler"
)

// MQTTClient is the interface for publishing commands to protocol bridges.
type MQTTClient interface {
	// Publish sends a message to the specified MQTT topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MetricsRecorder receives rule firing outcomes for time-series storage.
type MetricsRecorder interface {
	// RecordRuleFiring records one completed firing with its final status
	// and wall-clock duration.
	RecordRuleFiring(ruleID string, status string, duration time.Duration)
}

// TriggerManual marks an execution started by an explicit RunRule call
// rather than by an armed trigger.
const TriggerManual = "manual"

// maxRuleExecutionTime is the hard limit for a single rule firing.
// Even complex rules (10+ devices, sequential groups with delays) should
// complete well within this window. Prevents goroutine accumulation from
// runaway rules.
const maxRuleExecutionTime = 60 * time.Second

// arming tracks one armed rule's hold on the scheduler. One-shot triggers
// hold a Timer; cron triggers hold the repeating task directly.
type arming struct {
	timer *scheduler.Timer
	task  *scheduler.Task
}

func (a *arming) cancel() {
	if a.timer != nil {
		a.timer.Cancel()
	}
	if a.task != nil {
		a.task.Cancel()
	}
}

// Engine arms rule triggers on the scheduler and executes firings.
//
// When a trigger fires, the engine loads the rule from the registry,
// groups actions by parallel flag, executes groups sequentially (with
// parallel actions within each group), publishes MQTT commands to
// protocol bridges, and persists an execution record.
//
// Thread Safety: all public methods are safe for concurrent use.
type Engine struct {
	registry *Registry
	repo     Repository // For execution logging
	sched    *scheduler.Scheduler
	mqtt     MQTTClient
	metrics  MetricsRecorder // may be nil
	logger   Logger

	// topicPrefix is the first segment of command topics
	// ({prefix}/command/{protocol}/{device_id}).
	topicPrefix string

	armedMu sync.Mutex
	armed   map[string]*arming // by rule ID
}

// NewEngine creates a new rule engine.
//
// Parameters:
//   - registry: Rule registry for loading rule definitions
//   - repo: Repository for persisting execution logs
//   - sched: Scheduler that drives armed triggers
//   - mqtt: MQTT client for publishing commands to bridges
//   - metrics: Firing outcome recorder (may be nil)
//   - logger: Logger instance
func NewEngine(registry *Registry, repo Repository, sched *scheduler.Scheduler, mqtt MQTTClient, metrics MetricsRecorder, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		registry:    registry,
		repo:        repo,
		sched:       sched,
		mqtt:        mqtt,
		metrics:     metrics,
		logger:      logger,
		topicPrefix: "hearth",
		armed:       make(map[string]*arming),
	}
}

// SetTopicPrefix overrides the default command topic prefix.
func (e *Engine) SetTopicPrefix(prefix string) {
	if prefix != "" {
		e.topicPrefix = prefix
	}
}

// ArmRule hands a rule's trigger to the scheduler.
//
// At and after triggers arm a one-shot timer; the rule disarms itself
// after firing. Cron triggers arm a repeating schedule that runs until
// DisarmRule is called.
//
// Returns:
//   - error: ErrRuleNotFound, ErrRuleDisabled, ErrRuleArmed, or an
//     ErrInvalidTrigger wrap if the trigger cannot be armed
func (e *Engine) ArmRule(ctx context.Context, ruleID string) error {
	rule, err := e.registry.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if !rule.Enabled {
		return ErrRuleDisabled
	}

	e.armedMu.Lock()
	defer e.armedMu.Unlock()

	if _, ok := e.armed[ruleID]; ok {
		return ErrRuleArmed
	}

	triggerType := string(rule.Trigger.Type)
	fire := func(ctx context.Context) error {
		_, fireErr := e.fireRule(ctx, ruleID, triggerType)
		return fireErr
	}

	var a arming
	switch rule.Trigger.Type {
	case TriggerAt:
		if rule.Trigger.At == nil {
			return fmt.Errorf("%w: at trigger requires an instant", ErrInvalidTrigger)
		}
		timer, timerErr := scheduler.NewTimer(e.sched, *rule.Trigger.At, e.oneShot(ruleID, fire))
		if timerErr != nil {
			return fmt.Errorf("arming at trigger: %w", timerErr)
		}
		a.timer = timer

	case TriggerAfter:
		if rule.Trigger.AfterMS <= 0 {
			return fmt.Errorf("%w: after trigger requires a positive delay", ErrInvalidTrigger)
		}
		at := time.Now().Add(time.Duration(rule.Trigger.AfterMS) * time.Millisecond)
		timer, timerErr := scheduler.NewTimer(e.sched, at, e.oneShot(ruleID, fire))
		if timerErr != nil {
			return fmt.Errorf("arming after trigger: %w", timerErr)
		}
		a.timer = timer

	case TriggerCron:
		loc := time.Local
		if rule.Trigger.Timezone != "" {
			loc, err = time.LoadLocation(rule.Trigger.Timezone)
			if err != nil {
				return fmt.Errorf("%w: unknown timezone %q", ErrInvalidTrigger, rule.Trigger.Timezone)
			}
		}
		adj, adjErr := scheduler.NewCronAdjuster(rule.Trigger.Cron, loc)
		if adjErr != nil {
			return fmt.Errorf("arming cron trigger: %w", adjErr)
		}
		task, taskErr := e.sched.Schedule(adj, fire)
		if taskErr != nil {
			return fmt.Errorf("arming cron trigger: %w", taskErr)
		}
		a.task = task

	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, rule.Trigger.Type)
	}

	e.armed[ruleID] = &a

	e.publishEvent(ruleID, "armed", map[string]any{
		"rule_id": ruleID,
		"trigger": triggerType,
	})

	e.logger.Info("rule armed",
		"rule_id", ruleID,
		"rule_name", rule.Name,
		"trigger", triggerType,
	)
	return nil
}

// publishEvent publishes a rule lifecycle event on
// {prefix}/core/rule/{rule_id}/{event}. Best effort: bridges and UIs
// observe these, nothing depends on them.
func (e *Engine) publishEvent(ruleID, event string, payload map[string]any) {
	if e.mqtt == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	topic := e.topicPrefix + "/core/rule/" + ruleID + "/" + event
	if pubErr := e.mqtt.Publish(topic, data, 0, false); pubErr != nil {
		e.logger.Debug("rule event publish failed", "topic", topic, "error", pubErr)
	}
}

// oneShot wraps a firing callback so the rule disarms itself after the
// single firing of an at/after trigger.
func (e *Engine) oneShot(ruleID string, fire scheduler.Callback) scheduler.Callback {
	return func(ctx context.Context) error {
		defer func() {
			e.armedMu.Lock()
			delete(e.armed, ruleID)
			e.armedMu.Unlock()
		}()
		return fire(ctx)
	}
}

// DisarmRule cancels a rule's armed trigger.
// Returns true if the rule was armed. A one-shot trigger whose callback
// is already running cannot be cancelled; it completes normally.
func (e *Engine) DisarmRule(ruleID string) bool {
	e.armedMu.Lock()
	a, ok := e.armed[ruleID]
	if ok {
		delete(e.armed, ruleID)
	}
	e.armedMu.Unlock()

	if !ok {
		return false
	}
	a.cancel()
	e.logger.Info("rule disarmed", "rule_id", ruleID)
	return true
}

// IsArmed reports whether a rule currently holds a scheduler arming.
func (e *Engine) IsArmed(ruleID string) bool {
	e.armedMu.Lock()
	defer e.armedMu.Unlock()
	_, ok := e.armed[ruleID]
	return ok
}

// RuleState reports a rule's trigger state: "armed" (waiting for its
// instant), "running" (callback executing right now), or "idle" (not
// armed, or terminated). Cron triggers report "armed" for their whole
// lifetime since the repeating task has no single terminal state.
func (e *Engine) RuleState(ruleID string) string {
	e.armedMu.Lock()
	a, ok := e.armed[ruleID]
	e.armedMu.Unlock()

	if !ok {
		return "idle"
	}
	if a.timer != nil {
		switch {
		case a.timer.IsRunning():
			return "running"
		case a.timer.IsActive():
			return "armed"
		default:
			return "idle"
		}
	}
	return "armed"
}

// ArmedCount returns the number of currently armed rules.
func (e *Engine) ArmedCount() int {
	e.armedMu.Lock()
	defer e.armedMu.Unlock()
	return len(e.armed)
}

// ArmEnabled arms every enabled rule. Called on startup after the cache
// is populated. Rules that fail to arm are logged and skipped; the first
// error is returned after all rules have been attempted.
func (e *Engine) ArmEnabled(ctx context.Context) error {
	ruleList, err := e.registry.ListEnabledRules(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	armed := 0
	for _, rule := range ruleList {
		if armErr := e.ArmRule(ctx, rule.ID); armErr != nil {
			e.logger.Error("failed to arm rule",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", armErr,
			)
			if firstErr == nil {
				firstErr = armErr
			}
			continue
		}
		armed++
	}

	e.logger.Info("enabled rules armed", "armed", armed, "total", len(ruleList))
	return firstErr
}

// DisarmAll cancels every armed trigger. Called on shutdown.
func (e *Engine) DisarmAll() {
	e.armedMu.Lock()
	armings := make([]*arming, 0, len(e.armed))
	for id, a := range e.armed {
		armings = append(armings, a)
		delete(e.armed, id)
	}
	e.armedMu.Unlock()

	for _, a := range armings {
		a.cancel()
	}
}

// RunRule executes a rule immediately, bypassing its trigger.
//
// Returns:
//   - string: The execution ID for tracking
//   - error: ErrRuleNotFound, ErrRuleDisabled, or ErrMQTTUnavailable
func (e *Engine) RunRule(ctx context.Context, ruleID string) (string, error) {
	return e.fireRule(ctx, ruleID, TriggerManual)
}

// fireRule is the firing path shared by armed triggers and RunRule.
//
// It loads the rule, verifies it's enabled, groups actions by parallel
// flag, executes each group (parallel actions via goroutines), and logs
// the result.
func (e *Engine) fireRule(ctx context.Context, ruleID, triggerType string) (string, error) { //nolint:gocognit,gocyclo // rule firing: validates, executes actions, records execution
	// Apply execution timeout to prevent unbounded goroutine accumulation.
	ctx, cancel := context.WithTimeout(ctx, maxRuleExecutionTime)
	defer cancel()

	// Load rule from registry
	rule, err := e.registry.GetRule(ctx, ruleID)
	if err != nil {
		return "", err
	}

	// Check enabled
	if !rule.Enabled {
		return "", ErrRuleDisabled
	}

	// Check MQTT availability
	if e.mqtt == nil {
		return "", ErrMQTTUnavailable
	}

	// Create execution record
	now := time.Now().UTC()
	exec := &RuleExecution{
		ID:           GenerateID(),
		RuleID:       ruleID,
		FiredAt:      now,
		TriggerType:  triggerType,
		Status:       StatusPending,
		ActionsTotal: len(rule.Actions),
	}

	// Persist initial execution record
	if createErr := e.repo.CreateExecution(ctx, exec); createErr != nil {
		e.logger.Error("failed to create execution record", "error", createErr)
		// Continue execution even if logging fails — firing the rule is more important
	}

	// Start execution
	started := time.Now().UTC()
	exec.StartedAt = &started
	exec.Status = StatusRunning

	e.logger.Info("rule firing started",
		"rule_id", ruleID,
		"rule_name", rule.Name,
		"execution_id", exec.ID,
		"trigger", triggerType,
		"actions", len(rule.Actions),
	)

	// Group actions by parallel flag and execute
	groups := groupActions(rule.Actions)
	var failures []ActionFailure
	completed := 0
	failed := 0
	skipped := 0
	aborted := false

	for _, group := range groups {
		if aborted {
			skipped += len(group)
			continue
		}

		// Check context cancellation between groups
		select {
		case <-ctx.Done():
			skipped += len(group)
			exec.Status = StatusCancelled
			aborted = true
			continue
		default:
		}

		// Execute group (all actions in parallel)
		groupFailures := e.executeGroup(ctx, rule.ID, exec.ID, group)
		completed += len(group) - len(groupFailures)
		failed += len(groupFailures)
		failures = append(failures, groupFailures...)

		// Check if we should abort (any action with ContinueOnError=false failed)
		for _, gf := range groupFailures {
			// ActionIndex is group-relative, so index directly into the group
			if gf.ActionIndex >= 0 && gf.ActionIndex < len(group) {
				if !group[gf.ActionIndex].ContinueOnError {
					aborted = true
					break
				}
			}
		}
	}

	// Determine final status
	completedAt := time.Now().UTC()
	exec.CompletedAt = &completedAt
	exec.ActionsCompleted = completed
	exec.ActionsFailed = failed
	exec.ActionsSkipped = skipped
	exec.Failures = failures
	duration := int(completedAt.Sub(started).Milliseconds())
	exec.DurationMS = &duration

	switch {
	case exec.Status == StatusCancelled:
		// Already set
	case failed > 0 && aborted:
		exec.Status = StatusFailed
	case failed > 0:
		exec.Status = StatusPartial
	default:
		exec.Status = StatusCompleted
	}

	// Update execution record
	if updateErr := e.repo.UpdateExecution(ctx, exec); updateErr != nil {
		e.logger.Error("failed to update execution record", "error", updateErr)
	}

	if e.metrics != nil {
		e.metrics.RecordRuleFiring(ruleID, string(exec.Status), completedAt.Sub(started))
	}

	e.publishEvent(ruleID, "fired", map[string]any{
		"rule_id":      ruleID,
		"execution_id": exec.ID,
		"status":       string(exec.Status),
		"duration_ms":  duration,
	})

	e.logger.Info("rule firing complete",
		"rule_id", ruleID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"duration_ms", duration,
	)

	return exec.ID, nil
}

// executeGroup executes all actions in a group concurrently.
// Returns a slice of failures (empty if all succeeded).
func (e *Engine) executeGroup(ctx context.Context, ruleID, executionID string, actions []Action) []ActionFailure {
	var (
		mu       sync.Mutex
		failures []ActionFailure
		wg       sync.WaitGroup
	)

	for i, action := range actions {
		wg.Add(1)
		go func(idx int, a Action) {
			defer wg.Done()

			if err := e.executeAction(ctx, ruleID, executionID, a); err != nil {
				mu.Lock()
				failures = append(failures, ActionFailure{
					ActionIndex: idx,
					DeviceID:    a.DeviceID,
					Command:     a.Command,
					ErrorCode:   "EXECUTION_FAILED",
					ErrorMsg:    err.Error(),
				})
				mu.Unlock()
			}
		}(i, action)
	}

	wg.Wait()
	return failures
}

// executeAction executes a single rule action.
// It handles delay and MQTT command publishing.
func (e *Engine) executeAction(ctx context.Context, ruleID, executionID string, action Action) error {
	// Handle delay
	if action.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(action.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("action delayed: %w", ctx.Err())
		}
	}

	// Build MQTT command payload
	commandID := GenerateID()
	params := action.Parameters
	if params == nil {
		params = make(map[string]any)
	}

	mqttPayload := map[string]any{
		"id":           commandID,
		"device_id":    action.DeviceID,
		"command":      action.Command,
		"parameters":   params,
		"source":       "rule:" + ruleID,
		"execution_id": executionID,
	}

	payload, marshalErr := json.Marshal(mqttPayload)
	if marshalErr != nil {
		return fmt.Errorf("marshalling command: %w", marshalErr)
	}

	// Publish command using flat topic scheme: {prefix}/command/{protocol}/{device_id}
	topic := e.topicPrefix + "/command/" + action.Protocol + "/" + action.DeviceID

	if pubErr := e.mqtt.Publish(topic, payload, 1, false); pubErr != nil {
		return fmt.Errorf("publishing to %q: %w", topic, pubErr)
	}

	e.logger.Debug("rule action published",
		"rule_id", ruleID,
		"device_id", action.DeviceID,
		"command", action.Command,
		"topic", topic,
	)

	return nil
}

// groupActions splits actions into sequential groups based on the Parallel flag.
//
// The first action always starts a new group. Subsequent actions with
// Parallel=true join the current group; Parallel=false starts a new group.
//
// Example:
//
//	actions: [A(parallel=false), B(parallel=true), C(parallel=true), D(parallel=false)]
//	groups:  [[A, B, C], [D]]
//
// Group 1 (A, B, C) executes concurrently, then group 2 (D) executes after.
func groupActions(actions []Action) [][]Action {
	if len(actions) == 0 {
		return nil
	}

	var groups [][]Action
	current := []Action{actions[0]}

	for _, action := range actions[1:] {
		if action.Parallel {
			current = append(current, action)
		} else {
			groups = append(groups, current)
			current = []Action{action}
		}
	}
	groups = append(groups, current)
	return groups
}
