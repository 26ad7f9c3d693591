package rules

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthlabs/hearth-core/internal/scheduler"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockMQTT captures all published messages.
type mockMQTT struct {
	messages []mqttMessage
	mu       sync.Mutex
	failOn   string // Topic to fail on (for error testing)
}

type mqttMessage struct {
	Topic    string
	Payload  map[string]any
	QoS      byte
	Retained bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOn != "" && topic == m.failOn {
		return errors.New("MQTT publish failed")
	}

	var parsed map[string]any
	_ = json.Unmarshal(payload, &parsed)

	m.messages = append(m.messages, mqttMessage{
		Topic:    topic,
		Payload:  parsed,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *mockMQTT) getMessages() []mqttMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]mqttMessage, len(m.messages))
	copy(cpy, m.messages)
	return cpy
}

// commandMessages returns only device command publishes, excluding the
// rule lifecycle events on {prefix}/core/rule/...
func (m *mockMQTT) commandMessages() []mqttMessage {
	var cmds []mqttMessage
	for _, msg := range m.getMessages() {
		if strings.Contains(msg.Topic, "/command/") {
			cmds = append(cmds, msg)
		}
	}
	return cmds
}

func (m *mockMQTT) commandCount() int {
	return len(m.commandMessages())
}

// mockMetrics captures recorded rule firings.
type mockMetrics struct {
	firings []recordedFiring
	mu      sync.Mutex
}

type recordedFiring struct {
	RuleID   string
	Status   string
	Duration time.Duration
}

func (m *mockMetrics) RecordRuleFiring(ruleID, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firings = append(m.firings, recordedFiring{RuleID: ruleID, Status: status, Duration: duration})
}

func (m *mockMetrics) getFirings() []recordedFiring {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]recordedFiring, len(m.firings))
	copy(cpy, m.firings)
	return cpy
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func setupEngine(t *testing.T) (*Engine, *mockMQTT, *mockMetrics, *mockRepository) {
	t.Helper()

	repo := newMockRepository()
	registry := NewRegistry(repo)
	mqtt := newMockMQTT()
	metrics := &mockMetrics{}

	sched := scheduler.New(scheduler.Config{Workers: 4}, nil)
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	engine := NewEngine(registry, repo, sched, mqtt, metrics, noopLogger{})
	t.Cleanup(engine.DisarmAll)
	return engine, mqtt, metrics, repo
}

func createTestRule(t *testing.T, repo *mockRepository, registry *Registry, id, name string, trigger Trigger, actions []Action) {
	t.Helper()
	rule := &Rule{
		ID:      id,
		Name:    name,
		Slug:    GenerateSlug(name),
		Enabled: true,
		Trigger: trigger,
		Actions: actions,
	}
	repo.rules[id] = rule
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

// cronTrigger builds a cron trigger evaluated in UTC.
func cronTrigger(expr string) Trigger {
	return Trigger{Type: TriggerCron, Cron: expr, Timezone: "UTC"}
}

// ─── RunRule ────────────────────────────────────────────────────────────────

func TestEngine_RunRule_Success(t *testing.T) {
	engine, mqtt, _, repo := setupEngine(t)
	ctx := context.Background()

	createTestRule(t, repo, engine.registry, "goodnight", "Goodnight", cronTrigger("0 23 * * *"), []Action{
		{DeviceID: "light-01", Protocol: "knx", Command: "set", Parameters: map[string]any{"on": false}, ContinueOnError: true},
		{DeviceID: "blind-01", Protocol: "knx", Command: "position", Parameters: map[string]any{"position": float64(0)}, Parallel: true, ContinueOnError: true},
	})

	execID, err := engine.RunRule(ctx, "goodnight")
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}
	if execID == "" {
		t.Error("execution ID is empty")
	}

	// Check MQTT command messages
	msgs := mqtt.commandMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 MQTT commands, got %d", len(msgs))
	}

	// Verify topics and payload structure
	topics := make(map[string]bool)
	for _, msg := range msgs {
		topics[msg.Topic] = true
		if msg.QoS != 1 {
			t.Errorf("QoS = %d, want 1", msg.QoS)
		}
		if msg.Retained {
			t.Error("command should not be retained")
		}
		if msg.Payload["source"] != "rule:goodnight" {
			t.Errorf("source = %v, want %q", msg.Payload["source"], "rule:goodnight")
		}
		if msg.Payload["execution_id"] != execID {
			t.Errorf("execution_id = %v, want %q", msg.Payload["execution_id"], execID)
		}
	}
	if !topics["hearth/command/knx/light-01"] {
		t.Error("missing MQTT message for light-01")
	}
	if !topics["hearth/command/knx/blind-01"] {
		t.Error("missing MQTT message for blind-01")
	}

	// Check execution record
	exec, execErr := repo.GetExecution(ctx, execID)
	if execErr != nil {
		t.Fatalf("GetExecution: %v", execErr)
	}
	if exec.Status != StatusCompleted {
		t.Errorf("execution status = %q, want %q", exec.Status, StatusCompleted)
	}
	if exec.TriggerType != TriggerManual {
		t.Errorf("trigger type = %q, want %q", exec.TriggerType, TriggerManual)
	}
	if exec.ActionsCompleted != 2 {
		t.Errorf("ActionsCompleted = %d, want 2", exec.ActionsCompleted)
	}
	if exec.ActionsFailed != 0 {
		t.Errorf("ActionsFailed = %d, want 0", exec.ActionsFailed)
	}
}

func TestEngine_RunRule_NotFound(t *testing.T) {
	engine, _, _, _ := setupEngine(t)

	_, err := engine.RunRule(context.Background(), "nonexistent")
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got: %v", err)
	}
}

func TestEngine_RunRule_Disabled(t *testing.T) {
	engine, _, _, repo := setupEngine(t)
	ctx := context.Background()

	repo.rules["disabled"] = &Rule{
		ID: "disabled", Name: "Disabled Rule", Slug: "disabled-rule", Enabled: false,
		Trigger: cronTrigger("0 7 * * *"),
		Actions: []Action{{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true}},
	}
	if err := engine.registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	_, err := engine.RunRule(ctx, "disabled")
	if !errors.Is(err, ErrRuleDisabled) {
		t.Errorf("expected ErrRuleDisabled, got: %v", err)
	}
}

func TestEngine_RunRule_MQTTUnavailable(t *testing.T) {
	repo := newMockRepository()
	registry := NewRegistry(repo)

	sched := scheduler.New(scheduler.Config{Workers: 2}, nil)
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	// Engine with nil MQTT
	engine := NewEngine(registry, repo, sched, nil, nil, noopLogger{})
	ctx := context.Background()

	createTestRule(t, repo, registry, "test", "Test", cronTrigger("0 7 * * *"), []Action{
		{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true},
	})

	_, err := engine.RunRule(ctx, "test")
	if !errors.Is(err, ErrMQTTUnavailable) {
		t.Errorf("expected ErrMQTTUnavailable, got: %v", err)
	}
}

func TestEngine_RunRule_FailFastAborts(t *testing.T) {
	engine, mqtt, _, repo := setupEngine(t)
	ctx := context.Background()

	mqtt.failOn = "hearth/command/knx/light-01"

	// First group fails critically; second group must be skipped.
	createTestRule(t, repo, engine.registry, "failing", "Failing Rule", cronTrigger("0 7 * * *"), []Action{
		{DeviceID: "light-01", Protocol: "knx", Command: "set"}, // ContinueOnError=false
		{DeviceID: "light-02", Protocol: "knx", Command: "set"},
	})

	execID, err := engine.RunRule(ctx, "failing")
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}

	exec, execErr := repo.GetExecution(ctx, execID)
	if execErr != nil {
		t.Fatalf("GetExecution: %v", execErr)
	}
	if exec.Status != StatusFailed {
		t.Errorf("status = %q, want %q", exec.Status, StatusFailed)
	}
	if exec.ActionsFailed != 1 {
		t.Errorf("ActionsFailed = %d, want 1", exec.ActionsFailed)
	}
	if exec.ActionsSkipped != 1 {
		t.Errorf("ActionsSkipped = %d, want 1", exec.ActionsSkipped)
	}
	if len(exec.Failures) != 1 || exec.Failures[0].DeviceID != "light-01" {
		t.Errorf("unexpected failures: %+v", exec.Failures)
	}
}

func TestEngine_RunRule_ContinueOnErrorIsPartial(t *testing.T) {
	engine, mqtt, _, repo := setupEngine(t)
	ctx := context.Background()

	mqtt.failOn = "hearth/command/knx/light-01"

	createTestRule(t, repo, engine.registry, "partial", "Partial Rule", cronTrigger("0 7 * * *"), []Action{
		{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true},
		{DeviceID: "light-02", Protocol: "knx", Command: "set", ContinueOnError: true},
	})

	execID, err := engine.RunRule(ctx, "partial")
	if err != nil {
		t.Fatalf("RunRule: %v", err)
	}

	exec, execErr := repo.GetExecution(ctx, execID)
	if execErr != nil {
		t.Fatalf("GetExecution: %v", execErr)
	}
	if exec.Status != StatusPartial {
		t.Errorf("status = %q, want %q", exec.Status, StatusPartial)
	}
	if exec.ActionsCompleted != 1 || exec.ActionsFailed != 1 {
		t.Errorf("completed/failed = %d/%d, want 1/1", exec.ActionsCompleted, exec.ActionsFailed)
	}
}

func TestEngine_RunRule_RecordsMetrics(t *testing.T) {
	engine, _, metrics, repo := setupEngine(t)
	ctx := context.Background()

	createTestRule(t, repo, engine.registry, "metered", "Metered Rule", cronTrigger("0 7 * * *"), []Action{
		{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true},
	})

	if _, err := engine.RunRule(ctx, "metered"); err != nil {
		t.Fatalf("RunRule: %v", err)
	}

	firings := metrics.getFirings()
	if len(firings) != 1 {
		t.Fatalf("expected 1 recorded firing, got %d", len(firings))
	}
	if firings[0].RuleID != "metered" || firings[0].Status != string(StatusCompleted) {
		t.Errorf("unexpected firing record: %+v", firings[0])
	}
}

// ─── Arming ─────────────────────────────────────────────────────────────────

func TestEngine_ArmRule_AtTriggerFires(t *testing.T) {
	engine, mqtt, _, repo := setupEngine(t)
	ctx := context.Background()

	at := time.Now().Add(40 * time.Millisecond)
	createTestRule(t, repo, engine.registry, "bedtime", "Bedtime", atTrigger(at), []Action{
		{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true},
	})

	if err := engine.ArmRule(ctx, "bedtime"); err != nil {
		t.Fatalf("ArmRule: %v", err)
	}
	if !engine.IsArmed("bedtime") {
		t.Error("IsArmed() = false after arming")
	}

	waitUntil(t, 2*time.Second, func() bool { return mqtt.commandCount() == 1 }, "at trigger to fire")

	// One-shot: the rule disarms itself after firing.
	waitUntil(t, time.Second, func() bool { return !engine.IsArmed("bedtime") }, "rule to disarm after firing")

	msgs := mqtt.commandMessages()
	if msgs[0].Payload["source"] != "rule:bedtime" {
		t.Errorf("source = %v, want %q", msgs[0].Payload["source"], "rule:bedtime")
	}
}

func TestEngine_ArmRule_AfterTriggerFires(t *testing.T) {
	engine, mqtt, _, repo := setupEngine(t)
	ctx := context.Background()

	createTestRule(t, repo, engine.registry, "delayed", "Delayed Rule",
		Trigger{Type: TriggerAfter, AfterMS: 40},
		[]Action{{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true}},
	)

	if err := engine.ArmRule(ctx, "delayed"); err != nil {
		t.Fatalf("ArmRule: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return mqtt.commandCount() == 1 }, "after trigger to fire")
	waitUntil(t, time.Second, func() bool { return !engine.IsArmed("delayed") }, "rule to disarm after firing")
}

func TestEngine_ArmRule_CronTriggerRepeats(t *testing.T) {
	engine, mqtt, _, repo := setupEngine(t)
	ctx := context.Background()

	// Six-field spec: every second.
	createTestRule(t, repo, engine.registry, "heartbeat", "Heartbeat", cronTrigger("* * * * * *"), []Action{
		{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true},
	})

	if err := engine.ArmRule(ctx, "heartbeat"); err != nil {
		t.Fatalf("ArmRule: %v", err)
	}

	waitUntil(t, 5*time.Second, func() bool { return mqtt.commandCount() >= 2 }, "cron trigger to fire twice")

	// Cron triggers stay armed until explicitly disarmed.
	if !engine.IsArmed("heartbeat") {
		t.Error("cron rule disarmed itself")
	}

	if !engine.DisarmRule("heartbeat") {
		t.Error("DisarmRule() = false for an armed rule")
	}
	settled := mqtt.commandCount()
	time.Sleep(1500 * time.Millisecond)
	if got := mqtt.commandCount(); got > settled+1 {
		// +1 allows a firing already in flight when DisarmRule ran.
		t.Errorf("messages = %d after disarm, want at most %d", got, settled+1)
	}
}

func TestEngine_ArmRule_Errors(t *testing.T) {
	engine, _, _, repo := setupEngine(t)
	ctx := context.Background()

	createTestRule(t, repo, engine.registry, "armed", "Armed Rule", atTrigger(time.Now().Add(time.Hour)), []Action{
		{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true},
	})
	repo.rules["disabled"] = &Rule{
		ID: "disabled", Name: "Disabled Rule", Slug: "disabled-arm", Enabled: false,
		Trigger: cronTrigger("0 7 * * *"),
		Actions: []Action{{DeviceID: "light-01", Protocol: "knx", Command: "set"}},
	}
	repo.rules["badcron"] = &Rule{
		ID: "badcron", Name: "Bad Cron", Slug: "bad-cron", Enabled: true,
		Trigger: cronTrigger("not a cron"),
		Actions: []Action{{DeviceID: "light-01", Protocol: "knx", Command: "set"}},
	}
	if err := engine.registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	if err := engine.ArmRule(ctx, "nonexistent"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("ArmRule(nonexistent) = %v, want ErrRuleNotFound", err)
	}
	if err := engine.ArmRule(ctx, "disabled"); !errors.Is(err, ErrRuleDisabled) {
		t.Errorf("ArmRule(disabled) = %v, want ErrRuleDisabled", err)
	}
	if err := engine.ArmRule(ctx, "badcron"); !errors.Is(err, scheduler.ErrInvalidCron) {
		t.Errorf("ArmRule(badcron) = %v, want ErrInvalidCron", err)
	}

	if err := engine.ArmRule(ctx, "armed"); err != nil {
		t.Fatalf("ArmRule: %v", err)
	}
	if err := engine.ArmRule(ctx, "armed"); !errors.Is(err, ErrRuleArmed) {
		t.Errorf("second ArmRule = %v, want ErrRuleArmed", err)
	}
}

func TestEngine_RuleState(t *testing.T) {
	engine, _, _, repo := setupEngine(t)
	ctx := context.Background()

	if got := engine.RuleState("unknown"); got != "idle" {
		t.Errorf("RuleState(unknown) = %q, want %q", got, "idle")
	}

	// Slow action so the running state is observable.
	createTestRule(t, repo, engine.registry, "stately", "Stately Rule",
		Trigger{Type: TriggerAfter, AfterMS: 30},
		[]Action{{DeviceID: "light-01", Protocol: "knx", Command: "set", DelayMS: 300, ContinueOnError: true}},
	)

	if err := engine.ArmRule(ctx, "stately"); err != nil {
		t.Fatalf("ArmRule: %v", err)
	}
	if got := engine.RuleState("stately"); got != "armed" {
		t.Errorf("RuleState after arming = %q, want %q", got, "armed")
	}

	waitUntil(t, 2*time.Second, func() bool { return engine.RuleState("stately") == "running" }, "rule to start running")

	// One-shot trigger: back to idle once the firing completes.
	waitUntil(t, 2*time.Second, func() bool { return engine.RuleState("stately") == "idle" }, "rule to return to idle")
}

func TestEngine_DisarmRule_PreventsFiring(t *testing.T) {
	engine, mqtt, _, repo := setupEngine(t)
	ctx := context.Background()

	createTestRule(t, repo, engine.registry, "cancelled", "Cancelled Rule",
		Trigger{Type: TriggerAfter, AfterMS: 100},
		[]Action{{DeviceID: "light-01", Protocol: "knx", Command: "set", ContinueOnError: true}},
	)

	if err := engine.ArmRule(ctx, "cancelled"); err != nil {
		t.Fatalf("ArmRule: %v", err)
	}
	if !engine.DisarmRule("cancelled") {
		t.Error("DisarmRule() = false for an armed rule")
	}
	if engine.DisarmRule("cancelled") {
		t.Error("second DisarmRule() = true, want false")
	}

	time.Sleep(250 * time.Millisecond)
	if mqtt.commandCount() != 0 {
		t.Error("disarmed rule fired")
	}
}

func TestEngine_ArmEnabled(t *testing.T) {
	engine, _, _, repo := setupEngine(t)
	ctx := context.Background()

	repo.rules["r1"] = &Rule{
		ID: "r1", Name: "Enabled One", Slug: "enabled-one", Enabled: true,
		Trigger: atTrigger(time.Now().Add(time.Hour)),
		Actions: []Action{{DeviceID: "light-01", Protocol: "knx", Command: "set"}},
	}
	repo.rules["r2"] = &Rule{
		ID: "r2", Name: "Enabled Two", Slug: "enabled-two", Enabled: true,
		Trigger: cronTrigger("0 7 * * *"),
		Actions: []Action{{DeviceID: "light-02", Protocol: "knx", Command: "set"}},
	}
	repo.rules["r3"] = &Rule{
		ID: "r3", Name: "Disabled", Slug: "disabled-three", Enabled: false,
		Trigger: cronTrigger("0 8 * * *"),
		Actions: []Action{{DeviceID: "light-03", Protocol: "knx", Command: "set"}},
	}
	if err := engine.registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	if err := engine.ArmEnabled(ctx); err != nil {
		t.Fatalf("ArmEnabled: %v", err)
	}

	if got := engine.ArmedCount(); got != 2 {
		t.Errorf("ArmedCount() = %d, want 2", got)
	}
	if engine.IsArmed("r3") {
		t.Error("disabled rule was armed")
	}

	engine.DisarmAll()
	if got := engine.ArmedCount(); got != 0 {
		t.Errorf("ArmedCount() after DisarmAll = %d, want 0", got)
	}
}
