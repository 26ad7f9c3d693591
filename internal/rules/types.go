package rules

import "time"

// TriggerType identifies how a rule's firing time is expressed.
type TriggerType string

const (
	// TriggerAt fires once at a fixed wall-clock instant.
	TriggerAt TriggerType = "at"

	// TriggerAfter fires once after a delay from arming.
	TriggerAfter TriggerType = "after"

	// TriggerCron fires repeatedly on a cron expression.
	TriggerCron TriggerType = "cron"
)

// Trigger defines when an armed rule fires.
//
// Exactly one of At, AfterMS, or Cron is consulted, selected by Type.
// At and After triggers are one-shot: after firing the rule disarms and
// stays disarmed until re-armed. Cron triggers repeat until disarmed.
type Trigger struct {
	Type TriggerType `json:"type"`

	// Fixed instant (type "at"). An instant already in the past fires
	// immediately on arming.
	At *time.Time `json:"at,omitempty"`

	// Delay from arming in milliseconds (type "after").
	AfterMS int64 `json:"after_ms,omitempty"`

	// Cron expression (type "cron"). Five fields, optional leading
	// seconds field, or an @-descriptor.
	Cron string `json:"cron,omitempty"`

	// IANA timezone for cron evaluation (type "cron", optional).
	// Empty means the host's local timezone.
	Timezone string `json:"timezone,omitempty"`
}

// Rule binds a time trigger to an ordered collection of device commands.
// Actions execute in parallel or sequentially based on the Parallel flag,
// with optional per-action delays.
type Rule struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`

	// Description (optional)
	Description *string `json:"description,omitempty"`

	// Configuration
	Enabled bool    `json:"enabled"`
	Trigger Trigger `json:"trigger"`

	// Actions to execute (ordered)
	Actions []Action `json:"actions"`

	// Sort order for listing
	SortOrder int `json:"sort_order"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action defines a single device command within a rule.
//
// Actions are executed in sort order. When Parallel is true, the action
// runs concurrently with the previous action's group. When false, it
// starts a new sequential group.
type Action struct {
	// Target device
	DeviceID string `json:"device_id"`

	// Protocol bridge that owns the device (e.g., "zigbee", "knx").
	// Used as the routing key in the MQTT command topic.
	Protocol string `json:"protocol"`

	// Command to execute (e.g., "set", "dim", "position")
	Command string `json:"command"`

	// Command parameters (protocol-specific)
	Parameters map[string]any `json:"parameters,omitempty"`

	// Delay before executing (milliseconds, default 0)
	DelayMS int `json:"delay_ms"`

	// When true, runs concurrently with previous action
	Parallel bool `json:"parallel"`

	// When true, the rule continues even if this action fails (default false: fail-fast)
	ContinueOnError bool `json:"continue_on_error"`

	// Execution order within the rule
	SortOrder int `json:"sort_order"`
}

// RuleExecution tracks a single firing of a rule.
type RuleExecution struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"rule_id"`
	FiredAt     time.Time       `json:"fired_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	TriggerType string          `json:"trigger_type"` // at, after, cron, manual
	Status      ExecutionStatus `json:"status"`

	// Action counts
	ActionsTotal     int `json:"actions_total"`
	ActionsCompleted int `json:"actions_completed"`
	ActionsFailed    int `json:"actions_failed"`
	ActionsSkipped   int `json:"actions_skipped"`

	// Failure details (populated when actions fail)
	Failures []ActionFailure `json:"failures,omitempty"`

	// Total execution duration in milliseconds
	DurationMS *int `json:"duration_ms,omitempty"`
}

// ActionFailure records details of a failed action within an execution.
type ActionFailure struct {
	ActionIndex int    `json:"action_index"`
	DeviceID    string `json:"device_id"`
	Command     string `json:"command"`
	ErrorCode   string `json:"error_code"`
	ErrorMsg    string `json:"error_message"`
}

// ExecutionStatus represents the state of a rule execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusPartial   ExecutionStatus = "partial"   // Some actions failed, but the rule continued
	StatusFailed    ExecutionStatus = "failed"    // Critical action failed, rule aborted
	StatusCancelled ExecutionStatus = "cancelled" // Context cancelled mid-execution
)

// DeepCopy creates a complete independent copy of the Rule.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}

	cpy := *r // Shallow copy of value fields

	cpy.Description = cloneStringPtr(r.Description)
	cpy.Trigger.At = cloneTimePtr(r.Trigger.At)

	// Deep copy Actions slice (each action's Parameters map needs cloning)
	if r.Actions != nil {
		cpy.Actions = make([]Action, len(r.Actions))
		for i, action := range r.Actions {
			cpy.Actions[i] = action
			if action.Parameters != nil {
				cpy.Actions[i].Parameters = deepCopyMap(action.Parameters)
			}
		}
	}

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v // Primitives are immutable
	}
}

// cloneStringPtr creates an independent copy of a *string.
func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// cloneTimePtr creates an independent copy of a *time.Time.
func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
