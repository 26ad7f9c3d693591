package rules

import "errors"

// Domain errors for the rules package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, rules.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when creating a rule with an ID that already exists.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrRuleDisabled is returned when attempting to arm or run a disabled rule.
	ErrRuleDisabled = errors.New("rule: disabled")

	// ErrRuleArmed is returned when arming a rule that is already armed.
	ErrRuleArmed = errors.New("rule: already armed")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidTrigger is returned when a rule's trigger is invalid.
	ErrInvalidTrigger = errors.New("rule: invalid trigger")

	// ErrInvalidAction is returned when a rule action is invalid.
	ErrInvalidAction = errors.New("rule: invalid action")

	// ErrInvalidName is returned when a rule name is empty or too long.
	ErrInvalidName = errors.New("rule: invalid name")

	// ErrInvalidSlug is returned when a slug format is invalid.
	ErrInvalidSlug = errors.New("rule: invalid slug")

	// ErrNoActions is returned when a rule has no actions defined.
	ErrNoActions = errors.New("rule: no actions")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("rule: execution not found")

	// ErrMQTTUnavailable is returned when MQTT is not connected.
	ErrMQTTUnavailable = errors.New("rule: MQTT unavailable")
)
