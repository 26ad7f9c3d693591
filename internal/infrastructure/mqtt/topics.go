package mqtt

import "fmt"

// Topic prefixes for the Hearth MQTT hierarchy.
//
// All bridge topics use the flat scheme: hearth/{category}/{protocol}/{address}
// Protocol bridges subscribe to their command topics and publish acks and
// health on the matching topics.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	// Flat scheme: hearth/{category}/{protocol}/{address_or_id}
	TopicPrefixBridge = "hearth"

	// TopicPrefixCore is the base for all core topics.
	TopicPrefixCore = "hearth/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.BridgeCommand("knx", "light-living-main")
//	// Returns: "hearth/command/knx/light-living-main"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: hearth/command/knx/light-living-main
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: hearth/ack/knx/light-living-main
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: hearth/health/knx
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// =============================================================================
// Core Topics
// =============================================================================

// CoreRuleFired returns the topic for rule firing events.
//
// Example: hearth/core/rule/morning-lights/fired
func (Topics) CoreRuleFired(ruleID string) string {
	return fmt.Sprintf("%s/rule/%s/fired", TopicPrefixCore, ruleID)
}

// CoreRuleArmed returns the topic for rule arming events.
//
// Example: hearth/core/rule/morning-lights/armed
func (Topics) CoreRuleArmed(ruleID string) string {
	return fmt.Sprintf("%s/rule/%s/armed", TopicPrefixCore, ruleID)
}

// CoreEvent returns the topic for system events.
//
// Example: hearth/core/event/rule_fired
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
// Used for the online/offline LWT announcements.
//
// Example: hearth/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: hearth/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllBridgeCommands returns a pattern matching all commands to bridges.
//
// Pattern: hearth/command/+/+
func (Topics) AllBridgeCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefixBridge)
}

// AllBridgeAcks returns a pattern matching all bridge acknowledgements.
//
// Pattern: hearth/ack/+/+
func (Topics) AllBridgeAcks() string {
	return fmt.Sprintf("%s/ack/+/+", TopicPrefixBridge)
}

// AllBridgeHealth returns a pattern matching all bridge health updates.
//
// Pattern: hearth/health/+
func (Topics) AllBridgeHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefixBridge)
}

// AllCoreEvents returns a pattern matching all core events.
//
// Pattern: hearth/core/event/+
func (Topics) AllCoreEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}

// AllTopics returns a pattern matching all Hearth topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: hearth/#
func (Topics) AllTopics() string {
	return "hearth/#"
}
