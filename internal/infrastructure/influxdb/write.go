package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordRuleFiring writes a rule firing outcome to InfluxDB.
//
// One point is recorded per completed firing, tagged by rule and final
// status so dashboards can break down success/partial/failed rates.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - ruleID: Identifier of the rule that fired
//   - status: Final execution status (e.g., "completed", "partial", "failed")
//   - duration: Wall-clock time from firing to completion
//
// Example:
//
//	client.RecordRuleFiring("goodnight", "completed", 230*time.Millisecond)
func (c *Client) RecordRuleFiring(ruleID string, status string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"rule_firings",
		map[string]string{
			"rule_id": ruleID,
			"status":  status,
		},
		map[string]interface{}{
			"duration_ms": float64(duration.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSchedulerStats writes a scheduler state snapshot.
//
// Used for tracking queue pressure over time. Typically called on a
// periodic ticker from the main loop.
//
// Parameters:
//   - pendingTasks: Number of tasks waiting in the scheduler queue
//   - armedRules: Number of rules currently armed on the scheduler
func (c *Client) WriteSchedulerStats(pendingTasks int, armedRules int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"scheduler_stats",
		nil,
		map[string]interface{}{
			"pending_tasks": pendingTasks,
			"armed_rules":   armedRules,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandMetric writes a device command dispatch measurement.
//
// Records each MQTT command published to a protocol bridge so command
// volume per device can be charted.
//
// Parameters:
//   - deviceID: Target device identifier
//   - protocol: Bridge protocol the command was routed to (e.g., "knx")
//   - command: Command name (e.g., "on", "set_level")
func (c *Client) WriteCommandMetric(deviceID string, protocol string, command string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"commands",
		map[string]string{
			"device_id": deviceID,
			"protocol":  protocol,
			"command":   command,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
