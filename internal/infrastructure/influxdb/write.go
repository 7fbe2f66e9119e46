package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSessionStats writes a snapshot of one session's counters.
//
// This is the primary method for recording bridging telemetry. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - device: Hardware device identifier (e.g., "011121:1")
//   - state: Current session state (e.g., "running", "failed")
//   - softFaults: Cumulative count of missed response deadlines
//   - droppedFrames: Cumulative count of frames dropped by the queue
//
// Example:
//
//	client.WriteSessionStats("011121:1", "running", 3, 0)
func (c *Client) WriteSessionStats(device, state string, softFaults, droppedFrames uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session_stats",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"state":          state,
			"soft_faults":    int64(softFaults), //nolint:gosec // counters never approach int64 range
			"dropped_frames": int64(droppedFrames), //nolint:gosec // counters never approach int64 range
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHealthWarning records a schedule health warning for a session.
//
// Parameters:
//   - device: Hardware device identifier
//   - entry: The schedule entry that missed its response deadline
//   - faults: Consecutive soft fault count when the warning fired
func (c *Client) WriteHealthWarning(device, entry string, faults int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"health_warnings",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"entry":              entry,
			"consecutive_faults": int64(faults),
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
//	    map[string]string{"host": "bridge-01"},
//	    map[string]interface{}{"sessions": 2, "goroutines": 37})
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
