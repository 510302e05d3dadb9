// Package notify fans controller lifecycle events out to the daemon's
// side channels.
//
// A Dispatcher is registered as an spi.Observer and forwards every event to
// its sinks:
//
//   - AuditSink queues an audit trail entry
//   - MQTTSink publishes retained device/controller state and event topics
//   - MetricsSink writes occupancy and event points to InfluxDB
//   - BroadcastSink pushes the event to WebSocket subscribers
//
// Sinks run synchronously on the goroutine that completed the change, with
// no plugin lock held. A failing or panicking sink is logged and skipped.
package notify
