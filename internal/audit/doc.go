// Package audit records controller lifecycle events and control-plane
// writes in the audit_logs table.
//
// Writers never block on SQLite: a Recorder queues entries on a bounded
// channel and a single goroutine drains them into the Repository. When the
// queue is full the entry is dropped and a warning logged.
package audit
